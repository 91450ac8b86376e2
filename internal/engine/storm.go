package engine

import (
	"context"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// stormGuard derives a sliding one-minute attempt rate per (policy, tenant)
// pair from the attempt log.
type stormGuard struct {
	log *AttemptLog
}

// window counts attempts for the pair since now-StormWindowMs. The log is time
// ordered, so the scan stops at the first record older than the window.
func (g *stormGuard) window(policyID, tenantID string, now time.Time) (attempts, throttled int) {
	cutoff := now.Add(-millis(core.StormWindowMs))
	g.log.Reverse(func(a *core.RetryAttempt) bool {
		if a.Timestamp.Before(cutoff) {
			return false
		}
		if a.PolicyID != policyID || a.TenantID != tenantID {
			return true
		}
		attempts++
		if a.Throttled || a.Outcome == core.OutcomeAbandoned {
			throttled++
		}
		return true
	})
	return attempts, throttled
}

// exceeded reports whether one more attempt for the pair reaches the budget.
func (g *stormGuard) exceeded(policy *core.RetryPolicy, tenantID string, now time.Time) bool {
	if !policy.StormGuardEnabled() {
		return false
	}
	n, _ := g.window(policy.ID, tenantID, now)
	return n+1 >= policy.RetryBudgetPerMinute
}

func (g *stormGuard) status(policy *core.RetryPolicy, tenantID string, now time.Time) *core.StormStatus {
	n, throttled := g.window(policy.ID, tenantID, now)
	return &core.StormStatus{
		PolicyID:         policy.ID,
		TenantID:         tenantID,
		WindowMs:         core.StormWindowMs,
		AttemptsInWindow: n,
		Budget:           policy.RetryBudgetPerMinute,
		Active:           policy.StormGuardEnabled() && n >= policy.RetryBudgetPerMinute,
		ThrottledCount:   throttled,
	}
}

// GetStormStatus reports the current retry rate for a policy and tenant.
func (e *Engine) GetStormStatus(ctx context.Context, policyID, tenantID string) (*core.StormStatus, error) {
	policy, ok := e.policies.get(policyID)
	if !ok {
		return nil, core.NewNotFoundError("Policy", policyID)
	}
	return e.storms.status(policy, tenantID, e.now()), nil
}
