package engine

import (
	"context"
	"sort"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// GetAnalytics aggregates outcome counts and rates over a policy's
// operations, optionally narrowed to one tenant.
func (e *Engine) GetAnalytics(ctx context.Context, policyID, tenantID string) (*core.RetryAnalytics, error) {
	if _, ok := e.policies.get(policyID); !ok {
		return nil, core.NewNotFoundError("Policy", policyID)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	a := &core.RetryAnalytics{PolicyID: policyID, TenantID: tenantID}
	var attempts, delay int64
	retried := 0
	for _, id := range e.ops.order {
		op := e.ops.ops[id]
		if op.PolicyID != policyID || (tenantID != "" && op.TenantID != tenantID) {
			continue
		}
		a.TotalOperations++
		attempts += int64(op.AttemptNumber)
		delay += op.TotalDelayMs
		if op.AttemptNumber > 1 {
			retried++
		}
		switch op.Status {
		case core.StatusSucceeded:
			if op.AttemptNumber <= 1 {
				a.FirstAttemptSuccess++
			} else {
				a.RetrySuccess++
			}
		case core.StatusFailed, core.StatusAbandoned:
			a.Failed++
		case core.StatusDLQ:
			a.DLQ++
		default:
			a.InProgress++
		}
	}

	if n := a.TotalOperations; n > 0 {
		a.AvgAttempts = float64(attempts) / float64(n)
		a.AvgTotalDelayMs = float64(delay) / float64(n)
	}
	a.SuccessRate = core.Percent(a.FirstAttemptSuccess+a.RetrySuccess, a.TotalOperations)
	a.RetryRate = core.Percent(retried, a.TotalOperations)
	a.DLQRate = core.Percent(a.DLQ, a.TotalOperations)
	return a, nil
}

// GetSummary rolls up counts across every policy and reports the storms
// currently active for any (policy, tenant) pair seen among operations.
func (e *Engine) GetSummary(ctx context.Context) (*core.Summary, error) {
	type pair struct{ policyID, tenantID string }

	e.mu.RLock()
	s := &core.Summary{
		TotalOperations:    len(e.ops.ops),
		OperationsByStatus: make(map[string]int),
		DLQEntries:         len(e.dlq.entries),
	}
	succeeded := 0
	seen := make(map[pair]struct{})
	var pairs []pair
	for _, id := range e.ops.order {
		op := e.ops.ops[id]
		s.OperationsByStatus[op.Status]++
		if op.Status == core.StatusSucceeded {
			succeeded++
		}
		p := pair{op.PolicyID, op.TenantID}
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}
	for _, entry := range e.dlq.entries {
		if !entry.Requeued {
			s.PendingDLQEntries++
		}
	}
	e.mu.RUnlock()

	s.TotalPolicies = e.policies.count()
	s.TotalAttempts = e.attempts.Len()
	s.PoisonMessages, s.QuarantinedMessages = e.poison.counts()
	s.SuccessRate = core.Percent(succeeded, s.TotalOperations)

	now := e.now()
	s.ActiveStorms = []core.StormStatus{}
	for _, p := range pairs {
		policy, ok := e.policies.get(p.policyID)
		if !ok {
			continue
		}
		if st := e.storms.status(policy, p.tenantID, now); st.Active {
			s.ActiveStorms = append(s.ActiveStorms, *st)
		}
	}
	sort.Slice(s.ActiveStorms, func(i, j int) bool {
		if s.ActiveStorms[i].PolicyID == s.ActiveStorms[j].PolicyID {
			return s.ActiveStorms[i].TenantID < s.ActiveStorms[j].TenantID
		}
		return s.ActiveStorms[i].PolicyID < s.ActiveStorms[j].PolicyID
	})
	return s, nil
}
