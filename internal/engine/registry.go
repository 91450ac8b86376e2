package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// policyRegistry stores retry policies keyed by id.
type policyRegistry struct {
	mu       sync.RWMutex
	policies map[string]*core.RetryPolicy
}

func newPolicyRegistry() *policyRegistry {
	return &policyRegistry{policies: make(map[string]*core.RetryPolicy)}
}

// get returns a copy of the policy so callers may read it without holding the lock.
func (r *policyRegistry) get(id string) (*core.RetryPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (r *policyRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.policies)
}

// CreatePolicy validates and stores a new policy, assigning its id and timestamps.
func (e *Engine) CreatePolicy(ctx context.Context, policy *core.RetryPolicy) (*core.RetryPolicy, error) {
	if policy == nil {
		return nil, core.NewInvalidRequestError("A retry policy is required.", nil)
	}
	p := policy.Clone()
	p.ApplyDefaults()
	if err := core.ValidatePolicy(p); err != nil {
		return nil, err
	}

	now := e.now()
	p.ID = core.NewID()
	p.CreatedAt = now
	p.UpdatedAt = now

	e.policies.mu.Lock()
	e.policies.policies[p.ID] = p
	e.policies.mu.Unlock()

	e.logger.Info("retry policy created", "policy_id", p.ID, "tenant_id", p.TenantID,
		"operation_type", p.OperationType, "strategy", p.Strategy)
	return p.Clone(), nil
}

// UpdatePolicy merges a partial update into an existing policy. Operations
// already enqueued keep their maxAttempts snapshot.
func (e *Engine) UpdatePolicy(ctx context.Context, id string, update *core.PolicyUpdate) (*core.RetryPolicy, error) {
	if update == nil {
		return nil, core.NewInvalidRequestError("A policy update is required.", nil)
	}

	e.policies.mu.Lock()
	defer e.policies.mu.Unlock()

	current, ok := e.policies.policies[id]
	if !ok {
		return nil, core.NewNotFoundError("Policy", id)
	}
	next := current.Clone()
	update.Apply(next)
	next.ApplyDefaults()
	if err := core.ValidatePolicy(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = e.now()
	e.policies.policies[id] = next

	e.logger.Info("retry policy updated", "policy_id", id)
	return next.Clone(), nil
}

// GetPolicy returns a policy by id.
func (e *Engine) GetPolicy(ctx context.Context, id string) (*core.RetryPolicy, error) {
	p, ok := e.policies.get(id)
	if !ok {
		return nil, core.NewNotFoundError("Policy", id)
	}
	return p, nil
}

// ListPolicies returns policies ordered by creation time, optionally filtered by tenant.
func (e *Engine) ListPolicies(ctx context.Context, tenantID string) ([]*core.RetryPolicy, error) {
	e.policies.mu.RLock()
	out := make([]*core.RetryPolicy, 0, len(e.policies.policies))
	for _, p := range e.policies.policies {
		if tenantID != "" && p.TenantID != tenantID {
			continue
		}
		out = append(out, p.Clone())
	}
	e.policies.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
