package engine

import (
	"context"
	"sort"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
	"github.com/openjobspec/ojs-retry-engine/internal/metrics"
)

// operationStore holds operations and the idempotency index. Guarded by Engine.mu.
type operationStore struct {
	ops   map[string]*core.RetryOperation
	order []string
	// idempotency maps tenant + key to the operation currently holding the key.
	idempotency map[string]string
}

func newOperationStore() *operationStore {
	return &operationStore{
		ops:         make(map[string]*core.RetryOperation),
		idempotency: make(map[string]string),
	}
}

func idempotencyIndexKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

func (s *operationStore) get(id string) (*core.RetryOperation, bool) {
	op, ok := s.ops[id]
	return op, ok
}

func (s *operationStore) insert(op *core.RetryOperation) {
	s.ops[op.ID] = op
	s.order = append(s.order, op.ID)
	if op.IdempotencyKey != "" {
		s.idempotency[idempotencyIndexKey(op.TenantID, op.IdempotencyKey)] = op.ID
	}
}

// lookupKey returns the live operation holding (tenant, key), if any.
func (s *operationStore) lookupKey(tenantID, key string) (*core.RetryOperation, bool) {
	id, ok := s.idempotency[idempotencyIndexKey(tenantID, key)]
	if !ok {
		return nil, false
	}
	op, ok := s.ops[id]
	if !ok || !core.HoldsIdempotencyKey(op.Status) {
		return nil, false
	}
	return op, true
}

// releaseKey drops the index entry if it still points at op.
func (s *operationStore) releaseKey(op *core.RetryOperation) {
	if op.IdempotencyKey == "" {
		return
	}
	k := idempotencyIndexKey(op.TenantID, op.IdempotencyKey)
	if s.idempotency[k] == op.ID {
		delete(s.idempotency, k)
	}
}

// reindexKey points the index at op unless another live operation holds the key.
func (s *operationStore) reindexKey(op *core.RetryOperation) {
	if op.IdempotencyKey == "" {
		return
	}
	if holder, ok := s.lookupKey(op.TenantID, op.IdempotencyKey); ok && holder.ID != op.ID {
		return
	}
	s.idempotency[idempotencyIndexKey(op.TenantID, op.IdempotencyKey)] = op.ID
}

// Enqueue creates a pending operation, or returns the live operation already
// holding the same (tenant, idempotency key).
func (e *Engine) Enqueue(ctx context.Context, req *core.EnqueueRequest) (*core.RetryOperation, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("An enqueue request is required.", nil)
	}
	if err := core.ValidateEnqueueRequest(req); err != nil {
		return nil, err
	}
	policy, ok := e.policies.get(req.PolicyID)
	if !ok {
		return nil, core.NewNotFoundError("Policy", req.PolicyID)
	}
	if policy.IdempotencyKeyRequired && req.IdempotencyKey == "" {
		return nil, core.NewValidationError(
			"Policy requires an idempotency key.",
			map[string]any{"field": "idempotency_key", "policy_id": policy.ID},
		)
	}

	opType := req.OperationType
	if opType == "" {
		opType = policy.OperationType
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.IdempotencyKey != "" {
		if existing, ok := e.ops.lookupKey(req.TenantID, req.IdempotencyKey); ok {
			metrics.IdempotentHits.WithLabelValues(existing.OperationType).Inc()
			e.logger.Debug("idempotent enqueue", "operation_id", existing.ID, "tenant_id", req.TenantID)
			hit := existing.Clone()
			hit.IsExisting = true
			return hit, nil
		}
	}

	now := e.now()
	op := &core.RetryOperation{
		ID:             core.NewID(),
		PolicyID:       policy.ID,
		TenantID:       req.TenantID,
		OperationType:  opType,
		IdempotencyKey: req.IdempotencyKey,
		MaxAttempts:    policy.MaxAttempts,
		Status:         core.StatusPending,
		StartedAt:      now,
	}
	if len(req.Payload) > 0 {
		op.Payload = append(op.Payload, req.Payload...)
	}
	if len(req.Metadata) > 0 {
		op.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			op.Metadata[k] = v
		}
	}
	e.ops.insert(op)

	metrics.OperationsEnqueued.WithLabelValues(opType).Inc()
	e.transition(op, "", now)
	e.logger.Debug("operation enqueued", "operation_id", op.ID, "policy_id", op.PolicyID, "tenant_id", op.TenantID)
	return op.Clone(), nil
}

// GetOperation returns an operation by id.
func (e *Engine) GetOperation(ctx context.Context, operationID string) (*core.RetryOperation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	op, ok := e.ops.get(operationID)
	if !ok {
		return nil, core.NewNotFoundError("Operation", operationID)
	}
	return op.Clone(), nil
}

// ClaimDue moves up to limit due operations to in_flight and returns them,
// earliest due first. Pending operations are due immediately; retrying
// operations are due once nextRetryAt has passed.
func (e *Engine) ClaimDue(ctx context.Context, limit int) ([]*core.RetryOperation, error) {
	if limit <= 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	type candidate struct {
		op  *core.RetryOperation
		due time.Time
	}
	var due []candidate
	for _, id := range e.ops.order {
		op := e.ops.ops[id]
		switch op.Status {
		case core.StatusPending:
			due = append(due, candidate{op: op, due: op.StartedAt})
		case core.StatusRetrying:
			if op.NextRetryAt != nil && !op.NextRetryAt.After(now) {
				due = append(due, candidate{op: op, due: *op.NextRetryAt})
			}
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*core.RetryOperation, 0, len(due))
	for _, c := range due {
		from := c.op.Status
		c.op.Status = core.StatusInFlight
		c.op.NextRetryAt = nil
		e.transition(c.op, from, now)
		out = append(out, c.op.Clone())
	}
	return out, nil
}

// ListOperations returns operations in enqueue order. A positive Limit keeps
// the most recent matches.
func (e *Engine) ListOperations(ctx context.Context, filter core.OperationFilter) ([]*core.RetryOperation, error) {
	if filter.Status != "" && !core.IsValidStatus(filter.Status) {
		return nil, core.NewInvalidRequestError(
			"Unknown operation status.",
			map[string]any{"status": filter.Status},
		)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*core.RetryOperation
	for _, id := range e.ops.order {
		op := e.ops.ops[id]
		if filter.PolicyID != "" && op.PolicyID != filter.PolicyID {
			continue
		}
		if filter.TenantID != "" && op.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && op.Status != filter.Status {
			continue
		}
		out = append(out, op.Clone())
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	if out == nil {
		out = []*core.RetryOperation{}
	}
	return out, nil
}

// ListAttempts returns retained attempt records oldest first. A positive
// Limit keeps the most recent matches.
func (e *Engine) ListAttempts(ctx context.Context, filter core.AttemptFilter) ([]*core.RetryAttempt, error) {
	var out []*core.RetryAttempt
	e.attempts.Reverse(func(a *core.RetryAttempt) bool {
		if filter.OperationID != "" && a.OperationID != filter.OperationID {
			return true
		}
		if filter.PolicyID != "" && a.PolicyID != filter.PolicyID {
			return true
		}
		if filter.TenantID != "" && a.TenantID != filter.TenantID {
			return true
		}
		c := *a
		out = append(out, &c)
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []*core.RetryAttempt{}
	}
	return out, nil
}
