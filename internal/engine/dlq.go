package engine

import (
	"context"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
	"github.com/openjobspec/ojs-retry-engine/internal/metrics"
)

// dlqStore holds dead letter entries, at most one per operation. Guarded by Engine.mu.
type dlqStore struct {
	entries     map[string]*core.DlqEntry
	byOperation map[string]string
	order       []string
	// version increments on every write so archivers can detect changes.
	version map[string]uint64
}

func newDlqStore() *dlqStore {
	return &dlqStore{
		entries:     make(map[string]*core.DlqEntry),
		byOperation: make(map[string]string),
		version:     make(map[string]uint64),
	}
}

// put inserts an entry for op, or refreshes the existing one after a requeue.
func (s *dlqStore) put(op *core.RetryOperation, now time.Time) (*core.DlqEntry, bool) {
	if id, ok := s.byOperation[op.ID]; ok {
		entry := s.entries[id]
		entry.ErrorMessage = op.LastError
		entry.TotalAttempts = op.AttemptNumber
		entry.EnqueuedAt = now
		entry.ProcessedAt = nil
		entry.Requeued = false
		if len(op.Payload) > 0 {
			entry.Payload = append(entry.Payload[:0:0], op.Payload...)
		}
		s.version[id]++
		return entry, false
	}

	entry := &core.DlqEntry{
		ID:            core.NewID(),
		OperationID:   op.ID,
		TenantID:      op.TenantID,
		OperationType: op.OperationType,
		ErrorMessage:  op.LastError,
		TotalAttempts: op.AttemptNumber,
		EnqueuedAt:    now,
	}
	if len(op.Payload) > 0 {
		entry.Payload = append(entry.Payload, op.Payload...)
	}
	s.entries[entry.ID] = entry
	s.byOperation[op.ID] = entry.ID
	s.order = append(s.order, entry.ID)
	s.version[entry.ID] = 1
	return entry, true
}

func (s *dlqStore) get(id string) (*core.DlqEntry, bool) {
	entry, ok := s.entries[id]
	return entry, ok
}

// deadLetter records op in the DLQ. Called with e.mu held.
func (e *Engine) deadLetter(op *core.RetryOperation, now time.Time) {
	entry, created := e.dlq.put(op, now)
	metrics.DeadLettered.WithLabelValues(op.OperationType).Inc()
	e.logger.Info("operation moved to dead letter queue",
		"operation_id", op.ID,
		"dlq_id", entry.ID,
		"tenant_id", op.TenantID,
		"attempts", op.AttemptNumber,
		"refreshed", !created,
	)
	e.followup(&core.OperationEvent{
		EventType:     core.EventDeadLettered,
		OperationID:   op.ID,
		PolicyID:      op.PolicyID,
		TenantID:      op.TenantID,
		OperationType: op.OperationType,
		To:            op.Status,
		Attempt:       op.AttemptNumber,
		Message:       op.LastError,
		Timestamp:     core.FormatTime(now),
	})
}

// RequeueDlqEntry resets the dead-lettered operation to pending with a fresh
// attempt count. The entry is kept for audit and marked requeued.
func (e *Engine) RequeueDlqEntry(ctx context.Context, dlqID string) (*core.RetryOperation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.dlq.get(dlqID)
	if !ok {
		return nil, core.NewNotFoundError("Dead letter entry", dlqID)
	}
	op, ok := e.ops.get(entry.OperationID)
	if !ok {
		return nil, core.NewNotFoundError("Operation", entry.OperationID)
	}
	if op.Status == core.StatusSucceeded {
		return nil, core.NewConflictError(
			"Operation has already succeeded.",
			map[string]any{"operation_id": op.ID, "dlq_id": dlqID},
		)
	}
	if policy, ok := e.policies.get(op.PolicyID); ok && policy.DLQMaxRetries > 0 && entry.RequeueCount >= policy.DLQMaxRetries {
		return nil, core.NewConflictError(
			"Dead letter entry reached its requeue limit.",
			map[string]any{"dlq_id": dlqID, "requeue_count": entry.RequeueCount, "dlq_max_retries": policy.DLQMaxRetries},
		)
	}

	now := e.now()
	from := op.Status
	op.Status = core.StatusPending
	op.AttemptNumber = 0
	op.NextRetryAt = nil
	op.CompletedAt = nil
	e.ops.reindexKey(op)

	entry.Requeued = true
	entry.RequeueCount++
	entry.ProcessedAt = &now
	e.dlq.version[entry.ID]++

	metrics.Requeued.Inc()
	e.logger.Info("dead letter entry requeued",
		"dlq_id", entry.ID, "operation_id", op.ID, "requeue_count", entry.RequeueCount)
	e.transition(op, from, now)
	return op.Clone(), nil
}

// ListDlq returns dead letter entries in insertion order. Requeued entries are
// omitted unless IncludeRequeued is set. A positive Limit keeps the most recent.
func (e *Engine) ListDlq(ctx context.Context, filter core.DlqFilter) ([]*core.DlqEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := []*core.DlqEntry{}
	for _, id := range e.dlq.order {
		entry := e.dlq.entries[id]
		if filter.TenantID != "" && entry.TenantID != filter.TenantID {
			continue
		}
		if entry.Requeued && !filter.IncludeRequeued {
			continue
		}
		out = append(out, entry.Clone())
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// DlqChange is a dead letter entry together with its write version.
type DlqChange struct {
	Entry   *core.DlqEntry
	Version uint64
}

// DlqChangesSince returns entries whose version differs from the one recorded
// in seen. Archivers pass back the versions they have persisted.
func (e *Engine) DlqChangesSince(seen map[string]uint64) []DlqChange {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []DlqChange
	for _, id := range e.dlq.order {
		v := e.dlq.version[id]
		if seen[id] == v {
			continue
		}
		out = append(out, DlqChange{Entry: e.dlq.entries[id].Clone(), Version: v})
	}
	return out
}
