package engine

import (
	"context"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
	"github.com/openjobspec/ojs-retry-engine/internal/metrics"
)

const unknownErrorMessage = "unknown error"

// RecordAttemptResult applies an executor's outcome to an operation and
// decides the next step: succeed, retry after a backoff, abandon, or dead
// letter. Exactly one attempt record is appended per call.
func (e *Engine) RecordAttemptResult(ctx context.Context, operationID string, result *core.AttemptResult) (*core.RetryOperation, error) {
	if result == nil {
		return nil, core.NewInvalidRequestError("An attempt result is required.", nil)
	}
	if result.LatencyMs < 0 {
		return nil, core.NewValidationError(
			"latency_ms must not be negative.",
			map[string]any{"field": "latency_ms", "value": result.LatencyMs},
		)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	op, ok := e.ops.get(operationID)
	if !ok {
		return nil, core.NewNotFoundError("Operation", operationID)
	}
	policy, ok := e.policies.get(op.PolicyID)
	if !ok {
		return nil, core.NewNotFoundError("Policy", op.PolicyID)
	}
	if core.IsTerminalStatus(op.Status) {
		return nil, core.NewConflictError(
			"Operation is already in a terminal state.",
			map[string]any{"operation_id": op.ID, "status": op.Status},
		)
	}

	now := e.now()
	from := op.Status
	op.AttemptNumber++
	op.LastAttemptAt = &now

	attempt := &core.RetryAttempt{
		ID:            core.NewID(),
		OperationID:   op.ID,
		PolicyID:      op.PolicyID,
		TenantID:      op.TenantID,
		AttemptNumber: op.AttemptNumber,
		Outcome:       core.OutcomeSucceeded,
		LatencyMs:     result.LatencyMs,
		Timestamp:     now,
	}

	if result.Success {
		e.finish(op, core.StatusSucceeded, now)
	} else {
		e.handleFailure(op, policy, result, attempt, now)
	}

	e.attempts.Append(attempt)
	metrics.AttemptLogSize.Set(float64(e.attempts.Len()))
	metrics.Attempts.WithLabelValues(op.OperationType, attempt.Outcome).Inc()
	metrics.AttemptLatency.WithLabelValues(op.OperationType).Observe(float64(result.LatencyMs) / 1000)

	e.transition(op, from, now)
	return op.Clone(), nil
}

// handleFailure walks the failure path in order: non-retryable codes, poison
// tracking, exhaustion, storm guard, and finally scheduling a retry.
func (e *Engine) handleFailure(op *core.RetryOperation, policy *core.RetryPolicy, result *core.AttemptResult, attempt *core.RetryAttempt, now time.Time) {
	msg, code := unknownErrorMessage, ""
	if result.Error != nil {
		code = result.Error.Code
		if result.Error.Message != "" {
			msg = result.Error.Message
		}
	}
	op.LastError = msg
	op.LastErrorCode = code
	attempt.ErrorMessage = msg
	attempt.ErrorCode = code
	attempt.Outcome = core.OutcomeFailed
	if policy.TimeoutMs > 0 && result.LatencyMs >= policy.TimeoutMs {
		attempt.Outcome = core.OutcomeTimeout
	}

	if policy.IsNonRetryable(code) {
		e.finish(op, core.StatusAbandoned, now)
		e.logger.Info("operation abandoned on non-retryable error",
			"operation_id", op.ID, "error_code", code, "attempt", op.AttemptNumber)
		if policy.DLQEnabled {
			e.deadLetter(op, now)
		}
		return
	}

	e.trackPoison(op, msg, now)

	if op.AttemptNumber >= op.MaxAttempts {
		if policy.DLQEnabled {
			e.finish(op, core.StatusDLQ, now)
			e.deadLetter(op, now)
			return
		}
		e.finish(op, core.StatusFailed, now)
		e.logger.Info("operation exhausted retries",
			"operation_id", op.ID, "attempts", op.AttemptNumber)
		return
	}

	if e.storms.exceeded(policy, op.TenantID, now) {
		attempt.Throttled = true
		e.finish(op, core.StatusAbandoned, now)
		metrics.StormDrops.WithLabelValues(op.OperationType).Inc()
		e.logger.Warn("retry budget exceeded, abandoning operation",
			"operation_id", op.ID,
			"policy_id", op.PolicyID,
			"tenant_id", op.TenantID,
			"budget", policy.RetryBudgetPerMinute,
		)
		return
	}

	delay := e.backoff.Delay(policy, op.AttemptNumber+1)
	next := now.Add(millis(delay))
	op.NextRetryAt = &next
	op.TotalDelayMs += delay
	op.Status = core.StatusRetrying
	attempt.DelayMs = delay
	metrics.ScheduledDelay.WithLabelValues(policy.Strategy).Observe(float64(delay) / 1000)
}

// finish moves an operation to a terminal status and releases its
// idempotency key when the status gives it up.
func (e *Engine) finish(op *core.RetryOperation, status string, now time.Time) {
	op.Status = status
	op.NextRetryAt = nil
	op.CompletedAt = &now
	if !core.HoldsIdempotencyKey(status) {
		e.ops.releaseKey(op)
	}
}
