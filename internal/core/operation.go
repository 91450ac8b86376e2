package core

import (
	"encoding/json"
	"time"
)

const (
	Version      = "0.1.0"
	OJSVersion   = "1.0.0-rc.1"
	OJSMediaType = "application/openjobspec+json"
	TimeFormat   = "2006-01-02T15:04:05.000Z"
)

// FormatTime formats a time as ISO 8601 UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// RetryOperation is one unit of retryable work tracked by the engine.
type RetryOperation struct {
	ID             string            `json:"id"`
	PolicyID       string            `json:"policy_id"`
	TenantID       string            `json:"tenant_id"`
	OperationType  string            `json:"operation_type"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	AttemptNumber  int               `json:"attempt_number"`
	MaxAttempts    int               `json:"max_attempts"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	Status         string            `json:"status"`
	LastError      string            `json:"last_error,omitempty"`
	LastErrorCode  string            `json:"last_error_code,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	LastAttemptAt  *time.Time        `json:"last_attempt_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	TotalDelayMs   int64             `json:"total_delay_ms"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// IsExisting is set on an Enqueue result that matched a live operation
	// by idempotency key.
	IsExisting bool `json:"-"`
}

// Clone returns a deep copy safe to hand to callers.
func (o *RetryOperation) Clone() *RetryOperation {
	if o == nil {
		return nil
	}
	c := *o
	if o.Payload != nil {
		c.Payload = append(json.RawMessage(nil), o.Payload...)
	}
	c.NextRetryAt = cloneTime(o.NextRetryAt)
	c.LastAttemptAt = cloneTime(o.LastAttemptAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// EnqueueRequest is the input to Enqueue.
type EnqueueRequest struct {
	PolicyID       string            `json:"policy_id"`
	TenantID       string            `json:"tenant_id"`
	OperationType  string            `json:"operation_type,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AttemptError describes why an attempt failed.
type AttemptError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// AttemptResult is what an executor reports after performing an attempt.
type AttemptResult struct {
	Success   bool          `json:"success"`
	LatencyMs int64         `json:"latency_ms"`
	Error     *AttemptError `json:"error,omitempty"`
}

// Attempt outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
	OutcomeDLQ       = "dlq"
	OutcomeTimeout   = "timeout"
)

// RetryAttempt is the immutable record of one reported attempt.
type RetryAttempt struct {
	ID            string    `json:"id"`
	OperationID   string    `json:"operation_id"`
	PolicyID      string    `json:"policy_id"`
	TenantID      string    `json:"tenant_id"`
	AttemptNumber int       `json:"attempt_number"`
	DelayMs       int64     `json:"delay_ms"`
	Outcome       string    `json:"outcome"`
	Throttled     bool      `json:"throttled,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// DlqEntry is the dead-letter artifact of an operation that could not complete.
type DlqEntry struct {
	ID            string          `json:"id"`
	OperationID   string          `json:"operation_id"`
	TenantID      string          `json:"tenant_id"`
	OperationType string          `json:"operation_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ErrorMessage  string          `json:"error_message"`
	TotalAttempts int             `json:"total_attempts"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	Requeued      bool            `json:"requeued"`
	RequeueCount  int             `json:"requeue_count"`
}

// Clone returns a deep copy of the entry.
func (d *DlqEntry) Clone() *DlqEntry {
	if d == nil {
		return nil
	}
	c := *d
	if d.Payload != nil {
		c.Payload = append(json.RawMessage(nil), d.Payload...)
	}
	c.ProcessedAt = cloneTime(d.ProcessedAt)
	return &c
}

// PoisonMessageRecord tracks the failure streak of one error signature.
type PoisonMessageRecord struct {
	Key                 string    `json:"key"`
	OperationID         string    `json:"operation_id"`
	PolicyID            string    `json:"policy_id"`
	TenantID            string    `json:"tenant_id"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ErrorPattern        string    `json:"error_pattern"`
	FirstSeenAt         time.Time `json:"first_seen_at"`
	LastSeenAt          time.Time `json:"last_seen_at"`
	Quarantined         bool      `json:"quarantined"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
