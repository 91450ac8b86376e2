package core

import "time"

// Backoff strategies supported by a RetryPolicy.
const (
	StrategyExponential        = "exponential"
	StrategyLinear             = "linear"
	StrategyFibonacci          = "fibonacci"
	StrategyConstant           = "constant"
	StrategyDecorrelatedJitter = "decorrelated_jitter"
)

// DefaultMultiplier is applied when a policy leaves Multiplier unset.
const DefaultMultiplier = 2.0

// RetryPolicy defines how operations of one type are retried for one tenant.
// RetryableErrors is informational: only NonRetryableErrors affects
// classification, and every other failure is retried.
type RetryPolicy struct {
	ID                     string    `json:"id"`
	TenantID               string    `json:"tenant_id"`
	OperationType          string    `json:"operation_type"`
	MaxAttempts            int       `json:"max_attempts"`
	InitialDelayMs         int64     `json:"initial_delay_ms"`
	MaxDelayMs             int64     `json:"max_delay_ms"`
	Multiplier             float64   `json:"multiplier"`
	JitterPct              float64   `json:"jitter_pct"`
	Strategy               string    `json:"strategy"`
	RetryableErrors        []string  `json:"retryable_errors,omitempty"`
	NonRetryableErrors     []string  `json:"non_retryable_errors,omitempty"`
	TimeoutMs              int64     `json:"timeout_ms,omitempty"`
	DLQEnabled             bool      `json:"dlq_enabled"`
	DLQMaxRetries          int       `json:"dlq_max_retries,omitempty"`
	IdempotencyKeyRequired bool      `json:"idempotency_key_required"`
	RetryBudgetPerMinute   int       `json:"retry_budget_per_minute"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// PolicyUpdate carries a partial update; nil fields are left untouched.
type PolicyUpdate struct {
	OperationType          *string   `json:"operation_type,omitempty"`
	MaxAttempts            *int      `json:"max_attempts,omitempty"`
	InitialDelayMs         *int64    `json:"initial_delay_ms,omitempty"`
	MaxDelayMs             *int64    `json:"max_delay_ms,omitempty"`
	Multiplier             *float64  `json:"multiplier,omitempty"`
	JitterPct              *float64  `json:"jitter_pct,omitempty"`
	Strategy               *string   `json:"strategy,omitempty"`
	RetryableErrors        *[]string `json:"retryable_errors,omitempty"`
	NonRetryableErrors     *[]string `json:"non_retryable_errors,omitempty"`
	TimeoutMs              *int64    `json:"timeout_ms,omitempty"`
	DLQEnabled             *bool     `json:"dlq_enabled,omitempty"`
	DLQMaxRetries          *int      `json:"dlq_max_retries,omitempty"`
	IdempotencyKeyRequired *bool     `json:"idempotency_key_required,omitempty"`
	RetryBudgetPerMinute   *int      `json:"retry_budget_per_minute,omitempty"`
}

// DefaultRetryPolicy returns the policy template used when a caller supplies
// only tenant and operation type.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          3,
		InitialDelayMs:       1000,
		MaxDelayMs:           5 * 60 * 1000,
		Multiplier:           DefaultMultiplier,
		JitterPct:            0.1,
		Strategy:             StrategyExponential,
		DLQEnabled:           true,
		RetryBudgetPerMinute: 100,
	}
}

// ApplyDefaults fills zero-valued fields that have a natural default.
func (p *RetryPolicy) ApplyDefaults() {
	if p.Strategy == "" {
		p.Strategy = StrategyExponential
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultMultiplier
	}
}

// Apply merges a partial update into the policy.
func (u *PolicyUpdate) Apply(p *RetryPolicy) {
	if u.OperationType != nil {
		p.OperationType = *u.OperationType
	}
	if u.MaxAttempts != nil {
		p.MaxAttempts = *u.MaxAttempts
	}
	if u.InitialDelayMs != nil {
		p.InitialDelayMs = *u.InitialDelayMs
	}
	if u.MaxDelayMs != nil {
		p.MaxDelayMs = *u.MaxDelayMs
	}
	if u.Multiplier != nil {
		p.Multiplier = *u.Multiplier
	}
	if u.JitterPct != nil {
		p.JitterPct = *u.JitterPct
	}
	if u.Strategy != nil {
		p.Strategy = *u.Strategy
	}
	if u.RetryableErrors != nil {
		p.RetryableErrors = append([]string(nil), (*u.RetryableErrors)...)
	}
	if u.NonRetryableErrors != nil {
		p.NonRetryableErrors = append([]string(nil), (*u.NonRetryableErrors)...)
	}
	if u.TimeoutMs != nil {
		p.TimeoutMs = *u.TimeoutMs
	}
	if u.DLQEnabled != nil {
		p.DLQEnabled = *u.DLQEnabled
	}
	if u.DLQMaxRetries != nil {
		p.DLQMaxRetries = *u.DLQMaxRetries
	}
	if u.IdempotencyKeyRequired != nil {
		p.IdempotencyKeyRequired = *u.IdempotencyKeyRequired
	}
	if u.RetryBudgetPerMinute != nil {
		p.RetryBudgetPerMinute = *u.RetryBudgetPerMinute
	}
}

// IsNonRetryable reports whether an error code is listed as non-retryable.
// Exact string membership; the non-retryable list always wins.
func (p *RetryPolicy) IsNonRetryable(code string) bool {
	if code == "" {
		return false
	}
	for _, c := range p.NonRetryableErrors {
		if c == code {
			return true
		}
	}
	return false
}

// StormGuardEnabled reports whether the policy carries a retry budget.
func (p *RetryPolicy) StormGuardEnabled() bool {
	return p.RetryBudgetPerMinute > 0
}

// Clone returns a deep copy of the policy.
func (p *RetryPolicy) Clone() *RetryPolicy {
	if p == nil {
		return nil
	}
	c := *p
	c.RetryableErrors = append([]string(nil), p.RetryableErrors...)
	c.NonRetryableErrors = append([]string(nil), p.NonRetryableErrors...)
	return &c
}
