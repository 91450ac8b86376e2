package core

// StormWindowMs is the sliding window used by the storm guard.
const StormWindowMs = 60_000

// StormStatus reports retry volume for one policy/tenant pair.
type StormStatus struct {
	PolicyID         string `json:"policy_id"`
	TenantID         string `json:"tenant_id"`
	WindowMs         int64  `json:"window_ms"`
	AttemptsInWindow int    `json:"attempts_in_window"`
	Budget           int    `json:"budget"`
	Active           bool   `json:"active"`
	ThrottledCount   int    `json:"throttled_count"`
}

// RetryAnalytics aggregates the outcome of all operations of a policy.
type RetryAnalytics struct {
	PolicyID            string  `json:"policy_id"`
	TenantID            string  `json:"tenant_id,omitempty"`
	TotalOperations     int     `json:"total_operations"`
	FirstAttemptSuccess int     `json:"first_attempt_success"`
	RetrySuccess        int     `json:"retry_success"`
	Failed              int     `json:"failed"`
	DLQ                 int     `json:"dlq"`
	InProgress          int     `json:"in_progress"`
	AvgAttempts         float64 `json:"avg_attempts"`
	AvgTotalDelayMs     float64 `json:"avg_total_delay_ms"`
	SuccessRate         float64 `json:"success_rate"`
	RetryRate           float64 `json:"retry_rate"`
	DLQRate             float64 `json:"dlq_rate"`
}

// Summary is the cross-policy rollup.
type Summary struct {
	TotalPolicies       int            `json:"total_policies"`
	TotalOperations     int            `json:"total_operations"`
	OperationsByStatus  map[string]int `json:"operations_by_status"`
	TotalAttempts       int            `json:"total_attempts"`
	DLQEntries          int            `json:"dlq_entries"`
	PendingDLQEntries   int            `json:"pending_dlq_entries"`
	PoisonMessages      int            `json:"poison_messages"`
	QuarantinedMessages int            `json:"quarantined_messages"`
	SuccessRate         float64        `json:"success_rate"`
	ActiveStorms        []StormStatus  `json:"active_storms"`
}

// OperationFilter narrows ListOperations. Zero values match everything.
type OperationFilter struct {
	PolicyID string
	TenantID string
	Status   string
	Limit    int
}

// AttemptFilter narrows ListAttempts. Zero values match everything.
type AttemptFilter struct {
	OperationID string
	PolicyID    string
	TenantID    string
	Limit       int
}

// PoisonFilter narrows ListPoisonMessages.
type PoisonFilter struct {
	TenantID        string
	QuarantinedOnly bool
}

// DlqFilter narrows ListDlq.
type DlqFilter struct {
	TenantID        string
	IncludeRequeued bool
	Limit           int
}

// Percent returns part/total*100, or 0 when total is 0.
func Percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
