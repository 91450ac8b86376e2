package core

// Operation states.
const (
	StatusPending   = "pending"
	StatusInFlight  = "in_flight"
	StatusRetrying  = "retrying"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusDLQ       = "dlq"
)

// validTransitions defines the allowed state transitions. Requeue from the
// dead-letter queue is a reset, not a transition, and is handled separately.
var validTransitions = map[string][]string{
	StatusPending:   {StatusInFlight, StatusRetrying, StatusSucceeded, StatusFailed, StatusAbandoned, StatusDLQ},
	StatusInFlight:  {StatusRetrying, StatusSucceeded, StatusFailed, StatusAbandoned, StatusDLQ},
	StatusRetrying:  {StatusInFlight, StatusRetrying, StatusSucceeded, StatusFailed, StatusAbandoned, StatusDLQ},
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusAbandoned: {},
	StatusDLQ:       {},
}

// IsValidTransition checks if a state transition is allowed.
func IsValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus returns true if the status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == StatusSucceeded || status == StatusFailed ||
		status == StatusAbandoned || status == StatusDLQ
}

// IsActiveStatus returns true while the operation still awaits an attempt result.
func IsActiveStatus(status string) bool {
	return status == StatusPending || status == StatusInFlight || status == StatusRetrying
}

// HoldsIdempotencyKey reports whether an operation in this status keeps its
// idempotency key reserved. Failed and abandoned operations release it so the
// same key can be enqueued again.
func HoldsIdempotencyKey(status string) bool {
	return status != StatusFailed && status != StatusAbandoned
}

// IsValidStatus reports whether s names a known operation status.
func IsValidStatus(s string) bool {
	_, ok := validTransitions[s]
	return ok
}
