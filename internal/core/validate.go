package core

import "fmt"

var validStrategies = map[string]bool{
	StrategyExponential:        true,
	StrategyLinear:             true,
	StrategyFibonacci:          true,
	StrategyConstant:           true,
	StrategyDecorrelatedJitter: true,
}

// IsValidStrategy reports whether s names a supported backoff strategy.
func IsValidStrategy(s string) bool {
	return validStrategies[s]
}

// ValidatePolicy checks a policy after defaults have been applied.
func ValidatePolicy(p *RetryPolicy) *OJSError {
	if p.TenantID == "" {
		return fieldRequired("tenant_id")
	}
	if p.OperationType == "" {
		return fieldRequired("operation_type")
	}

	if p.MaxAttempts < 1 {
		return NewValidationError(
			fmt.Sprintf("The 'max_attempts' field must be at least 1. Got: %d", p.MaxAttempts),
			map[string]any{
				"field":    "max_attempts",
				"expected": ">= 1",
				"received": p.MaxAttempts,
			},
		)
	}

	if p.InitialDelayMs < 0 || p.MaxDelayMs < 0 {
		return NewValidationError("Delays must not be negative.", map[string]any{
			"initial_delay_ms": p.InitialDelayMs,
			"max_delay_ms":     p.MaxDelayMs,
		})
	}

	if p.InitialDelayMs > p.MaxDelayMs {
		return NewValidationError(
			fmt.Sprintf("The 'initial_delay_ms' (%d) must not exceed 'max_delay_ms' (%d).", p.InitialDelayMs, p.MaxDelayMs),
			map[string]any{
				"field":            "initial_delay_ms",
				"initial_delay_ms": p.InitialDelayMs,
				"max_delay_ms":     p.MaxDelayMs,
			},
		)
	}

	if p.JitterPct < 0 || p.JitterPct > 1 {
		return NewValidationError(
			fmt.Sprintf("The 'jitter_pct' field must be between 0 and 1. Got: %g", p.JitterPct),
			map[string]any{
				"field":    "jitter_pct",
				"expected": "0 to 1",
				"received": p.JitterPct,
			},
		)
	}

	if !IsValidStrategy(p.Strategy) {
		return NewValidationError(
			fmt.Sprintf("Unsupported backoff strategy %q.", p.Strategy),
			map[string]any{
				"field":    "strategy",
				"expected": []string{StrategyExponential, StrategyLinear, StrategyFibonacci, StrategyConstant, StrategyDecorrelatedJitter},
				"received": p.Strategy,
			},
		)
	}

	if p.TimeoutMs < 0 || p.DLQMaxRetries < 0 {
		return NewValidationError("The 'timeout_ms' and 'dlq_max_retries' fields must not be negative.", map[string]any{
			"timeout_ms":      p.TimeoutMs,
			"dlq_max_retries": p.DLQMaxRetries,
		})
	}

	return nil
}

// ValidateEnqueueRequest checks the request fields that do not depend on the policy.
func ValidateEnqueueRequest(req *EnqueueRequest) *OJSError {
	if req.PolicyID == "" {
		return fieldRequired("policy_id")
	}
	if req.TenantID == "" {
		return fieldRequired("tenant_id")
	}
	return nil
}

func fieldRequired(field string) *OJSError {
	return NewValidationError(fmt.Sprintf("The '%s' field is required.", field), map[string]any{
		"field":      field,
		"validation": "required",
	})
}
