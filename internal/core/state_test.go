package core

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusInFlight, true},
		{StatusPending, StatusRetrying, true},
		{StatusInFlight, StatusSucceeded, true},
		{StatusInFlight, StatusDLQ, true},
		{StatusRetrying, StatusInFlight, true},
		{StatusRetrying, StatusRetrying, true},
		{StatusRetrying, StatusAbandoned, true},

		{StatusInFlight, StatusPending, false},
		{StatusSucceeded, StatusRetrying, false},
		{StatusFailed, StatusPending, false},
		{StatusAbandoned, StatusInFlight, false},
		{StatusDLQ, StatusRetrying, false},
		{"unknown", StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := IsValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	terminal := []string{StatusSucceeded, StatusFailed, StatusAbandoned, StatusDLQ}
	active := []string{StatusPending, StatusInFlight, StatusRetrying}

	for _, s := range terminal {
		if !IsTerminalStatus(s) {
			t.Errorf("IsTerminalStatus(%q) = false, want true", s)
		}
		if IsActiveStatus(s) {
			t.Errorf("IsActiveStatus(%q) = true, want false", s)
		}
	}
	for _, s := range active {
		if IsTerminalStatus(s) {
			t.Errorf("IsTerminalStatus(%q) = true, want false", s)
		}
	}
}

func TestHoldsIdempotencyKey(t *testing.T) {
	released := map[string]bool{StatusFailed: true, StatusAbandoned: true}
	for status := range validTransitions {
		if got := HoldsIdempotencyKey(status); got == released[status] {
			t.Errorf("HoldsIdempotencyKey(%q) = %v", status, got)
		}
	}
}
