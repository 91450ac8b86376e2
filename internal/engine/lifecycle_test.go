package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

func TestRecordAttemptResult_ConstantScenario(t *testing.T) {
	e, clock := newTestEngine(t)
	policy := mustCreatePolicy(t, e, testPolicy())
	op := mustEnqueue(t, e, policy, "tenant-a", "")

	for i := 1; i <= 2; i++ {
		now := clock.Now()
		got := mustRecord(t, e, op.ID, failure("", "connection refused"))
		if got.Status != core.StatusRetrying {
			t.Fatalf("attempt %d: Status = %q, want retrying", i, got.Status)
		}
		if got.NextRetryAt == nil || !got.NextRetryAt.Equal(now.Add(100*time.Millisecond)) {
			t.Fatalf("attempt %d: NextRetryAt = %v, want now+100ms", i, got.NextRetryAt)
		}
		if got.AttemptNumber != i {
			t.Fatalf("attempt %d: AttemptNumber = %d", i, got.AttemptNumber)
		}
		clock.Advance(100 * time.Millisecond)
	}

	got := mustRecord(t, e, op.ID, failure("", "connection refused"))
	if got.Status != core.StatusDLQ {
		t.Fatalf("Status = %q, want dlq", got.Status)
	}
	if got.NextRetryAt != nil {
		t.Errorf("NextRetryAt = %v, want nil on terminal status", got.NextRetryAt)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if got.TotalDelayMs != 200 {
		t.Errorf("TotalDelayMs = %d, want 200", got.TotalDelayMs)
	}

	entries, _ := e.ListDlq(context.Background(), core.DlqFilter{})
	if len(entries) != 1 {
		t.Fatalf("DLQ entries = %d, want 1", len(entries))
	}
	if entries[0].TotalAttempts != 3 || entries[0].OperationID != op.ID {
		t.Errorf("DLQ entry = %+v", entries[0])
	}
	if entries[0].ErrorMessage != "connection refused" {
		t.Errorf("ErrorMessage = %q", entries[0].ErrorMessage)
	}

	attempts, _ := e.ListAttempts(context.Background(), core.AttemptFilter{OperationID: op.ID})
	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}
	for i, a := range attempts {
		if a.AttemptNumber != i+1 {
			t.Errorf("attempt[%d].AttemptNumber = %d", i, a.AttemptNumber)
		}
		if a.Outcome != core.OutcomeFailed {
			t.Errorf("attempt[%d].Outcome = %q, want failed", i, a.Outcome)
		}
	}
	if attempts[0].DelayMs != 100 || attempts[2].DelayMs != 0 {
		t.Errorf("DelayMs = %d/%d, want 100/0", attempts[0].DelayMs, attempts[2].DelayMs)
	}
}

func TestRecordAttemptResult_Success(t *testing.T) {
	e, _ := newTestEngine(t)
	policy := mustCreatePolicy(t, e, testPolicy())
	op := mustEnqueue(t, e, policy, "tenant-a", "k1")

	mustRecord(t, e, op.ID, failure("", "503"))
	got := mustRecord(t, e, op.ID, success())
	if got.Status != core.StatusSucceeded {
		t.Fatalf("Status = %q, want succeeded", got.Status)
	}
	if got.NextRetryAt != nil || got.CompletedAt == nil {
		t.Errorf("NextRetryAt = %v CompletedAt = %v", got.NextRetryAt, got.CompletedAt)
	}

	again := mustEnqueue(t, e, policy, "tenant-a", "k1")
	if again.ID != op.ID {
		t.Errorf("succeeded operation should keep its idempotency key")
	}
}

func TestRecordAttemptResult_NonRetryable(t *testing.T) {
	tests := []struct {
		name       string
		dlqEnabled bool
		wantDLQ    int
	}{
		{"with dlq", true, 1},
		{"without dlq", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			p := testPolicy()
			p.MaxAttempts = 10
			p.DLQEnabled = tt.dlqEnabled
			p.NonRetryableErrors = []string{"invalid_payload"}
			policy := mustCreatePolicy(t, e, p)
			op := mustEnqueue(t, e, policy, "tenant-a", "key")

			got := mustRecord(t, e, op.ID, failure("invalid_payload", "schema mismatch"))
			if got.Status != core.StatusAbandoned {
				t.Fatalf("Status = %q, want abandoned", got.Status)
			}
			if got.AttemptNumber != 1 {
				t.Errorf("AttemptNumber = %d, want 1", got.AttemptNumber)
			}
			entries, _ := e.ListDlq(context.Background(), core.DlqFilter{})
			if len(entries) != tt.wantDLQ {
				t.Errorf("DLQ entries = %d, want %d", len(entries), tt.wantDLQ)
			}

			poison, _ := e.ListPoisonMessages(context.Background(), core.PoisonFilter{})
			if len(poison) != 0 {
				t.Errorf("non-retryable failures should not feed the poison detector, got %d records", len(poison))
			}

			fresh := mustEnqueue(t, e, policy, "tenant-a", "key")
			if fresh.ID == op.ID {
				t.Error("abandoned operation should release its idempotency key")
			}
		})
	}
}

func TestRecordAttemptResult_ExhaustedWithoutDLQ(t *testing.T) {
	e, _ := newTestEngine(t)
	p := testPolicy()
	p.MaxAttempts = 2
	p.DLQEnabled = false
	policy := mustCreatePolicy(t, e, p)
	op := mustEnqueue(t, e, policy, "tenant-a", "key")

	mustRecord(t, e, op.ID, failure("", "boom"))
	got := mustRecord(t, e, op.ID, failure("", "boom"))
	if got.Status != core.StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	entries, _ := e.ListDlq(context.Background(), core.DlqFilter{IncludeRequeued: true})
	if len(entries) != 0 {
		t.Errorf("DLQ entries = %d, want 0", len(entries))
	}
	if again := mustEnqueue(t, e, policy, "tenant-a", "key"); again.ID == op.ID {
		t.Error("failed operation should release its idempotency key")
	}
}

func TestRecordAttemptResult_TerminalConflict(t *testing.T) {
	e, _ := newTestEngine(t)
	policy := mustCreatePolicy(t, e, testPolicy())
	op := mustEnqueue(t, e, policy, "tenant-a", "")
	mustRecord(t, e, op.ID, success())

	_, err := e.RecordAttemptResult(context.Background(), op.ID, failure("", "late"))
	if !core.IsConflict(err) {
		t.Fatalf("error = %v, want conflict", err)
	}
	got, _ := e.GetOperation(context.Background(), op.ID)
	if got.AttemptNumber != 1 || got.Status != core.StatusSucceeded {
		t.Errorf("terminal operation mutated: %+v", got)
	}
}

func TestRecordAttemptResult_Errors(t *testing.T) {
	e, _ := newTestEngine(t)
	policy := mustCreatePolicy(t, e, testPolicy())
	op := mustEnqueue(t, e, policy, "tenant-a", "")

	if _, err := e.RecordAttemptResult(context.Background(), "missing", success()); !core.IsNotFound(err) {
		t.Errorf("unknown operation: error = %v, want not found", err)
	}
	if _, err := e.RecordAttemptResult(context.Background(), op.ID, nil); core.ErrorCode(err) != core.ErrCodeInvalidRequest {
		t.Errorf("nil result: error = %v, want invalid request", err)
	}
	if _, err := e.RecordAttemptResult(context.Background(), op.ID, &core.AttemptResult{LatencyMs: -1}); !core.IsValidation(err) {
		t.Errorf("negative latency: error = %v, want validation", err)
	}
}

func TestRecordAttemptResult_DefaultsErrorMessage(t *testing.T) {
	e, _ := newTestEngine(t)
	policy := mustCreatePolicy(t, e, testPolicy())
	op := mustEnqueue(t, e, policy, "tenant-a", "")

	got := mustRecord(t, e, op.ID, &core.AttemptResult{LatencyMs: 5})
	if got.LastError != unknownErrorMessage {
		t.Errorf("LastError = %q, want %q", got.LastError, unknownErrorMessage)
	}
}

func TestRecordAttemptResult_TimeoutOutcome(t *testing.T) {
	e, _ := newTestEngine(t)
	p := testPolicy()
	p.TimeoutMs = 500
	policy := mustCreatePolicy(t, e, p)
	op := mustEnqueue(t, e, policy, "tenant-a", "")

	mustRecord(t, e, op.ID, &core.AttemptResult{LatencyMs: 500, Error: &core.AttemptError{Message: "deadline exceeded"}})
	mustRecord(t, e, op.ID, &core.AttemptResult{LatencyMs: 499, Error: &core.AttemptError{Message: "reset"}})

	attempts, _ := e.ListAttempts(context.Background(), core.AttemptFilter{OperationID: op.ID})
	if attempts[0].Outcome != core.OutcomeTimeout {
		t.Errorf("attempt 1 outcome = %q, want timeout", attempts[0].Outcome)
	}
	if attempts[1].Outcome != core.OutcomeFailed {
		t.Errorf("attempt 2 outcome = %q, want failed", attempts[1].Outcome)
	}
}

func TestRecordAttemptResult_AttemptsNeverExceedMax(t *testing.T) {
	strategies := []string{
		core.StrategyExponential, core.StrategyLinear, core.StrategyFibonacci,
		core.StrategyConstant, core.StrategyDecorrelatedJitter,
	}
	e, _ := newTestEngine(t)
	for i, strategy := range strategies {
		for maxAttempts := 1; maxAttempts <= 6; maxAttempts++ {
			p := testPolicy()
			p.Strategy = strategy
			p.MaxAttempts = maxAttempts
			p.JitterPct = 0.3
			p.DLQEnabled = (maxAttempts+i)%2 == 0
			policy := mustCreatePolicy(t, e, p)
			op := mustEnqueue(t, e, policy, "tenant-a", "")

			for call := 0; call < maxAttempts+3; call++ {
				got, err := e.RecordAttemptResult(context.Background(), op.ID, failure("", "flaky"))
				if err != nil && !core.IsConflict(err) {
					t.Fatalf("RecordAttemptResult() error = %v", err)
				}
				if got != nil && got.AttemptNumber > got.MaxAttempts {
					t.Fatalf("%s/%d: AttemptNumber %d exceeds MaxAttempts %d", strategy, maxAttempts, got.AttemptNumber, got.MaxAttempts)
				}
				if got != nil && (got.NextRetryAt != nil) != (got.Status == core.StatusRetrying) {
					t.Fatalf("%s/%d: NextRetryAt=%v with status %q", strategy, maxAttempts, got.NextRetryAt, got.Status)
				}
			}
			final, _ := e.GetOperation(context.Background(), op.ID)
			if final.AttemptNumber != maxAttempts {
				t.Errorf("%s/%d: final AttemptNumber = %d", strategy, maxAttempts, final.AttemptNumber)
			}
		}
	}
}

func TestRecordAttemptResult_ConcurrentSameOperation(t *testing.T) {
	e, _ := newTestEngine(t, WithPoisonThreshold(1000))
	p := testPolicy()
	p.MaxAttempts = 100
	policy := mustCreatePolicy(t, e, p)
	op := mustEnqueue(t, e, policy, "tenant-a", "")

	const callers = 150
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RecordAttemptResult(context.Background(), op.ID, failure("", "busy"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case core.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 100 || conflicts != 50 {
		t.Errorf("accepted = %d conflicts = %d, want 100/50", accepted, conflicts)
	}
	got, _ := e.GetOperation(context.Background(), op.ID)
	if got.AttemptNumber != 100 || got.Status != core.StatusDLQ {
		t.Errorf("final = %d/%q, want 100/dlq", got.AttemptNumber, got.Status)
	}
	entries, _ := e.ListDlq(context.Background(), core.DlqFilter{})
	if len(entries) != 1 {
		t.Errorf("DLQ entries = %d, want exactly 1", len(entries))
	}
}

func TestRecordAttemptResult_ConcurrentOperations(t *testing.T) {
	e, _ := newTestEngine(t)
	p := testPolicy()
	p.MaxAttempts = 5
	policy := mustCreatePolicy(t, e, p)

	const workers = 20
	ids := make([]string, workers)
	for i := range ids {
		ids[i] = mustEnqueue(t, e, policy, "tenant-a", "").ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if _, err := e.RecordAttemptResult(context.Background(), id, failure("", fmt.Sprintf("err-%d", i))); err != nil {
					t.Errorf("RecordAttemptResult(%s) error = %v", id, err)
					return
				}
			}
		}(id)
	}
	// Readers run alongside writers.
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := e.GetSummary(context.Background()); err != nil {
					t.Errorf("GetSummary() error = %v", err)
				}
				if _, err := e.GetAnalytics(context.Background(), policy.ID, ""); err != nil {
					t.Errorf("GetAnalytics() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	a, _ := e.GetAnalytics(context.Background(), policy.ID, "")
	if a.DLQ != workers {
		t.Errorf("DLQ = %d, want %d", a.DLQ, workers)
	}
	if n := e.attempts.Len(); n != workers*5 {
		t.Errorf("attempt log = %d, want %d", n, workers*5)
	}
}

func TestRecordAttemptResult_PublishesTransitions(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := newTestEngine(t, WithPublisher(pub))
	p := testPolicy()
	p.MaxAttempts = 1
	policy := mustCreatePolicy(t, e, p)
	op := mustEnqueue(t, e, policy, "tenant-a", "")
	mustRecord(t, e, op.ID, failure("", "nope"))

	changes := pub.ofType(core.EventOperationStateChanged)
	if len(changes) != 2 {
		t.Fatalf("state change events = %d, want 2", len(changes))
	}
	if changes[0].To != core.StatusPending || changes[1].From != core.StatusPending || changes[1].To != core.StatusDLQ {
		t.Errorf("unexpected transitions: %+v %+v", changes[0], changes[1])
	}
	if n := len(pub.ofType(core.EventDeadLettered)); n != 1 {
		t.Errorf("dead letter events = %d, want 1", n)
	}
}

func TestRecordAttemptResult_FollowupEventsAfterStateChange(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := newTestEngine(t, WithPublisher(pub), WithPoisonThreshold(1))
	p := testPolicy()
	p.MaxAttempts = 2
	policy := mustCreatePolicy(t, e, p)
	op := mustEnqueue(t, e, policy, "tenant-a", "")
	mustRecord(t, e, op.ID, failure("", "nope"))
	mustRecord(t, e, op.ID, failure("", "nope"))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var got []string
	for _, ev := range pub.events {
		got = append(got, ev.EventType)
	}
	want := []string{
		core.EventOperationStateChanged, // enqueued
		core.EventOperationStateChanged, // pending -> retrying
		core.EventOperationStateChanged, // retrying -> dlq
		core.EventPoisonQuarantined,
		core.EventDeadLettered,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
	if last := pub.events[2]; last.To != core.StatusDLQ {
		t.Errorf("third state change to = %s, want dlq", last.To)
	}
	if len(e.followups) != 0 {
		t.Errorf("followups not flushed: %d left", len(e.followups))
	}
}

func TestRecordAttemptResult_OnlyNonRetryableCodesClassify(t *testing.T) {
	e, _ := newTestEngine(t)
	p := testPolicy()
	p.RetryableErrors = []string{"503"}
	p.NonRetryableErrors = []string{"400"}
	policy := mustCreatePolicy(t, e, p)

	tests := []struct {
		code string
		want string
	}{
		{"503", core.StatusRetrying},
		{"418", core.StatusRetrying},
		{"400", core.StatusAbandoned},
	}
	for _, tt := range tests {
		op := mustEnqueue(t, e, policy, "tenant-a", "")
		got := mustRecord(t, e, op.ID, failure(tt.code, "failed"))
		if got.Status != tt.want {
			t.Errorf("code %s: Status = %q, want %q", tt.code, got.Status, tt.want)
		}
	}
}
