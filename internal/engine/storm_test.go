package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

func stormPolicy(budget int) *core.RetryPolicy {
	p := testPolicy()
	p.MaxAttempts = 10
	p.RetryBudgetPerMinute = budget
	return p
}

func TestStormGuard_AbandonsOverBudget(t *testing.T) {
	e, _ := newTestEngine(t)
	policy := mustCreatePolicy(t, e, stormPolicy(5))

	ops := make([]*core.RetryOperation, 7)
	for i := range ops {
		ops[i] = mustEnqueue(t, e, policy, "tenant-a", "")
	}

	for i, op := range ops {
		got := mustRecord(t, e, op.ID, failure("", "upstream 503"))
		want := core.StatusRetrying
		if i >= 4 {
			want = core.StatusAbandoned
		}
		if got.Status != want {
			t.Errorf("failure %d: Status = %q, want %q", i+1, got.Status, want)
		}
	}

	entries, _ := e.ListDlq(context.Background(), core.DlqFilter{IncludeRequeued: true})
	if len(entries) != 0 {
		t.Errorf("storm drops must not dead letter, got %d entries", len(entries))
	}

	status, err := e.GetStormStatus(context.Background(), policy.ID, "tenant-a")
	if err != nil {
		t.Fatalf("GetStormStatus() error = %v", err)
	}
	if !status.Active {
		t.Error("expected storm to be active")
	}
	if status.AttemptsInWindow != 7 || status.ThrottledCount != 3 {
		t.Errorf("status = %+v, want 7 attempts with 3 throttled", status)
	}
	if status.Budget != 5 || status.WindowMs != core.StormWindowMs {
		t.Errorf("status budget/window = %d/%d", status.Budget, status.WindowMs)
	}

	attempts, _ := e.ListAttempts(context.Background(), core.AttemptFilter{OperationID: ops[6].ID})
	if len(attempts) != 1 || !attempts[0].Throttled || attempts[0].Outcome != core.OutcomeFailed {
		t.Errorf("throttled attempt = %+v", attempts)
	}
}

func TestStormGuard_BudgetPlusOneThenNextAbandons(t *testing.T) {
	const budget = 3
	e, _ := newTestEngine(t)
	policy := mustCreatePolicy(t, e, stormPolicy(budget))

	for i := 0; i < budget+1; i++ {
		op := mustEnqueue(t, e, policy, "tenant-a", "")
		mustRecord(t, e, op.ID, failure("", "boom"))
	}
	next := mustEnqueue(t, e, policy, "tenant-a", "")
	got := mustRecord(t, e, next.ID, failure("", "boom"))
	if got.Status != core.StatusAbandoned {
		t.Errorf("Status = %q, want abandoned", got.Status)
	}
	if got.CompletedAt == nil || got.NextRetryAt != nil {
		t.Errorf("abandoned operation: CompletedAt=%v NextRetryAt=%v", got.CompletedAt, got.NextRetryAt)
	}
}

func TestStormGuard_IsolatedPerTenant(t *testing.T) {
	e, _ := newTestEngine(t)
	policy := mustCreatePolicy(t, e, stormPolicy(2))

	for i := 0; i < 4; i++ {
		op := mustEnqueue(t, e, policy, "tenant-a", "")
		mustRecord(t, e, op.ID, failure("", "boom"))
	}
	other := mustEnqueue(t, e, policy, "tenant-b", "")
	if got := mustRecord(t, e, other.ID, failure("", "boom")); got.Status != core.StatusRetrying {
		t.Errorf("tenant-b Status = %q, want retrying", got.Status)
	}
}

func TestStormGuard_WindowSlides(t *testing.T) {
	e, clock := newTestEngine(t)
	policy := mustCreatePolicy(t, e, stormPolicy(3))

	for i := 0; i < 3; i++ {
		op := mustEnqueue(t, e, policy, "tenant-a", "")
		mustRecord(t, e, op.ID, failure("", "boom"))
	}
	status, _ := e.GetStormStatus(context.Background(), policy.ID, "tenant-a")
	if !status.Active {
		t.Fatalf("expected active storm, got %+v", status)
	}

	clock.Advance(61 * time.Second)
	status, _ = e.GetStormStatus(context.Background(), policy.ID, "tenant-a")
	if status.Active || status.AttemptsInWindow != 0 {
		t.Errorf("after window: %+v, want inactive with 0 attempts", status)
	}

	op := mustEnqueue(t, e, policy, "tenant-a", "")
	if got := mustRecord(t, e, op.ID, failure("", "boom")); got.Status != core.StatusRetrying {
		t.Errorf("Status = %q, want retrying once the window has passed", got.Status)
	}
}

func TestStormGuard_ZeroBudgetDisabled(t *testing.T) {
	e, _ := newTestEngine(t)
	policy := mustCreatePolicy(t, e, stormPolicy(0))

	for i := 0; i < 50; i++ {
		op := mustEnqueue(t, e, policy, "tenant-a", "")
		if got := mustRecord(t, e, op.ID, failure("", "boom")); got.Status != core.StatusRetrying {
			t.Fatalf("failure %d: Status = %q, want retrying", i, got.Status)
		}
	}
	status, _ := e.GetStormStatus(context.Background(), policy.ID, "tenant-a")
	if status.Active {
		t.Error("storm guard with zero budget must never be active")
	}
	if status.AttemptsInWindow != 50 {
		t.Errorf("AttemptsInWindow = %d, want 50", status.AttemptsInWindow)
	}
}

func TestGetStormStatus_UnknownPolicy(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.GetStormStatus(context.Background(), "missing", "tenant-a"); !core.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestStormGuard_DropMetricLabelledByOperationType(t *testing.T) {
	e, _ := newTestEngine(t)
	p := stormPolicy(3)
	p.OperationType = "storm.metric"
	policy := mustCreatePolicy(t, e, p)

	for i := 0; i < 3; i++ {
		op := mustEnqueue(t, e, policy, "tenant-metric", "")
		mustRecord(t, e, op.ID, failure("", "upstream 503"))
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "ojs_retry_storm_drops_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if len(labels) != 1 {
				t.Errorf("storm drop labels = %v, want operation_type only", labels)
			}
			if labels["operation_type"] == "storm.metric" {
				found = true
				if got := m.GetCounter().GetValue(); got != 1 {
					t.Errorf("storm drops = %v, want 1", got)
				}
			}
		}
	}
	if !found {
		t.Error("no storm drop series for operation_type storm.metric")
	}
}
