package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*core.OperationEvent
}

func (p *recordingPublisher) PublishOperationEvent(ev *core.OperationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ofType(eventType string) []*core.OperationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*core.OperationEvent
	for _, ev := range p.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	base := []Option{
		WithClock(clock.Now),
		WithSeed(1),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return New(append(base, opts...)...), clock
}

// testPolicy returns a deterministic policy: constant 100ms, no jitter, DLQ on,
// storm guard off.
func testPolicy() *core.RetryPolicy {
	return &core.RetryPolicy{
		TenantID:       "tenant-a",
		OperationType:  "webhook.deliver",
		MaxAttempts:    3,
		InitialDelayMs: 100,
		MaxDelayMs:     10_000,
		Strategy:       core.StrategyConstant,
		DLQEnabled:     true,
	}
}

func mustCreatePolicy(t *testing.T, e *Engine, p *core.RetryPolicy) *core.RetryPolicy {
	t.Helper()
	created, err := e.CreatePolicy(context.Background(), p)
	if err != nil {
		t.Fatalf("CreatePolicy() error = %v", err)
	}
	return created
}

func mustEnqueue(t *testing.T, e *Engine, policy *core.RetryPolicy, tenantID, key string) *core.RetryOperation {
	t.Helper()
	op, err := e.Enqueue(context.Background(), &core.EnqueueRequest{
		PolicyID:       policy.ID,
		TenantID:       tenantID,
		IdempotencyKey: key,
		Payload:        []byte(`{"url":"https://example.com/hook"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return op
}

func mustRecord(t *testing.T, e *Engine, id string, result *core.AttemptResult) *core.RetryOperation {
	t.Helper()
	op, err := e.RecordAttemptResult(context.Background(), id, result)
	if err != nil {
		t.Fatalf("RecordAttemptResult() error = %v", err)
	}
	return op
}

func failure(code, msg string) *core.AttemptResult {
	return &core.AttemptResult{LatencyMs: 20, Error: &core.AttemptError{Code: code, Message: msg}}
}

func success() *core.AttemptResult {
	return &core.AttemptResult{Success: true, LatencyMs: 15}
}
