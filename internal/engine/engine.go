// Package engine implements the in-process retry orchestration engine: policy
// registry, operation state machine, attempt log, poison detection, storm
// guard, dead letter queue and analytics.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
	"github.com/openjobspec/ojs-retry-engine/internal/metrics"
)

const (
	// DefaultAttemptLogCapacity bounds the in-memory attempt history.
	DefaultAttemptLogCapacity = 50000
	// DefaultPoisonThreshold is the failure streak above which a signature is quarantined.
	DefaultPoisonThreshold = 10
)

// Engine is the orchestrator facade. It is safe for concurrent use.
//
// Lock order: mu, then the registry, poison detector and attempt log locks.
// None of the inner components ever acquires mu.
type Engine struct {
	mu  sync.RWMutex
	ops *operationStore
	dlq *dlqStore

	policies *policyRegistry
	attempts *AttemptLog
	poison   *poisonDetector
	storms   *stormGuard
	backoff  *core.Backoff

	publisher core.EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	// followups holds events caused by the transition in progress. They are
	// published after its state change. Guarded by mu.
	followups []*core.OperationEvent
}

var _ core.Engine = (*Engine)(nil)

type options struct {
	clock           func() time.Time
	seed            int64
	logCapacity     int
	poisonThreshold int
	publisher       core.EventPublisher
	logger          *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithSeed seeds the backoff random source so delays are reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithAttemptLogCapacity sets the ring buffer size of the attempt log.
func WithAttemptLogCapacity(n int) Option {
	return func(o *options) { o.logCapacity = n }
}

// WithPoisonThreshold sets the consecutive-failure count a signature must exceed
// before it is quarantined.
func WithPoisonThreshold(n int) Option {
	return func(o *options) { o.poisonThreshold = n }
}

// WithPublisher attaches an event publisher for state changes.
func WithPublisher(p core.EventPublisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	o := options{
		clock:           time.Now,
		seed:            time.Now().UnixNano(),
		logCapacity:     DefaultAttemptLogCapacity,
		poisonThreshold: DefaultPoisonThreshold,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logCapacity <= 0 {
		o.logCapacity = DefaultAttemptLogCapacity
	}
	if o.poisonThreshold <= 0 {
		o.poisonThreshold = DefaultPoisonThreshold
	}

	log := NewAttemptLog(o.logCapacity)
	return &Engine{
		ops:       newOperationStore(),
		dlq:       newDlqStore(),
		policies:  newPolicyRegistry(),
		attempts:  log,
		poison:    newPoisonDetector(o.poisonThreshold),
		storms:    &stormGuard{log: log},
		backoff:   core.NewBackoff(o.seed),
		publisher: o.publisher,
		logger:    o.logger,
		now:       func() time.Time { return o.clock().UTC() },
	}
}

// SetPublisher attaches an event publisher after construction.
func (e *Engine) SetPublisher(p core.EventPublisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = p
}

// publish sends an event if a publisher is attached. Publishers never block.
func (e *Engine) publish(ev *core.OperationEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishOperationEvent(ev); err != nil {
		e.logger.Debug("event publish failed", "event", ev.EventType, "operation_id", ev.OperationID, "error", err)
	}
}

// followup queues ev until the current transition has been published.
// Called with e.mu held.
func (e *Engine) followup(ev *core.OperationEvent) {
	e.followups = append(e.followups, ev)
}

// transition publishes a state change and counts it, then flushes any
// followup events so subscribers see them in causal order.
func (e *Engine) transition(op *core.RetryOperation, from string, at time.Time) {
	if from != op.Status || from == core.StatusRetrying {
		metrics.Transitions.WithLabelValues(labelOrNone(from), op.Status).Inc()
		e.publish(core.NewStateChangedEvent(op, from, at))
	}
	for _, ev := range e.followups {
		e.publish(ev)
	}
	e.followups = nil
}

func labelOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
