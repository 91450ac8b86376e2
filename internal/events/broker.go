// Package events provides the in-memory fan-out used for real-time
// operation notifications.
package events

import (
	"log/slog"
	"sync"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// subscriberBuffer is the per-subscriber channel size. Slow subscribers drop events.
const subscriberBuffer = 64

// subscription represents a single subscriber channel with its filter.
type subscription struct {
	ch     chan *core.OperationEvent
	filter func(*core.OperationEvent) bool
	once   sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broker implements core.EventPublisher and core.EventSubscriber using
// in-memory fan-out. Publishing never blocks.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
	logger *slog.Logger
}

var (
	_ core.EventPublisher  = (*Broker)(nil)
	_ core.EventSubscriber = (*Broker)(nil)
)

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[*subscription]struct{}),
		logger: logger,
	}
}

// PublishOperationEvent delivers an event to all matching subscribers.
func (b *Broker) PublishOperationEvent(event *core.OperationEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("dropping event, subscriber channel full",
				"operation_id", event.OperationID, "event", event.EventType)
		}
	}
	return nil
}

// SubscribeOperation subscribes to events for a specific operation.
func (b *Broker) SubscribeOperation(operationID string) (<-chan *core.OperationEvent, func(), error) {
	return b.subscribe(func(e *core.OperationEvent) bool {
		return e.OperationID == operationID
	})
}

// SubscribeTenant subscribes to events for all operations of a tenant.
func (b *Broker) SubscribeTenant(tenantID string) (<-chan *core.OperationEvent, func(), error) {
	return b.subscribe(func(e *core.OperationEvent) bool {
		return e.TenantID == tenantID
	})
}

// SubscribeAll subscribes to all events.
func (b *Broker) SubscribeAll() (<-chan *core.OperationEvent, func(), error) {
	return b.subscribe(nil)
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) subscribe(filter func(*core.OperationEvent) bool) (<-chan *core.OperationEvent, func(), error) {
	sub := &subscription{ch: make(chan *core.OperationEvent, subscriberBuffer), filter: filter}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, core.NewConflictError("Event broker is closed.", nil)
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.close()
	}
	return sub.ch, unsubscribe, nil
}

// Close removes all subscriptions and closes their channels. Unsubscribe
// functions remain safe to call afterwards.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		sub.close()
	}
	b.subs = make(map[*subscription]struct{})
	return nil
}
