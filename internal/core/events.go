package core

import "time"

// Event types for real-time notifications.
const (
	EventOperationStateChanged = "operation.state_changed"
	EventDeadLettered          = "operation.dead_lettered"
	EventPoisonQuarantined     = "poison.quarantined"
	EventServerShutdown        = "server.shutdown"
)

// OperationEvent represents a real-time operation event.
type OperationEvent struct {
	EventType     string `json:"event"`
	OperationID   string `json:"operation_id"`
	PolicyID      string `json:"policy_id"`
	TenantID      string `json:"tenant_id"`
	OperationType string `json:"operation_type"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
	Attempt       int    `json:"attempt"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// NewStateChangedEvent creates an operation.state_changed event.
func NewStateChangedEvent(op *RetryOperation, from string, at time.Time) *OperationEvent {
	return &OperationEvent{
		EventType:     EventOperationStateChanged,
		OperationID:   op.ID,
		PolicyID:      op.PolicyID,
		TenantID:      op.TenantID,
		OperationType: op.OperationType,
		From:          from,
		To:            op.Status,
		Attempt:       op.AttemptNumber,
		Timestamp:     FormatTime(at),
	}
}

// EventPublisher defines the interface for publishing real-time events.
// Implementations must not block.
type EventPublisher interface {
	PublishOperationEvent(event *OperationEvent) error
	Close() error
}

// EventSubscriber defines the interface for subscribing to real-time events.
type EventSubscriber interface {
	// SubscribeOperation subscribes to events for a specific operation.
	SubscribeOperation(operationID string) (<-chan *OperationEvent, func(), error)
	// SubscribeTenant subscribes to events for all operations of a tenant.
	SubscribeTenant(tenantID string) (<-chan *OperationEvent, func(), error)
	// SubscribeAll subscribes to all events.
	SubscribeAll() (<-chan *OperationEvent, func(), error)
}
