package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// MaxSQSMessageSize is the maximum SQS message size (256 KB).
const MaxSQSMessageSize = 256 * 1024

// ErrCodePayloadTooLarge is reported as the attempt error code when an
// operation cannot be encoded within the SQS size limit.
const ErrCodePayloadTooLarge = "payload_too_large"

// Message is the body executors receive for one attempt.
type Message struct {
	OperationID    string            `json:"operation_id"`
	PolicyID       string            `json:"policy_id"`
	TenantID       string            `json:"tenant_id"`
	OperationType  string            `json:"operation_type"`
	Attempt        int               `json:"attempt"`
	MaxAttempts    int               `json:"max_attempts"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	DispatchedAt   string            `json:"dispatched_at"`
}

// NewMessage builds the message for the next attempt of op.
func NewMessage(op *core.RetryOperation, at time.Time) *Message {
	return &Message{
		OperationID:    op.ID,
		PolicyID:       op.PolicyID,
		TenantID:       op.TenantID,
		OperationType:  op.OperationType,
		Attempt:        op.AttemptNumber + 1,
		MaxAttempts:    op.MaxAttempts,
		IdempotencyKey: op.IdempotencyKey,
		Payload:        op.Payload,
		Metadata:       op.Metadata,
		DispatchedAt:   core.FormatTime(at),
	}
}

// EncodeMessage serializes a message for the SQS body.
// Returns an error if the encoded payload exceeds 256KB.
func EncodeMessage(msg *Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	if len(data) > MaxSQSMessageSize {
		return "", &core.OJSError{
			Code:    ErrCodePayloadTooLarge,
			Message: fmt.Sprintf("Operation payload size (%d bytes) exceeds SQS maximum of %d bytes.", len(data), MaxSQSMessageSize),
			Details: map[string]any{
				"payload_size": len(data),
				"max_size":     MaxSQSMessageSize,
				"operation_id": msg.OperationID,
			},
		}
	}

	return string(data), nil
}

// DecodeMessage deserializes a message from an SQS body.
func DecodeMessage(body string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.OperationID == "" {
		return nil, core.NewInvalidRequestError("Message is missing operation_id.", nil)
	}
	return &msg, nil
}
