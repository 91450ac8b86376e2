package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// Sort keys for the single-table layout.
const (
	skDeadLetter = "DLQ"
	skPoison     = "POISON"
)

// DeadLetterRecord represents a dead letter entry stored in DynamoDB.
type DeadLetterRecord struct {
	PK            string `dynamodbav:"PK"` // DLQ#<id>
	SK            string `dynamodbav:"SK"`
	ID            string `dynamodbav:"dlq_id"`
	OperationID   string `dynamodbav:"operation_id"`
	TenantID      string `dynamodbav:"tenant_id"`
	OperationType string `dynamodbav:"operation_type"`
	Payload       string `dynamodbav:"payload,omitempty"`
	ErrorMessage  string `dynamodbav:"error_message"`
	TotalAttempts int    `dynamodbav:"total_attempts"`
	EnqueuedAt    string `dynamodbav:"enqueued_at"`
	ProcessedAt   string `dynamodbav:"processed_at,omitempty"`
	Requeued      bool   `dynamodbav:"requeued"`
	RequeueCount  int    `dynamodbav:"requeue_count"`

	// GSI attributes for per-tenant listing
	GSI1PK string `dynamodbav:"GSI1PK,omitempty"` // TENANT#<tenant>
	GSI1SK string `dynamodbav:"GSI1SK,omitempty"` // DLQ#<enqueued_at>
}

// PoisonRecord represents a poison message signature stored in DynamoDB.
type PoisonRecord struct {
	PK                  string `dynamodbav:"PK"` // POISON#<key>
	SK                  string `dynamodbav:"SK"`
	Key                 string `dynamodbav:"poison_key"`
	OperationID         string `dynamodbav:"operation_id"`
	PolicyID            string `dynamodbav:"policy_id"`
	TenantID            string `dynamodbav:"tenant_id"`
	ConsecutiveFailures int    `dynamodbav:"consecutive_failures"`
	ErrorPattern        string `dynamodbav:"error_pattern"`
	FirstSeenAt         string `dynamodbav:"first_seen_at"`
	LastSeenAt          string `dynamodbav:"last_seen_at"`
	Quarantined         bool   `dynamodbav:"quarantined"`

	GSI1PK string `dynamodbav:"GSI1PK,omitempty"` // TENANT#<tenant>
	GSI1SK string `dynamodbav:"GSI1SK,omitempty"` // POISON#<last_seen_at>
}

// Store is the archive for dead letter entries and poison signatures.
type Store interface {
	PutDeadLetter(ctx context.Context, entry *core.DlqEntry) error
	GetDeadLetter(ctx context.Context, id string) (*core.DlqEntry, error)
	ListDeadLettersByTenant(ctx context.Context, tenantID string, limit int) ([]*core.DlqEntry, error)

	PutPoisonRecord(ctx context.Context, rec *core.PoisonMessageRecord) error
	DeletePoisonRecord(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Close the store
	Close() error
}

func deadLetterPK(id string) string { return "DLQ#" + id }
func poisonPK(key string) string    { return "POISON#" + key }
func tenantPK(tenantID string) string {
	return "TENANT#" + tenantID
}

// DlqEntryToRecord converts a dead letter entry to its stored form.
func DlqEntryToRecord(e *core.DlqEntry) *DeadLetterRecord {
	enqueued := core.FormatTime(e.EnqueuedAt)
	r := &DeadLetterRecord{
		PK:            deadLetterPK(e.ID),
		SK:            skDeadLetter,
		ID:            e.ID,
		OperationID:   e.OperationID,
		TenantID:      e.TenantID,
		OperationType: e.OperationType,
		ErrorMessage:  e.ErrorMessage,
		TotalAttempts: e.TotalAttempts,
		EnqueuedAt:    enqueued,
		Requeued:      e.Requeued,
		RequeueCount:  e.RequeueCount,
		GSI1PK:        tenantPK(e.TenantID),
		GSI1SK:        skDeadLetter + "#" + enqueued,
	}
	if len(e.Payload) > 0 {
		r.Payload = string(e.Payload)
	}
	if e.ProcessedAt != nil {
		r.ProcessedAt = core.FormatTime(*e.ProcessedAt)
	}
	return r
}

// RecordToDlqEntry converts a stored record back to a dead letter entry.
func RecordToDlqEntry(r *DeadLetterRecord) *core.DlqEntry {
	e := &core.DlqEntry{
		ID:            r.ID,
		OperationID:   r.OperationID,
		TenantID:      r.TenantID,
		OperationType: r.OperationType,
		ErrorMessage:  r.ErrorMessage,
		TotalAttempts: r.TotalAttempts,
		EnqueuedAt:    parseTime(r.EnqueuedAt),
		Requeued:      r.Requeued,
		RequeueCount:  r.RequeueCount,
	}
	if r.Payload != "" {
		e.Payload = json.RawMessage(r.Payload)
	}
	if r.ProcessedAt != "" {
		t := parseTime(r.ProcessedAt)
		e.ProcessedAt = &t
	}
	return e
}

// PoisonToRecord converts a poison signature to its stored form.
func PoisonToRecord(p *core.PoisonMessageRecord) *PoisonRecord {
	lastSeen := core.FormatTime(p.LastSeenAt)
	return &PoisonRecord{
		PK:                  poisonPK(p.Key),
		SK:                  skPoison,
		Key:                 p.Key,
		OperationID:         p.OperationID,
		PolicyID:            p.PolicyID,
		TenantID:            p.TenantID,
		ConsecutiveFailures: p.ConsecutiveFailures,
		ErrorPattern:        p.ErrorPattern,
		FirstSeenAt:         core.FormatTime(p.FirstSeenAt),
		LastSeenAt:          lastSeen,
		Quarantined:         p.Quarantined,
		GSI1PK:              tenantPK(p.TenantID),
		GSI1SK:              skPoison + "#" + lastSeen,
	}
}

// RecordToPoison converts a stored record back to a poison signature.
func RecordToPoison(r *PoisonRecord) *core.PoisonMessageRecord {
	return &core.PoisonMessageRecord{
		Key:                 r.Key,
		OperationID:         r.OperationID,
		PolicyID:            r.PolicyID,
		TenantID:            r.TenantID,
		ConsecutiveFailures: r.ConsecutiveFailures,
		ErrorPattern:        r.ErrorPattern,
		FirstSeenAt:         parseTime(r.FirstSeenAt),
		LastSeenAt:          parseTime(r.LastSeenAt),
		Quarantined:         r.Quarantined,
	}
}

// parseTime reads a timestamp written by core.FormatTime. Malformed values
// yield the zero time.
func parseTime(s string) time.Time {
	t, err := time.Parse(core.TimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
