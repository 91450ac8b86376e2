package core

import (
	"context"
	"time"
)

// PolicyManager handles retry policy CRUD.
type PolicyManager interface {
	CreatePolicy(ctx context.Context, policy *RetryPolicy) (*RetryPolicy, error)
	UpdatePolicy(ctx context.Context, id string, update *PolicyUpdate) (*RetryPolicy, error)
	GetPolicy(ctx context.Context, id string) (*RetryPolicy, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*RetryPolicy, error)
}

// OperationManager handles the operation lifecycle.
type OperationManager interface {
	Enqueue(ctx context.Context, req *EnqueueRequest) (*RetryOperation, error)
	RecordAttemptResult(ctx context.Context, operationID string, result *AttemptResult) (*RetryOperation, error)
	GetOperation(ctx context.Context, operationID string) (*RetryOperation, error)
	ClaimDue(ctx context.Context, limit int) ([]*RetryOperation, error)
	ListOperations(ctx context.Context, filter OperationFilter) ([]*RetryOperation, error)
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]*RetryAttempt, error)
}

// DeadLetterManager handles dead letter queue operations.
type DeadLetterManager interface {
	ListDlq(ctx context.Context, filter DlqFilter) ([]*DlqEntry, error)
	RequeueDlqEntry(ctx context.Context, dlqID string) (*RetryOperation, error)
}

// PoisonManager handles poison-message inspection and reset.
type PoisonManager interface {
	ListPoisonMessages(ctx context.Context, filter PoisonFilter) ([]*PoisonMessageRecord, error)
	ClearPoisonMessage(ctx context.Context, key string) error
	ExpirePoisonMessages(ctx context.Context, ttl time.Duration) (int, error)
}

// InsightManager exposes storm and analytics projections.
type InsightManager interface {
	GetStormStatus(ctx context.Context, policyID, tenantID string) (*StormStatus, error)
	GetAnalytics(ctx context.Context, policyID, tenantID string) (*RetryAnalytics, error)
	GetSummary(ctx context.Context) (*Summary, error)
}

// Engine is the full retry orchestration surface used by the transports.
type Engine interface {
	PolicyManager
	OperationManager
	DeadLetterManager
	PoisonManager
	InsightManager
}
