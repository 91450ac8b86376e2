package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// Client is a typed RetryService client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, req any, field string, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, resp); err != nil {
		return err
	}
	value, ok := resp.GetFields()[field]
	if !ok {
		return fmt.Errorf("%s response is missing %q", method, field)
	}
	data, err := value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// Enqueue creates or resumes an operation.
func (c *Client) Enqueue(ctx context.Context, req *core.EnqueueRequest) (*core.RetryOperation, error) {
	var op core.RetryOperation
	if err := c.call(ctx, "Enqueue", req, "operation", &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// RecordAttemptResult reports the outcome of one attempt.
func (c *Client) RecordAttemptResult(ctx context.Context, operationID string, result *core.AttemptResult) (*core.RetryOperation, error) {
	var op core.RetryOperation
	req := attemptRequest{OperationID: operationID, AttemptResult: *result}
	if err := c.call(ctx, "RecordAttemptResult", req, "operation", &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetOperation fetches an operation by id.
func (c *Client) GetOperation(ctx context.Context, operationID string) (*core.RetryOperation, error) {
	var op core.RetryOperation
	if err := c.call(ctx, "GetOperation", operationRef{OperationID: operationID}, "operation", &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// RequeueDeadLetter sends a dead letter entry back to pending.
func (c *Client) RequeueDeadLetter(ctx context.Context, dlqID string) (*core.RetryOperation, error) {
	var op core.RetryOperation
	if err := c.call(ctx, "RequeueDeadLetter", dlqRef{DlqID: dlqID}, "operation", &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetStormStatus reports the storm window for a (policy, tenant) pair.
func (c *Client) GetStormStatus(ctx context.Context, policyID, tenantID string) (*core.StormStatus, error) {
	var st core.StormStatus
	if err := c.call(ctx, "GetStormStatus", policyTenantRef{PolicyID: policyID, TenantID: tenantID}, "storm", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetAnalytics aggregates outcomes for a policy.
func (c *Client) GetAnalytics(ctx context.Context, policyID, tenantID string) (*core.RetryAnalytics, error) {
	var a core.RetryAnalytics
	if err := c.call(ctx, "GetAnalytics", policyTenantRef{PolicyID: policyID, TenantID: tenantID}, "analytics", &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetSummary returns global counters.
func (c *Client) GetSummary(ctx context.Context) (*core.Summary, error) {
	var s core.Summary
	if err := c.call(ctx, "GetSummary", struct{}{}, "summary", &s); err != nil {
		return nil, err
	}
	return &s, nil
}
