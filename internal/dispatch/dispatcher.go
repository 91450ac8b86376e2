// Package dispatch hands due retry operations to executors through SQS.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/time/rate"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
	"github.com/openjobspec/ojs-retry-engine/internal/metrics"
)

// ErrCodeDispatchFailed is the attempt error code reported when a message
// could not be sent.
const ErrCodeDispatchFailed = "dispatch_failed"

// SQSAPI is the subset of the SQS client used by the dispatcher.
type SQSAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
}

// Engine is the part of the retry engine the dispatcher drives.
type Engine interface {
	ClaimDue(ctx context.Context, limit int) ([]*core.RetryOperation, error)
	RecordAttemptResult(ctx context.Context, operationID string, result *core.AttemptResult) (*core.RetryOperation, error)
}

// Config controls queue naming and throughput.
type Config struct {
	QueuePrefix string
	UseFIFO     bool
	// BatchSize is the number of operations claimed per DispatchDue call.
	BatchSize int
	// RatePerSecond caps SendMessage calls. Zero means unlimited.
	RatePerSecond float64
}

// Dispatcher claims due operations from the engine and publishes them to
// per-operation-type SQS queues.
type Dispatcher struct {
	client  SQSAPI
	engine  Engine
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	queueURLsMu sync.RWMutex
	queueURLs   map[string]string
}

// New creates a dispatcher.
func New(client SQSAPI, engine Engine, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.QueuePrefix == "" {
		cfg.QueuePrefix = "ojs-retry"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Dispatcher{
		client:    client,
		engine:    engine,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.BatchSize),
		logger:    logger,
		now:       time.Now,
		queueURLs: make(map[string]string),
	}
}

// DispatchDue claims up to BatchSize due operations and sends one message per
// operation. A failed send is reported back to the engine as a failed attempt
// so the retry state machine decides what happens next.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	ops, err := d.engine.ClaimDue(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due operations: %w", err)
	}

	sent := 0
	for _, op := range ops {
		if err := d.limiter.Wait(ctx); err != nil {
			d.reportFailure(op, ErrCodeDispatchFailed, fmt.Errorf("dispatch interrupted: %w", err))
			continue
		}
		if err := d.send(ctx, op); err != nil {
			code := ErrCodeDispatchFailed
			var ojsErr *core.OJSError
			if errors.As(err, &ojsErr) && ojsErr.Code == ErrCodePayloadTooLarge {
				code = ErrCodePayloadTooLarge
			}
			d.reportFailure(op, code, err)
			continue
		}
		sent++
		metrics.Dispatched.WithLabelValues(op.OperationType, "sent").Inc()
	}
	return sent, nil
}

func (d *Dispatcher) send(ctx context.Context, op *core.RetryOperation) error {
	queueURL, err := d.getOrCreateQueueURL(ctx, op.OperationType)
	if err != nil {
		return err
	}

	body, err := EncodeMessage(NewMessage(op, d.now()))
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: BuildMessageAttributes(op),
	}

	// FIFO ordering is per tenant; each attempt gets its own dedup id.
	if d.cfg.UseFIFO {
		input.MessageGroupId = aws.String(op.TenantID)
		input.MessageDeduplicationId = aws.String(fmt.Sprintf("%s-%d", op.ID, op.AttemptNumber+1))
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("SQS SendMessage: %w", err)
	}
	return nil
}

// reportFailure records an undeliverable attempt. Uses a fresh context so a
// cancelled dispatch still leaves the operation in a decided state.
func (d *Dispatcher) reportFailure(op *core.RetryOperation, code string, cause error) {
	metrics.Dispatched.WithLabelValues(op.OperationType, "failed").Inc()
	d.logger.Warn("dispatch failed", "operation_id", op.ID, "operation_type", op.OperationType, "error", cause)

	_, err := d.engine.RecordAttemptResult(context.Background(), op.ID, &core.AttemptResult{
		Error: &core.AttemptError{Code: code, Message: cause.Error()},
	})
	if err != nil {
		d.logger.Error("failed to record dispatch failure", "operation_id", op.ID, "error", err)
	}
}

// SQS queue naming convention:
//   {prefix}-{operation_type}       -- standard queue
//   {prefix}-{operation_type}.fifo  -- FIFO queue variant

// QueueName returns the SQS queue name for an operation type.
func (d *Dispatcher) QueueName(operationType string) string {
	name := d.cfg.QueuePrefix + "-" + sanitizeQueueName(operationType)
	if d.cfg.UseFIFO {
		name += ".fifo"
	}
	return name
}

// sanitizeQueueName converts an operation type to an SQS-compatible name.
// SQS allows alphanumeric, hyphens, and underscores (and .fifo suffix).
func sanitizeQueueName(name string) string {
	if name == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

// getOrCreateQueueURL gets (from cache) or creates an SQS queue and returns its URL.
func (d *Dispatcher) getOrCreateQueueURL(ctx context.Context, operationType string) (string, error) {
	d.queueURLsMu.RLock()
	if url, ok := d.queueURLs[operationType]; ok {
		d.queueURLsMu.RUnlock()
		return url, nil
	}
	d.queueURLsMu.RUnlock()

	name := d.QueueName(operationType)
	attrs := map[string]string{
		"ReceiveMessageWaitTimeSeconds": "20",
		"VisibilityTimeout":             "30",
		"MessageRetentionPeriod":        "1209600", // 14 days
	}
	if d.cfg.UseFIFO {
		attrs["FifoQueue"] = "true"
	}

	result, err := d.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("create SQS queue %s: %w", name, err)
	}

	url := aws.ToString(result.QueueUrl)
	d.queueURLsMu.Lock()
	d.queueURLs[operationType] = url
	d.queueURLsMu.Unlock()
	return url, nil
}

// Ping checks SQS connectivity.
func (d *Dispatcher) Ping(ctx context.Context) error {
	_, err := d.client.ListQueues(ctx, &sqs.ListQueuesInput{
		QueueNamePrefix: aws.String(d.cfg.QueuePrefix),
		MaxResults:      aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("failed to ping SQS: %w", err)
	}
	return nil
}
