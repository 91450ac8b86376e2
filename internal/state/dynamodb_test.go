package state

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

func newTestDynamoStore(t *testing.T, h http.HandlerFunc) *DynamoDBStore {
	t.Helper()

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	cfg, err := config.LoadDefaultConfig(
		context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               server.URL,
					HostnameImmutable: true,
					PartitionID:       "aws",
				}, nil
			},
		)),
	)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.RetryMaxAttempts = 1
	})

	return NewDynamoDBStore(client, "ojs-retry-test")
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	_, _ = io.WriteString(w, body)
}

func TestPutDeadLetter_WritesSingleTableItem(t *testing.T) {
	var (
		mu      sync.Mutex
		payload string
	)
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		if target := r.Header.Get("X-Amz-Target"); target != "DynamoDB_20120810.PutItem" {
			t.Fatalf("unexpected target: %s", target)
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		payload = string(body)
		mu.Unlock()
		writeJSON(w, `{}`)
	})

	err := store.PutDeadLetter(context.Background(), &core.DlqEntry{
		ID:            "dlq-1",
		OperationID:   "op-1",
		TenantID:      "tenant-a",
		OperationType: "email.send",
		ErrorMessage:  "bounced",
		TotalAttempts: 3,
	})
	if err != nil {
		t.Fatalf("PutDeadLetter returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, want := range []string{`"TableName":"ojs-retry-test"`, `"S":"DLQ#dlq-1"`, `"S":"TENANT#tenant-a"`, `"total_attempts":{"N":"3"}`} {
		if !strings.Contains(payload, want) {
			t.Errorf("PutItem payload missing %s: %s", want, payload)
		}
	}
}

func TestGetDeadLetter(t *testing.T) {
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "DLQ#dlq-7") {
			writeJSON(w, `{}`)
			return
		}
		writeJSON(w, `{"Item":{
			"PK":{"S":"DLQ#dlq-7"},"SK":{"S":"DLQ"},
			"dlq_id":{"S":"dlq-7"},"operation_id":{"S":"op-7"},
			"tenant_id":{"S":"tenant-a"},"operation_type":{"S":"sms.send"},
			"error_message":{"S":"carrier down"},"total_attempts":{"N":"5"},
			"enqueued_at":{"S":"2025-01-01T10:00:00.000Z"},
			"requeued":{"BOOL":false},"requeue_count":{"N":"0"}}}`)
	})

	entry, err := store.GetDeadLetter(context.Background(), "dlq-7")
	if err != nil {
		t.Fatalf("GetDeadLetter returned error: %v", err)
	}
	if entry.OperationID != "op-7" || entry.TotalAttempts != 5 || entry.ErrorMessage != "carrier down" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not parsed")
	}

	if _, err := store.GetDeadLetter(context.Background(), "missing"); !core.IsNotFound(err) {
		t.Errorf("missing entry: error = %v, want not found", err)
	}
}

func TestListDeadLettersByTenant_UsesIndexQuery(t *testing.T) {
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		if target := r.Header.Get("X-Amz-Target"); target != "DynamoDB_20120810.Query" {
			t.Fatalf("unexpected target: %s", target)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"IndexName":"GSI1"`) || !strings.Contains(string(body), "TENANT#tenant-a") {
			t.Fatalf("query payload = %s", body)
		}
		writeJSON(w, `{"Items":[{"dlq_id":{"S":"a"}},{"dlq_id":{"S":"b"}}]}`)
	})

	entries, err := store.ListDeadLettersByTenant(context.Background(), "tenant-a", 10)
	if err != nil {
		t.Fatalf("ListDeadLettersByTenant returned error: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "a" || entries[1].ID != "b" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestListDeadLettersByTenant_FallsBackToScanWithoutIndex(t *testing.T) {
	var queryCount, scanCount int32
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-Amz-Target") {
		case "DynamoDB_20120810.Query":
			atomic.AddInt32(&queryCount, 1)
			w.Header().Set("Content-Type", "application/x-amz-json-1.0")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"__type":"com.amazonaws.dynamodb.v20120810#ValidationException","message":"The table does not have the specified index: GSI1"}`)
		case "DynamoDB_20120810.Scan":
			atomic.AddInt32(&scanCount, 1)
			writeJSON(w, `{"Items":[{"dlq_id":{"S":"a"}},{"dlq_id":{"S":"b"}},{"dlq_id":{"S":"c"}}]}`)
		default:
			t.Fatalf("unexpected target: %s", r.Header.Get("X-Amz-Target"))
		}
	})

	entries, err := store.ListDeadLettersByTenant(context.Background(), "tenant-a", 2)
	if err != nil {
		t.Fatalf("ListDeadLettersByTenant returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want limit of 2", len(entries))
	}
	if atomic.LoadInt32(&queryCount) != 1 || atomic.LoadInt32(&scanCount) != 1 {
		t.Errorf("query/scan = %d/%d, want 1/1", queryCount, scanCount)
	}
}

func TestPoisonRecordWrites(t *testing.T) {
	var (
		mu      sync.Mutex
		targets []string
	)
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		targets = append(targets, r.Header.Get("X-Amz-Target"))
		mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "POISON#tenant-a:p:boom") {
			t.Errorf("payload missing poison key: %s", body)
		}
		writeJSON(w, `{}`)
	})

	rec := &core.PoisonMessageRecord{Key: "tenant-a:p:boom", TenantID: "tenant-a", ConsecutiveFailures: 2}
	if err := store.PutPoisonRecord(context.Background(), rec); err != nil {
		t.Fatalf("PutPoisonRecord returned error: %v", err)
	}
	if err := store.DeletePoisonRecord(context.Background(), rec.Key); err != nil {
		t.Fatalf("DeletePoisonRecord returned error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(targets) != 2 || targets[0] != "DynamoDB_20120810.PutItem" || targets[1] != "DynamoDB_20120810.DeleteItem" {
		t.Errorf("targets = %v", targets)
	}
}

func TestEnsureTable_ExistingTable(t *testing.T) {
	var calls int32
	store := newTestDynamoStore(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if target := r.Header.Get("X-Amz-Target"); target != "DynamoDB_20120810.DescribeTable" {
			t.Fatalf("unexpected target: %s", target)
		}
		writeJSON(w, `{"Table":{"TableName":"ojs-retry-test","TableStatus":"ACTIVE"}}`)
	})

	if err := store.EnsureTable(context.Background()); err != nil {
		t.Fatalf("EnsureTable returned error: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}
