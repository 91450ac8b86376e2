// Package state archives dead letter entries and poison signatures in DynamoDB.
package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// DynamoDBStore implements the Store interface using AWS DynamoDB.
// Single-table design with PK/SK pattern:
//   - Dead letter: PK="DLQ#<id>", SK="DLQ"
//   - Poison: PK="POISON#<key>", SK="POISON"
//
// GSI1: GSI1PK (TENANT#<tenant>) + GSI1SK (DLQ#<enqueued_at> | POISON#<last_seen_at>)
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
}

var _ Store = (*DynamoDBStore)(nil)

// NewDynamoDBStore creates a new DynamoDB store.
func NewDynamoDBStore(client *dynamodb.Client, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

// EnsureTable creates the table with its GSI if it doesn't exist.
func (s *DynamoDBStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String("GSI1"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("GSI1PK"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("GSI1SK"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("failed waiting for table: %w", err)
	}

	return nil
}

// PutDeadLetter stores a dead letter entry, replacing any previous version.
func (s *DynamoDBStore) PutDeadLetter(ctx context.Context, entry *core.DlqEntry) error {
	item, err := attributevalue.MarshalMap(DlqEntryToRecord(entry))
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put dead letter entry: %w", err)
	}

	return nil
}

// GetDeadLetter retrieves a dead letter entry by id.
func (s *DynamoDBStore) GetDeadLetter(ctx context.Context, id string) (*core.DlqEntry, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: deadLetterPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skDeadLetter},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter entry: %w", err)
	}

	if result.Item == nil {
		return nil, core.NewNotFoundError("Dead letter entry", id)
	}

	var record DeadLetterRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter entry: %w", err)
	}

	return RecordToDlqEntry(&record), nil
}

// ListDeadLettersByTenant returns a tenant's archived entries, oldest first.
// Tables created without GSI1 fall back to a filtered scan.
func (s *DynamoDBStore) ListDeadLettersByTenant(ctx context.Context, tenantID string, limit int) ([]*core.DlqEntry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			":prefix": &types.AttributeValueMemberS{Value: skDeadLetter + "#"},
		},
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	result, err := s.client.Query(ctx, input)
	if err == nil {
		return unmarshalDeadLetters(result.Items)
	}
	if !isMissingIndexError(err) {
		return nil, fmt.Errorf("failed to query dead letter entries: %w", err)
	}

	// Compatibility fallback for tables without GSI1.
	scan, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("SK = :sk AND tenant_id = :tenant"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sk":     &types.AttributeValueMemberS{Value: skDeadLetter},
			":tenant": &types.AttributeValueMemberS{Value: tenantID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan dead letter entries: %w", err)
	}
	entries, err := unmarshalDeadLetters(scan.Items)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func unmarshalDeadLetters(items []map[string]types.AttributeValue) ([]*core.DlqEntry, error) {
	var records []DeadLetterRecord
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter entries: %w", err)
	}
	entries := make([]*core.DlqEntry, 0, len(records))
	for i := range records {
		entries = append(entries, RecordToDlqEntry(&records[i]))
	}
	return entries, nil
}

func isMissingIndexError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "The table does not have the specified index") ||
		strings.Contains(msg, "Cannot read from backfilling global secondary index")
}

// PutPoisonRecord stores a poison signature.
func (s *DynamoDBStore) PutPoisonRecord(ctx context.Context, rec *core.PoisonMessageRecord) error {
	item, err := attributevalue.MarshalMap(PoisonToRecord(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal poison record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put poison record: %w", err)
	}

	return nil
}

// DeletePoisonRecord removes a poison signature.
func (s *DynamoDBStore) DeletePoisonRecord(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: poisonPK(key)},
			"SK": &types.AttributeValueMemberS{Value: skPoison},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete poison record: %w", err)
	}

	return nil
}

// Ping checks the connection to DynamoDB.
func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to ping DynamoDB: %w", err)
	}

	return nil
}

// Close closes the store (no-op for DynamoDB client).
func (s *DynamoDBStore) Close() error {
	return nil
}
