package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
)

const (
	unclaimed = "attribute_not_exists(idempotency_key)"
	claimed   = "attribute_exists(idempotency_key)"
)

// Store reads and writes idempotency records in DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttl       time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a Store whose records expire ttl after they are claimed.
func NewStore(client aws.DynamoDBAPI, tableName string, ttl time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		nowFunc:   time.Now,
	}
}

func (s *Store) claimPut(key, ref, requestHash string) (*types.Put, error) {
	now := s.nowFunc().UTC()
	item, err := attributevalue.MarshalMap(Record{
		Key:         key,
		Status:      StatusInProgress,
		Ref:         ref,
		RequestHash: requestHash,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.ttl).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}
	return &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(unclaimed),
	}, nil
}

// Claim writes an IN_PROGRESS record for key. It returns false, without an
// error, when the key was already claimed; Get tells what happened to it.
func (s *Store) Claim(ctx context.Context, key, ref string) (bool, error) {
	put, err := s.claimPut(key, ref, "")
	if err != nil {
		return false, err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           put.TableName,
		Item:                put.Item,
		ConditionExpression: put.ConditionExpression,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return true, nil
}

// ClaimItem is Claim as a transaction item, so the claim commits or fails
// together with the writes it protects.
func (s *Store) ClaimItem(key, ref, requestHash string) (types.TransactWriteItem, error) {
	put, err := s.claimPut(key, ref, requestHash)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Put: put}, nil
}

// Get returns the record for key, or (nil, nil) when there is none.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            recordKey(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}

// Complete marks key DONE and keeps the response to replay for repeats.
func (s *Store) Complete(ctx context.Context, key, responseBody string, responseStatus int) error {
	return s.finish(ctx, key, StatusDone, "response_body = :rb, response_status = :rs", map[string]types.AttributeValue{
		":rb": &types.AttributeValueMemberS{Value: responseBody},
		":rs": &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
	})
}

// Fail marks key FAILED with a note; a later attempt may run again.
func (s *Store) Fail(ctx context.Context, key, note string) error {
	return s.finish(ctx, key, StatusFailed, "#n = :n", map[string]types.AttributeValue{
		":n": &types.AttributeValueMemberS{Value: note},
	})
}

// finish moves an existing record to status and sets the extra fields.
func (s *Store) finish(ctx context.Context, key, status, set string, values map[string]types.AttributeValue) error {
	values[":st"] = &types.AttributeValueMemberS{Value: status}
	values[":ua"] = &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       recordKey(key),
		UpdateExpression:          awsString("SET #s = :st, updated_at = :ua, " + set),
		ConditionExpression:       awsString(claimed),
		ExpressionAttributeNames:  names(set),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("mark idempotency record %s: %w", status, err)
	}
	return nil
}

func names(set string) map[string]string {
	out := map[string]string{"#s": "status"}
	if strings.Contains(set, "#n") {
		out["#n"] = "note"
	}
	return out
}

func recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
