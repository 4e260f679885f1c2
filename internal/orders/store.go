package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
)

// ErrVersionMismatch is returned when a status write loses a race with
// another writer, or the order vanished between read and write.
var ErrVersionMismatch = errors.New("order version mismatch/conditional failed")

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	userIndex string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store. userIndex is the GSI keyed by user_id
// (sort key created_at) used to list a shopper's orders.
func NewStore(client aws.DynamoDBAPI, tableName, userIndex string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		userIndex: userIndex,
		nowFunc:   time.Now,
	}
}

// Create persists a new order in one TransactWriteItems call. guards are
// written in the same transaction ahead of the order put (stock reservations,
// idempotency record), so either everything commits or nothing does.
// The order put is the last item of the transaction.
func (s *Store) Create(ctx context.Context, order Order, guards ...types.TransactWriteItem) error {
	if err := order.Validate(); err != nil {
		return err
	}

	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := make([]types.TransactWriteItem, 0, len(guards)+1)
	transactItems = append(transactItems, guards...)
	transactItems = append(transactItems, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                orderMap,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		},
	})

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// StatusChange describes the fields written by a status transition.
type StatusChange struct {
	Status        Status
	PaymentStatus PaymentStatus
	DeliveredAt   *time.Time
	StockRestored bool
}

// Apply returns a copy of o with the change applied and the version bumped.
func (c StatusChange) Apply(o Order, now time.Time) Order {
	o.Status = c.Status
	o.PaymentStatus = c.PaymentStatus
	if c.DeliveredAt != nil {
		o.DeliveredAt = c.DeliveredAt
	}
	if c.StockRestored {
		o.StockRestored = true
	}
	o.UpdatedAt = now
	o.Version++
	return o
}

// UpdateStatus writes a status change conditioned on the order still being at
// current.Version. Extra guards (stock restores) commit in the same transaction.
// Returns the updated order, or ErrVersionMismatch if the condition failed.
func (s *Store) UpdateStatus(ctx context.Context, current Order, change StatusChange, guards ...types.TransactWriteItem) (*Order, error) {
	now := s.nowFunc().UTC()
	update := s.statusUpdate(current, change, now)

	var err error
	if len(guards) == 0 {
		_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ConditionExpression:       update.ConditionExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
		})
	} else {
		items := append([]types.TransactWriteItem{{Update: update}}, guards...)
		_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	}
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrVersionMismatch
		}
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if len(tce.CancellationReasons) > 0 && reasonCode(tce.CancellationReasons[0]) == "ConditionalCheckFailed" {
				return nil, ErrVersionMismatch
			}
			return nil, fmt.Errorf("status transaction canceled: %w", err)
		}
		return nil, fmt.Errorf("update item: %w", err)
	}

	updated := change.Apply(current, now)
	return &updated, nil
}

func (s *Store) statusUpdate(current Order, change StatusChange, now time.Time) *types.Update {
	expr := "SET #s = :new, payment_status = :ps, updated_at = :ua, version = :next"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: string(change.Status)},
		":ps":       &types.AttributeValueMemberS{Value: string(change.PaymentStatus)},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":next":     &types.AttributeValueMemberN{Value: strconv.Itoa(current.Version + 1)},
		":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(current.Version)},
	}
	if change.DeliveredAt != nil {
		expr += ", delivered_at = :da"
		values[":da"] = &types.AttributeValueMemberS{Value: change.DeliveredAt.UTC().Format(time.RFC3339Nano)}
	}
	if change.StockRestored {
		expr += ", stock_restored = :sr"
		values[":sr"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	return &types.Update{
		TableName:                 &s.tableName,
		Key:                       orderKey(current.OrderID),
		UpdateExpression:          &expr,
		ConditionExpression:       awsString("version = :expected"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	}
}

// ListByUser returns every order owned by userID, optionally restricted to one status.
func (s *Store) ListByUser(ctx context.Context, userID string, status Status) ([]Order, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.userIndex,
		KeyConditionExpression: awsString("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: awsBool(false),
	}
	if status != "" {
		input.FilterExpression = awsString("#s = :status")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	}

	var out []Order
	p := dyn.NewQueryPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// ListAll returns every order, optionally restricted to one status.
func (s *Store) ListAll(ctx context.Context, status Status) ([]Order, error) {
	input := &dyn.ScanInput{TableName: &s.tableName}
	if status != "" {
		input.FilterExpression = awsString("#s = :status")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		}
	}

	var out []Order
	p := dyn.NewScanPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func reasonCode(r types.CancellationReason) string {
	if r.Code == nil {
		return ""
	}
	return *r.Code
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
