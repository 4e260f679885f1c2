package catalog

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

// Condition used when reserving stock. A product that disappeared, was
// deactivated, or no longer has enough units fails the whole transaction.
const reserveCondition = "attribute_exists(product_id) AND active = :active AND stock >= :qty"

// ErrInvalidProduct is returned by Put for records that would break catalog invariants.
var ErrInvalidProduct = errors.New("invalid product")

// Store encapsulates operations on the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new catalog Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get fetches a product with a strongly consistent read. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            productKey(productID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Put creates or replaces a product. Catalog management lives elsewhere; this
// is used for seeding and tests.
func (s *Store) Put(ctx context.Context, p Product) error {
	if p.ProductID == "" {
		return fmt.Errorf("%w: missing product_id", ErrInvalidProduct)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: negative stock for %s", ErrInvalidProduct, p.ProductID)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: negative price for %s", ErrInvalidProduct, p.ProductID)
	}

	now := s.nowFunc().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// ReserveItem returns a transaction item that decrements stock by qty only if
// the product is active and has at least qty units.
func (s *Store) ReserveItem(productID string, qty int, now time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 productKey(productID),
			UpdateExpression:    awsString("SET stock = stock - :qty, updated_at = :ua"),
			ConditionExpression: awsString(reserveCondition),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":qty":    &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
				":active": &types.AttributeValueMemberBOOL{Value: true},
				":ua":     &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
			},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}
}

// RestockItem returns a transaction item that adds qty units back to a product.
// Inactive products are restocked too; the units exist regardless of listing.
func (s *Store) RestockItem(productID string, qty int, now time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 productKey(productID),
			UpdateExpression:    awsString("SET stock = stock + :qty, updated_at = :ua"),
			ConditionExpression: awsString("attribute_exists(product_id)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":qty": &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
				":ua":  &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
			},
		},
	}
}

func productKey(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
