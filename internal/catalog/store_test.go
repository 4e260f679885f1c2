package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-orderflow/internal/dynamotest"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

const table = "products"

func newStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New(map[string]string{table: "product_id"})
	s := NewStore(fake, table)
	s.nowFunc = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, fake
}

func TestPutAndGet(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Product{ProductID: "p1", Name: "Kettle", Price: money.MustParse("100"), Stock: 10, Active: true}))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Kettle", got.Name)
	assert.Equal(t, 10, got.Stock)
	assert.True(t, got.Price.Equal(money.FromInt(100)))
	assert.False(t, got.CreatedAt.IsZero())

	missing, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPut_RejectsInvalid(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	err := s.Put(ctx, Product{ProductID: "p1", Stock: -1})
	assert.True(t, errors.Is(err, ErrInvalidProduct))

	err = s.Put(ctx, Product{ProductID: "p1", Price: money.MustParse("-1")})
	assert.True(t, errors.Is(err, ErrInvalidProduct))

	err = s.Put(ctx, Product{})
	assert.True(t, errors.Is(err, ErrInvalidProduct))
}

func TestReserveItem_ConditionalDecrement(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Product{ProductID: "p1", Name: "Kettle", Price: money.FromInt(5), Stock: 3, Active: true}))

	now := time.Now()
	_, err := fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{s.ReserveItem("p1", 2, now)},
	})
	require.NoError(t, err)

	p, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)

	_, err = fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{s.ReserveItem("p1", 2, now)},
	})
	var tce *types.TransactionCanceledException
	require.True(t, errors.As(err, &tce))
	assert.Equal(t, "ConditionalCheckFailed", *tce.CancellationReasons[0].Code)

	p, err = s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock, "failed reservation must not touch stock")
}

func TestReserveItem_InactiveProduct(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Product{ProductID: "p1", Price: money.FromInt(5), Stock: 3, Active: false}))

	_, err := fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{s.ReserveItem("p1", 1, time.Now())},
	})
	var tce *types.TransactionCanceledException
	assert.True(t, errors.As(err, &tce))
}

func TestRestockItem(t *testing.T) {
	s, fake := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Product{ProductID: "p1", Price: money.FromInt(5), Stock: 3, Active: true}))

	_, err := fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{s.RestockItem("p1", 4, time.Now())},
	})
	require.NoError(t, err)

	p, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)
}
