// Package engine places orders against live stock and drives the order status
// lifecycle. Identity and role arrive already resolved by the access layer.
package engine

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/events"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// MaxLineItems is the largest number of distinct products in one order. A
// DynamoDB transaction holds at most 100 items; two are kept for the order
// put and the idempotency record.
const MaxLineItems = 98

// CatalogStore reads products and builds the stock transaction items.
type CatalogStore interface {
	Get(ctx context.Context, productID string) (*catalog.Product, error)
	ReserveItem(productID string, qty int, now time.Time) types.TransactWriteItem
	RestockItem(productID string, qty int, now time.Time) types.TransactWriteItem
}

// OrderStore persists orders.
type OrderStore interface {
	Create(ctx context.Context, order orders.Order, guards ...types.TransactWriteItem) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, current orders.Order, change orders.StatusChange, guards ...types.TransactWriteItem) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string, status orders.Status) ([]orders.Order, error)
	ListAll(ctx context.Context, status orders.Status) ([]orders.Order, error)
}

// IdempotencyStore records submitted idempotency keys.
type IdempotencyStore interface {
	ClaimItem(key, ref, requestHash string) (types.TransactWriteItem, error)
	Get(ctx context.Context, key string) (*idempotency.Record, error)
}

// Options tune engine behaviour. Zero values pick defaults.
type Options struct {
	// RestockOnCancel returns reserved units to the catalog when an order is cancelled.
	RestockOnCancel bool
	// Retries bounds how often a write is retried after losing a race.
	Retries   int
	Logger    *zap.Logger
	Publisher events.Publisher
	Tracer    trace.Tracer
}

// Engine is the order engine.
type Engine struct {
	catalog CatalogStore
	orders  OrderStore
	idem    IdempotencyStore

	restockOnCancel bool
	retries         int
	logger          *zap.Logger
	publisher       events.Publisher
	tracer          trace.Tracer

	nowFunc   func() time.Time
	newID     func() string
	backoffFn func(attempt int) time.Duration
}

// New wires an Engine. idem may be nil when idempotency keys are not supported.
func New(catalogStore CatalogStore, orderStore OrderStore, idem IdempotencyStore, opts Options) *Engine {
	e := &Engine{
		catalog:         catalogStore,
		orders:          orderStore,
		idem:            idem,
		restockOnCancel: opts.RestockOnCancel,
		retries:         opts.Retries,
		logger:          opts.Logger,
		publisher:       opts.Publisher,
		tracer:          opts.Tracer,
		nowFunc:         time.Now,
		newID:           uuid.NewString,
		backoffFn:       func(attempt int) time.Duration { return time.Duration(attempt) * 25 * time.Millisecond },
	}
	if e.retries < 1 {
		e.retries = 3
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.publisher == nil {
		e.publisher = events.Discard{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/imrishuroy/storefront-orderflow/internal/engine")
	}
	return e
}

func (e *Engine) now() time.Time { return e.nowFunc().UTC() }

// backoff waits before the next attempt; it returns early if ctx is done.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(e.backoffFn(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	ev.CorrelationID = events.CorrelationID(ctx)
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("publish order event failed",
			zap.String("event_type", string(ev.Type)),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
