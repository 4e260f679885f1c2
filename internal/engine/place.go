package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/access"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/events"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// errRetryable marks a placement attempt that lost a race and can be re-run
// from a fresh read.
var errRetryable = errors.New("placement lost a concurrent race")

// CartItem is one requested line: a product and how many units.
type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// PlaceOrderInput is everything the caller supplies to place an order.
type PlaceOrderInput struct {
	Items           []CartItem
	DeliveryAddress orders.Address
	Note            string
	PaymentMethod   string
	// IdempotencyKey, when set, makes resubmissions return the first order.
	IdempotencyKey string
}

// PlaceOrder validates the cart, prices it from the live catalog and, in one
// transaction, decrements stock for every line and stores the order. Either
// all lines are reserved or nothing changes.
func (e *Engine) PlaceOrder(ctx context.Context, who access.Identity, in PlaceOrderInput) (order *orders.Order, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.PlaceOrder")
	defer func() { endSpan(span, err) }()

	if who.UserID == "" {
		return nil, ErrForbidden
	}
	lines, err := mergeCart(in.Items)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("user.id", who.UserID),
		attribute.Int("order.lines", len(lines)),
	)

	hash := ""
	if in.IdempotencyKey != "" {
		if e.idem == nil {
			return nil, errors.New("idempotency keys are not enabled")
		}
		hash = requestHash(lines, in)
	}

	for attempt := 1; attempt <= e.retries; attempt++ {
		order, err = e.placeOnce(ctx, who, in, lines, hash)
		if !errors.Is(err, errRetryable) {
			break
		}
		e.logger.Info("order placement retry",
			zap.String("user_id", who.UserID),
			zap.Int("attempt", attempt))
		if attempt == e.retries {
			return nil, ErrConflict
		}
		if werr := e.backoff(ctx, attempt); werr != nil {
			return nil, werr
		}
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.OrderID))
	e.logger.Info("order placed",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.String("total", order.Total.String()),
		zap.Int("lines", len(order.Items)))

	ev := events.NewEvent(events.TypeOrderPlaced, order.OrderID, order.CreatedAt)
	ev.UserID = order.UserID
	ev.Status = string(order.Status)
	ev.PaymentStatus = string(order.PaymentStatus)
	ev.Total = order.Total
	ev.ItemCount = order.ItemCount()
	e.publish(ctx, ev)

	return order, nil
}

func (e *Engine) placeOnce(ctx context.Context, who access.Identity, in PlaceOrderInput, lines []CartItem, hash string) (*orders.Order, error) {
	now := e.now()

	items := make([]orders.LineItem, 0, len(lines))
	guards := make([]types.TransactWriteItem, 0, len(lines)+1)
	total := money.Zero
	for _, l := range lines {
		p, err := e.catalog.Get(ctx, l.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", l.ProductID, err)
		}
		if !p.Available() {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if p.Stock < l.Quantity {
			return nil, &InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity, Available: p.Stock}
		}
		li := orders.NewLineItem(p.ProductID, p.Name, p.Price, l.Quantity)
		total = total.Add(li.Subtotal)
		items = append(items, li)
		guards = append(guards, e.catalog.ReserveItem(p.ProductID, l.Quantity, now))
	}

	paymentMethod := strings.TrimSpace(in.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = orders.DefaultPaymentMethod
	}
	order := orders.Order{
		OrderID:         e.newID(),
		UserID:          who.UserID,
		Items:           items,
		Total:           total,
		Status:          orders.StatusPending,
		PaymentStatus:   orders.PaymentPending,
		PaymentMethod:   paymentMethod,
		DeliveryAddress: in.DeliveryAddress,
		Note:            strings.TrimSpace(in.Note),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if in.IdempotencyKey != "" {
		put, err := e.idem.ClaimItem(in.IdempotencyKey, order.OrderID, hash)
		if err != nil {
			return nil, err
		}
		guards = append(guards, put)
	}

	if err := e.orders.Create(ctx, order, guards...); err != nil {
		return nil, e.explainPlacement(ctx, err, lines, in.IdempotencyKey, hash)
	}
	return &order, nil
}

// explainPlacement turns a cancelled placement transaction into the error the
// caller should see. Transaction items are ordered: one stock reservation per
// line, the idempotency record if any, then the order put.
func (e *Engine) explainPlacement(ctx context.Context, err error, lines []CartItem, key, hash string) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("place order: %w", err)
	}

	conflict := false
	for i, r := range tce.CancellationReasons {
		switch reasonCode(r) {
		case "ConditionalCheckFailed":
			switch {
			case i < len(lines):
				return e.stockFailure(ctx, lines[i], r.Item)
			case key != "" && i == len(lines):
				return e.duplicate(ctx, key, hash)
			default:
				// order id collision
				conflict = true
			}
		case "TransactionConflict":
			conflict = true
		}
	}
	if conflict {
		return errRetryable
	}
	return fmt.Errorf("place order: %w", err)
}

// stockFailure explains why reserving line failed, using the product image
// DynamoDB returned with the cancellation when there is one.
func (e *Engine) stockFailure(ctx context.Context, line CartItem, old map[string]types.AttributeValue) error {
	var p *catalog.Product
	if len(old) > 0 {
		var img catalog.Product
		if err := attributevalue.UnmarshalMap(old, &img); err == nil {
			p = &img
		}
	}
	if p == nil {
		var err error
		if p, err = e.catalog.Get(ctx, line.ProductID); err != nil {
			return fmt.Errorf("load product %s: %w", line.ProductID, err)
		}
	}
	if !p.Available() {
		return &ProductNotFoundError{ProductID: line.ProductID}
	}
	if p.Stock < line.Quantity {
		return &InsufficientStockError{ProductID: line.ProductID, Requested: line.Quantity, Available: p.Stock}
	}
	// stock came back between the failed write and this read
	return errRetryable
}

func (e *Engine) duplicate(ctx context.Context, key, hash string) error {
	rec, err := e.idem.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load idempotency record: %w", err)
	}
	if rec == nil {
		// expired between the write and this read
		return errRetryable
	}
	if rec.RequestHash != "" && rec.RequestHash != hash {
		return ErrIdempotencyKeyReused
	}
	return &DuplicateRequestError{Record: rec}
}

// mergeCart validates requested lines and folds repeated product ids into a
// single line, keeping first-seen order.
func mergeCart(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	out := make([]CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, ErrMissingProductID
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: got %d for product %s", ErrInvalidQuantity, it.Quantity, id)
		}
		if i, ok := index[id]; ok {
			if out[i].Quantity > math.MaxInt-it.Quantity {
				return nil, fmt.Errorf("%w: total for product %s is too large", ErrInvalidQuantity, id)
			}
			out[i].Quantity += it.Quantity
			continue
		}
		index[id] = len(out)
		out = append(out, CartItem{ProductID: id, Quantity: it.Quantity})
	}
	if len(out) > MaxLineItems {
		return nil, fmt.Errorf("%w: %d, max %d", ErrTooManyItems, len(out), MaxLineItems)
	}
	return out, nil
}

// requestHash fingerprints the normalized request so a reused key with a
// different body can be told apart from a retry.
func requestHash(lines []CartItem, in PlaceOrderInput) string {
	b, _ := json.Marshal(struct {
		Items         []CartItem     `json:"items"`
		Address       orders.Address `json:"address"`
		Note          string         `json:"note"`
		PaymentMethod string         `json:"payment_method"`
	}{lines, in.DeliveryAddress, strings.TrimSpace(in.Note), strings.TrimSpace(in.PaymentMethod)})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func reasonCode(r types.CancellationReason) string {
	if r.Code == nil {
		return ""
	}
	return *r.Code
}
