package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/access"
	"github.com/imrishuroy/storefront-orderflow/internal/events"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// SetStatus moves an order to status. Only admins may change status. Setting
// the status an order already has is a no-op that returns the order as is.
// Delivery marks the order paid; cancellation returns reserved stock when
// restocking is enabled, in the same transaction as the status write.
func (e *Engine) SetStatus(ctx context.Context, who access.Identity, orderID, status string) (order *orders.Order, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.SetStatus")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", status))

	next, ok := orders.ParseStatus(strings.ToLower(strings.TrimSpace(status)))
	if !ok {
		return nil, fmt.Errorf("%w: %q, want one of %v", ErrInvalidStatus, status, orders.AllStatuses())
	}
	if !who.IsAdmin() {
		return nil, ErrForbidden
	}

	for attempt := 1; attempt <= e.retries; attempt++ {
		current, err := e.orders.Get(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("load order: %w", err)
		}
		if current == nil {
			return nil, ErrNotFound
		}
		if current.Status == next {
			return current, nil
		}
		if !current.Status.CanTransitionTo(next) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}

		change, guards := e.transition(*current, next)
		updated, err := e.orders.UpdateStatus(ctx, *current, change, guards...)
		if errors.Is(err, orders.ErrVersionMismatch) {
			e.logger.Info("order status write lost a race, reloading",
				zap.String("order_id", orderID),
				zap.Int("attempt", attempt))
			if attempt == e.retries {
				break
			}
			if werr := e.backoff(ctx, attempt); werr != nil {
				return nil, werr
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		e.logger.Info("order status changed",
			zap.String("order_id", orderID),
			zap.String("from", string(current.Status)),
			zap.String("to", string(updated.Status)),
			zap.String("by", who.UserID),
			zap.Bool("stock_restored", len(guards) > 0))

		ev := events.NewEvent(events.TypeOrderStatusChanged, updated.OrderID, updated.UpdatedAt)
		ev.UserID = updated.UserID
		ev.Status = string(updated.Status)
		ev.PreviousStatus = string(current.Status)
		ev.PaymentStatus = string(updated.PaymentStatus)
		ev.Total = updated.Total
		ev.ItemCount = updated.ItemCount()
		ev.StockRestored = len(guards) > 0
		e.publish(ctx, ev)
		return updated, nil
	}
	return nil, ErrConflict
}

// transition builds the field changes and side-effect writes for moving
// current to next.
func (e *Engine) transition(current orders.Order, next orders.Status) (orders.StatusChange, []types.TransactWriteItem) {
	now := e.now()
	change := orders.StatusChange{Status: next, PaymentStatus: current.PaymentStatus}

	var guards []types.TransactWriteItem
	switch next {
	case orders.StatusDelivered:
		change.DeliveredAt = &now
		change.PaymentStatus = orders.PaymentPaid
	case orders.StatusCancelled:
		if e.restockOnCancel && !current.StockRestored {
			for _, it := range current.Items {
				guards = append(guards, e.catalog.RestockItem(it.ProductID, it.Quantity, now))
			}
			change.StockRestored = true
		}
	}
	return change, guards
}
