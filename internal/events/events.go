// Package events defines the order lifecycle messages published after a
// successful write and consumed by the worker.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

type Type string

const (
	TypeOrderPlaced        Type = "order.placed"
	TypeOrderStatusChanged Type = "order.status_changed"
)

// Event is the JSON body sent to the order events queue.
type Event struct {
	EventID        string      `json:"event_id"`
	Type           Type        `json:"type"`
	OrderID        string      `json:"order_id"`
	UserID         string      `json:"user_id"`
	Status         string      `json:"status"`
	PreviousStatus string      `json:"previous_status,omitempty"`
	PaymentStatus  string      `json:"payment_status,omitempty"`
	Total          money.Money `json:"total"`
	ItemCount      int         `json:"item_count"`
	StockRestored  bool        `json:"stock_restored,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
	CorrelationID  string      `json:"correlation_id,omitempty"`
}

// NewEvent stamps a fresh event id and timestamp.
func NewEvent(t Type, orderID string, now time.Time) Event {
	return Event{
		EventID:    uuid.NewString(),
		Type:       t,
		OrderID:    orderID,
		OccurredAt: now.UTC(),
	}
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event. Used when no queue is configured.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

type correlationKey struct{}

// WithCorrelationID attaches a request id that is copied onto published events.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the request id stored by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
