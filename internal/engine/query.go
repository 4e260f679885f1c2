package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/imrishuroy/storefront-orderflow/internal/access"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// Pagination defaults for GetOrders.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListFilter narrows GetOrders. Zero values mean no status filter, first page
// and the default limit.
type ListFilter struct {
	Status string
	Page   int
	Limit  int
}

func (f ListFilter) normalize() ListFilter {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

// Page is one page of orders plus the total number of matches.
type Page struct {
	Orders []orders.Order
	Total  int
	Page   int
	Limit  int
}

// GetOrders lists orders visible to who, newest first. Admins see every order;
// everyone else sees only their own.
func (e *Engine) GetOrders(ctx context.Context, who access.Identity, filter ListFilter) (page *Page, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.GetOrders")
	defer func() { endSpan(span, err) }()

	filter = filter.normalize()
	var status orders.Status
	if s := strings.ToLower(strings.TrimSpace(filter.Status)); s != "" {
		st, ok := orders.ParseStatus(s)
		if !ok {
			return nil, fmt.Errorf("%w: %q, want one of %v", ErrInvalidStatus, filter.Status, orders.AllStatuses())
		}
		status = st
	}

	var all []orders.Order
	switch {
	case who.IsAdmin():
		all, err = e.orders.ListAll(ctx, status)
	case who.UserID != "":
		all, err = e.orders.ListByUser(ctx, who.UserID, status)
	default:
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].OrderID > all[j].OrderID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start, end := total, total
	// pages past the end are empty; checked before multiplying
	if filter.Page-1 < (total+filter.Limit-1)/filter.Limit {
		start = (filter.Page - 1) * filter.Limit
		end = min(start+filter.Limit, total)
	}
	span.SetAttributes(attribute.Int("orders.total", total))

	return &Page{
		Orders: all[start:end],
		Total:  total,
		Page:   filter.Page,
		Limit:  filter.Limit,
	}, nil
}

// GetOrderByID returns one order if who may see it.
func (e *Engine) GetOrderByID(ctx context.Context, who access.Identity, orderID string) (order *orders.Order, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.GetOrderByID")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err = e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return nil, ErrNotFound
	}
	if !who.CanView(order.UserID) {
		return nil, ErrForbidden
	}
	return order, nil
}
