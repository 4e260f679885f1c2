package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/access"
	"github.com/imrishuroy/storefront-orderflow/internal/engine"
	"github.com/imrishuroy/storefront-orderflow/internal/events"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerRequestID      = "X-Request-Id"
	contentTypeJSON      = "application/json; charset=utf-8"
)

// OrderEngine is the subset of the engine the handlers call.
type OrderEngine interface {
	PlaceOrder(ctx context.Context, who access.Identity, in engine.PlaceOrderInput) (*orders.Order, error)
	SetStatus(ctx context.Context, who access.Identity, orderID, status string) (*orders.Order, error)
	GetOrders(ctx context.Context, who access.Identity, filter engine.ListFilter) (*engine.Page, error)
	GetOrderByID(ctx context.Context, who access.Identity, orderID string) (*orders.Order, error)
}

// IdempotencyRecorder stores the response of a keyed request for replay.
type IdempotencyRecorder interface {
	Complete(ctx context.Context, key, responseBody string, responseStatus int) error
}

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Engine      OrderEngine
	Idempotency IdempotencyRecorder // optional
	Logger      *zap.Logger
}

type ordersHandler struct {
	engine OrderEngine
	idem   IdempotencyRecorder
	v      *validatorv10.Validate
	logger *zap.Logger
}

// RegisterOrdersRoutes registers routes for order API. r must already run
// access.Middleware.
func RegisterOrdersRoutes(r gin.IRoutes, cfg HandlerConfig) {
	h := &ordersHandler{
		engine: cfg.Engine,
		idem:   cfg.Idempotency,
		v:      validation.New(),
		logger: cfg.Logger,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	r.POST("/orders", h.placeOrder)
	r.GET("/orders", h.listOrders)
	r.GET("/orders/:id", h.getOrder)
	r.PATCH("/orders/:id/status", h.updateStatus)
}

type userView struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// orderView is an order as rendered to clients, with its owner attached.
type orderView struct {
	orders.Order
	User userView `json:"user"`
}

func viewOf(o orders.Order, who access.Identity) orderView {
	u := userView{ID: o.UserID}
	if o.UserID == who.UserID {
		u.Name = who.Name
	}
	return orderView{Order: o, User: u}
}

func requestContext(c *gin.Context) context.Context {
	return events.WithCorrelationID(c.Request.Context(), c.GetHeader(headerRequestID))
}

func (h *ordersHandler) placeOrder(c *gin.Context) {
	who, _ := access.Current(c)
	ctx := requestContext(c)

	// Bind + validate request
	var req validation.PlaceOrderRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	in := engine.PlaceOrderInput{
		DeliveryAddress: orders.Address{
			Line1:      req.DeliveryAddress.Line1,
			Line2:      req.DeliveryAddress.Line2,
			City:       req.DeliveryAddress.City,
			State:      req.DeliveryAddress.State,
			PostalCode: req.DeliveryAddress.PostalCode,
			Country:    req.DeliveryAddress.Country,
			Phone:      req.DeliveryAddress.Phone,
		},
		Note:          req.Notes,
		PaymentMethod: req.PaymentMethod,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, engine.CartItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	key := c.GetHeader(headerIdempotencyKey)
	if h.idem != nil {
		in.IdempotencyKey = key
	}

	order, err := h.engine.PlaceOrder(ctx, who, in)
	if err != nil {
		var dup *engine.DuplicateRequestError
		if errors.As(err, &dup) {
			h.replay(c, dup.Record)
			return
		}
		h.fail(c, err)
		return
	}

	body, err := json.Marshal(gin.H{
		"success": true,
		"message": "order placed",
		"order":   viewOf(*order, who),
	})
	if err != nil {
		h.fail(c, fmt.Errorf("encode order: %w", err))
		return
	}
	if in.IdempotencyKey != "" {
		if err := h.idem.Complete(ctx, in.IdempotencyKey, string(body), http.StatusCreated); err != nil {
			// the order exists; a replay will answer 202 instead of the stored body
			h.logger.Warn("mark idempotency done failed",
				zap.String("idempotency_key", in.IdempotencyKey),
				zap.String("order_id", order.OrderID),
				zap.Error(err))
		}
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", order.OrderID))
	c.Data(http.StatusCreated, contentTypeJSON, body)
}

// replay answers a resubmitted idempotency key from what the first request left.
func (h *ordersHandler) replay(c *gin.Context, rec *idempotency.Record) {
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, contentTypeJSON, []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "orderId": rec.Ref})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"message": "request already in progress",
			"orderId": rec.Ref,
		})
	case idempotency.StatusFailed:
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"message": "previous attempt with this idempotency key failed",
			"orderId": rec.Ref,
		})
	default:
		h.fail(c, fmt.Errorf("unknown idempotency status %q", rec.Status))
	}
}

func (h *ordersHandler) listOrders(c *gin.Context) {
	who, _ := access.Current(c)

	var q validation.ListOrdersQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}

	page, err := h.engine.GetOrders(requestContext(c), who, engine.ListFilter{
		Status: q.Status,
		Page:   q.Page,
		Limit:  q.Limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	views := make([]orderView, 0, len(page.Orders))
	for _, o := range page.Orders {
		views = append(views, viewOf(o, who))
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orders":  views,
		"total":   page.Total,
		"page":    page.Page,
		"limit":   page.Limit,
	})
}

func (h *ordersHandler) getOrder(c *gin.Context) {
	who, _ := access.Current(c)

	order, err := h.engine.GetOrderByID(requestContext(c), who, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": viewOf(*order, who)})
}

func (h *ordersHandler) updateStatus(c *gin.Context) {
	who, _ := access.Current(c)

	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}

	order, err := h.engine.SetStatus(requestContext(c), who, c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("order status is %s", order.Status),
		"order":   viewOf(*order, who),
	})
}

// fail maps engine errors to HTTP responses.
func (h *ordersHandler) fail(c *gin.Context, err error) {
	var (
		notFound *engine.ProductNotFoundError
		noStock  *engine.InsufficientStockError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &noStock):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrEmptyCart),
		errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrMissingProductID),
		errors.Is(err, engine.ErrTooManyItems),
		errors.Is(err, engine.ErrInvalidStatus),
		errors.Is(err, engine.ErrInvalidTransition):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrIdempotencyKeyReused):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetHeader(headerRequestID)),
			zap.Error(err))
		c.JSON(status, gin.H{"success": false, "message": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"success": false, "message": err.Error()})
}
