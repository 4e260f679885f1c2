package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// DefaultPaymentMethod is recorded when the caller does not name one.
const DefaultPaymentMethod = "cod"

// ErrInvalidOrder is returned when an order breaks its own invariants.
var ErrInvalidOrder = errors.New("invalid order")

// Address is the delivery address. It is stored as given; nothing here interprets it.
type Address struct {
	Line1      string `dynamodbav:"line1" json:"line1"`
	Line2      string `dynamodbav:"line2,omitempty" json:"line2,omitempty"`
	City       string `dynamodbav:"city" json:"city"`
	State      string `dynamodbav:"state,omitempty" json:"state,omitempty"`
	PostalCode string `dynamodbav:"postal_code" json:"postalCode"`
	Country    string `dynamodbav:"country,omitempty" json:"country,omitempty"`
	Phone      string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
}

// LineItem snapshots a product at the moment it was ordered, so later catalog
// edits do not rewrite order history.
type LineItem struct {
	ProductID string      `dynamodbav:"product_id" json:"productId"`
	Name      string      `dynamodbav:"name" json:"name"`
	Price     money.Money `dynamodbav:"price" json:"price"`
	Quantity  int         `dynamodbav:"quantity" json:"quantity"`
	Subtotal  money.Money `dynamodbav:"subtotal" json:"subtotal"`
}

// NewLineItem builds a line item; the subtotal is always price × quantity.
func NewLineItem(productID, name string, price money.Money, quantity int) LineItem {
	return LineItem{
		ProductID: productID,
		Name:      name,
		Price:     price,
		Quantity:  quantity,
		Subtotal:  price.Mul(quantity),
	}
}

// Order represents the item stored in the orders table.
type Order struct {
	OrderID         string        `dynamodbav:"order_id" json:"id"` // PK
	UserID          string        `dynamodbav:"user_id" json:"userId"`
	Items           []LineItem    `dynamodbav:"items" json:"items"`
	Total           money.Money   `dynamodbav:"total" json:"total"`
	Status          Status        `dynamodbav:"status" json:"status"`
	PaymentStatus   PaymentStatus `dynamodbav:"payment_status" json:"paymentStatus"`
	PaymentMethod   string        `dynamodbav:"payment_method" json:"paymentMethod"`
	DeliveryAddress Address       `dynamodbav:"delivery_address" json:"deliveryAddress"`
	Note            string        `dynamodbav:"note,omitempty" json:"notes,omitempty"`
	StockRestored   bool          `dynamodbav:"stock_restored,omitempty" json:"stockRestored,omitempty"`
	Version         int           `dynamodbav:"version" json:"version"`
	CreatedAt       time.Time     `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `dynamodbav:"updated_at" json:"updatedAt"`
	DeliveredAt     *time.Time    `dynamodbav:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
}

// Validate checks the order-level invariants: positive quantities, recomputed
// subtotals, and a total equal to the sum of subtotals.
func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: no line items", ErrInvalidOrder)
	}
	subtotals := make([]money.Money, 0, len(o.Items))
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: quantity %d for %s", ErrInvalidOrder, it.Quantity, it.ProductID)
		}
		if it.Price.IsNegative() {
			return fmt.Errorf("%w: negative price for %s", ErrInvalidOrder, it.ProductID)
		}
		if !it.Subtotal.Equal(it.Price.Mul(it.Quantity)) {
			return fmt.Errorf("%w: subtotal mismatch for %s", ErrInvalidOrder, it.ProductID)
		}
		subtotals = append(subtotals, it.Subtotal)
	}
	if total := money.Sum(subtotals...); !o.Total.Equal(total) {
		return fmt.Errorf("%w: total %s != items %s", ErrInvalidOrder, o.Total, total)
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidOrder, o.Status)
	}
	return nil
}

// ItemCount is the number of units across all lines.
func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}
