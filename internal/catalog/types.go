package catalog

import (
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// Product is an item in the products table. Stock is only ever decremented by
// order placement, through a conditional update that keeps it non-negative.
type Product struct {
	ProductID string      `dynamodbav:"product_id" json:"productId"` // PK
	Name      string      `dynamodbav:"name" json:"name"`
	Price     money.Money `dynamodbav:"price" json:"price"`
	Stock     int         `dynamodbav:"stock" json:"stock"`
	Active    bool        `dynamodbav:"active" json:"active"`
	CreatedAt time.Time   `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt time.Time   `dynamodbav:"updated_at" json:"updatedAt"`
}

// Available reports whether the product can be ordered at all.
func (p *Product) Available() bool { return p != nil && p.Active }
