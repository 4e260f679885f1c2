package validation

// OrderItem is one requested cart line.
type OrderItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"` // must be >= 1
}

// DeliveryAddress is where the order ships.
type DeliveryAddress struct {
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state,omitempty" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country,omitempty" validate:"omitempty,len=2"` // ISO 3166-1 alpha-2
	Phone      string `json:"phone,omitempty" validate:"omitempty,min=7,max=20"`
}

// PlaceOrderRequest is the payload for POST /orders
type PlaceOrderRequest struct {
	Items           []OrderItem     `json:"items" validate:"required,min=1,dive"` // at least one item
	DeliveryAddress DeliveryAddress `json:"deliveryAddress"`
	Notes           string          `json:"notes,omitempty" validate:"max=500"`
	PaymentMethod   string          `json:"paymentMethod,omitempty" validate:"omitempty,oneof=cod card upi wallet"`
}

// UpdateStatusRequest is the payload for PATCH /orders/:id/status
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
}

// ListOrdersQuery holds the query string of GET /orders. Limits above the
// maximum are clamped by the engine rather than rejected.
type ListOrdersQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=pending processing shipped delivered cancelled"`
	Page   int    `form:"page" validate:"omitempty,min=1"`
	Limit  int    `form:"limit" validate:"omitempty,min=1"`
}
