package validation

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-orderflow/internal/engine"
)

func validRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		Items: []OrderItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		DeliveryAddress: DeliveryAddress{Line1: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN"},
		Notes:           "leave at the door",
		PaymentMethod:   "cod",
	}
}

func TestPlaceOrderRequest_Valid(t *testing.T) {
	v := New()

	if err := v.Struct(validRequest()); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestPlaceOrderRequest_MissingFields(t *testing.T) {
	v := New()

	req := PlaceOrderRequest{
		Items: []OrderItem{{ProductID: "", Quantity: 0}},
	}

	err := v.Struct(req)
	if err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
	got := map[string]string{}
	for _, fe := range FieldErrors(err) {
		got[fe.Field] = fe.Message
	}
	for _, field := range []string{"items[0].productId", "items[0].quantity", "deliveryAddress.line1", "deliveryAddress.postalCode"} {
		if _, ok := got[field]; !ok {
			t.Errorf("expected error for %s, got %v", field, got)
		}
	}
}

func TestPlaceOrderRequest_UnknownPaymentMethod(t *testing.T) {
	v := New()
	req := validRequest()
	req.PaymentMethod = "barter"

	if err := v.Struct(req); err == nil {
		t.Fatal("expected error for unknown payment method")
	}
}

func TestPlaceOrderRequest_TooManyDistinctProducts(t *testing.T) {
	v := New()
	req := validRequest()
	req.Items = nil
	for i := 0; i <= engine.MaxLineItems; i++ {
		req.Items = append(req.Items, OrderItem{ProductID: fmt.Sprintf("p-%d", i), Quantity: 1})
	}

	err := v.Struct(req)
	if err == nil {
		t.Fatal("expected max_products error")
	}
	if fe := FieldErrors(err); len(fe) != 1 || fe[0].Field != "items" {
		t.Fatalf("unexpected errors: %+v", fe)
	}

	// repeats of one product count once
	req.Items = nil
	for i := 0; i <= engine.MaxLineItems; i++ {
		req.Items = append(req.Items, OrderItem{ProductID: "p1", Quantity: 1})
	}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestUpdateStatusRequest(t *testing.T) {
	v := New()

	if err := v.Struct(UpdateStatusRequest{Status: "shipped"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := v.Struct(UpdateStatusRequest{Status: "lost"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestBindAndValidate_WritesBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	r := gin.New()
	r.POST("/orders", func(c *gin.Context) {
		var req PlaceOrderRequest
		if err := BindAndValidate(c, &req, v); err != nil {
			return
		}
		c.Status(http.StatusNoContent)
	})

	for _, body := range []string{`{"items": [`, `{"items": []}`} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"success":false`) {
			t.Fatalf("body %q: missing envelope: %s", body, w.Body.String())
		}
	}
}
