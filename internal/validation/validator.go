package validation

import (
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-orderflow/internal/engine"
)

// New returns a configured validator with custom struct-level validation registered.
// Field names in errors follow the json (or form) tags the client used.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})

	// repeated product ids are merged into one line, so the cap applies to
	// distinct products
	v.RegisterStructValidation(placeOrderStructValidation, PlaceOrderRequest{})

	return v
}

func placeOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(PlaceOrderRequest)

	distinct := map[string]struct{}{}
	for _, it := range req.Items {
		distinct[strings.TrimSpace(it.ProductID)] = struct{}{}
	}
	if len(distinct) > engine.MaxLineItems {
		sl.ReportError(req.Items, "items", "Items", "max_products", fmt.Sprintf("%d", engine.MaxLineItems))
	}
}
