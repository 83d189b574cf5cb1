package domain

import "math"

// CartItem is a client-supplied cart line. It is never trusted from
// upstream: quantity and price are validated at saga entry.
type CartItem struct {
	ProductID string  `json:"productId"`
	SKU       string  `json:"sku,omitempty"`
	Name      string  `json:"name" validate:"required"`
	Price     float64 `json:"price" validate:"gt=0"`
	Quantity  int     `json:"quantity" validate:"min=1"`
}

// PricingPolicy holds the storefront's order pricing parameters.
type PricingPolicy struct {
	TaxRate               float64
	FreeShippingThreshold float64
	FlatShippingFee       float64
}

// OrderTotals is derived deterministically from cart items.
type OrderTotals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateTotals computes order totals from the cart under the given policy:
// subtotal is the sum of price*quantity, tax is the rounded subtotal*rate,
// shipping is waived at or above the free-shipping threshold, and the total
// always equals the sum of its parts to two decimal places.
func CalculateTotals(items []CartItem, policy PricingPolicy) OrderTotals {
	var subtotal float64
	for _, item := range items {
		subtotal += item.Price * float64(item.Quantity)
	}
	subtotal = Round2(subtotal)

	tax := Round2(subtotal * policy.TaxRate)

	shipping := 0.0
	if subtotal < policy.FreeShippingThreshold {
		shipping = policy.FlatShippingFee
	}

	return OrderTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    Round2(subtotal + tax + shipping),
	}
}
