package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testPolicy = PricingPolicy{
	TaxRate:               0.0875,
	FreeShippingThreshold: 100,
	FlatShippingFee:       9.99,
}

func TestCalculateTotals_FreeShippingAtThreshold(t *testing.T) {
	items := []CartItem{
		{ProductID: "p1", Name: "Router", Price: 50, Quantity: 2},
	}

	totals := CalculateTotals(items, testPolicy)

	assert.Equal(t, 100.0, totals.Subtotal)
	assert.Equal(t, 8.75, totals.Tax)
	assert.Equal(t, 0.0, totals.Shipping, "subtotal at the threshold ships free")
	assert.Equal(t, 108.75, totals.Total)
}

func TestCalculateTotals_FlatShippingBelowThreshold(t *testing.T) {
	items := []CartItem{
		{ProductID: "p1", Name: "Antenna", Price: 19.99, Quantity: 2},
	}

	totals := CalculateTotals(items, testPolicy)

	assert.Equal(t, 39.98, totals.Subtotal)
	assert.Equal(t, 3.5, totals.Tax)
	assert.Equal(t, 9.99, totals.Shipping)
	assert.Equal(t, 53.47, totals.Total)
}

func TestCalculateTotals_TotalIsSumOfParts(t *testing.T) {
	cases := []struct {
		name  string
		items []CartItem
	}{
		{"single item", []CartItem{{Name: "a", Price: 9.99, Quantity: 1}}},
		{"repeating cents", []CartItem{{Name: "a", Price: 33.33, Quantity: 3}}},
		{"mixed cart", []CartItem{
			{Name: "a", Price: 12.49, Quantity: 2},
			{Name: "b", Price: 0.99, Quantity: 7},
			{Name: "c", Price: 149.95, Quantity: 1},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals := CalculateTotals(tc.items, testPolicy)
			assert.Equal(t, Round2(totals.Subtotal+totals.Tax+totals.Shipping), totals.Total)
			assert.Equal(t, Round2(totals.Tax), totals.Tax)
			assert.Equal(t, Round2(totals.Subtotal), totals.Subtotal)
		})
	}
}

func TestCalculateTotals_EmptyCart(t *testing.T) {
	totals := CalculateTotals(nil, testPolicy)

	assert.Equal(t, 0.0, totals.Subtotal)
	assert.Equal(t, 0.0, totals.Tax)
	assert.Equal(t, 9.99, totals.Shipping, "an empty cart is below the free-shipping threshold")
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 8.75, Round2(8.75))
	assert.Equal(t, 8.75, Round2(8.7499999))
	assert.Equal(t, 3.5, Round2(3.49825))
	assert.Equal(t, 1.24, Round2(1.236))
	assert.Equal(t, 1.23, Round2(1.2345))
}
