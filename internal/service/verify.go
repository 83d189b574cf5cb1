package service

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/pmgasset/td-wifi-api/pkg/errors"
)

// VerifyInput identifies the checkout to look up. Exactly one of the two
// fields must be set.
type VerifyInput struct {
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	OrderID         string `json:"orderId,omitempty"`
}

// VerifyResult is the normalized post-payment order view shown on the
// storefront's confirmation page.
type VerifyResult struct {
	OrderID       string  `json:"orderId,omitempty"`
	OrderNumber   string  `json:"orderNumber,omitempty"`
	OrderStatus   string  `json:"orderStatus,omitempty"`
	Total         float64 `json:"total,omitempty"`
	PaymentStatus string  `json:"paymentStatus,omitempty"`
	Paid          bool    `json:"paid"`
}

// Verify resolves a completed checkout either through the payment provider
// (deferred variant) or the vendor order record (standard variant). An
// unresolvable reference returns not-found rather than an empty view.
func (s *CheckoutService) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	switch {
	case in.PaymentIntentID != "":
		return s.verifyByIntent(ctx, in.PaymentIntentID)
	case in.OrderID != "":
		return s.verifyByOrder(ctx, in.OrderID)
	default:
		return nil, apperrors.InvalidInput("either paymentIntentId or orderId is required")
	}
}

func (s *CheckoutService) verifyByIntent(ctx context.Context, intentID string) (*VerifyResult, error) {
	intent, err := s.payments.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("look up payment intent: %w", err)
	}
	if intent == nil || intent.ID == "" {
		return nil, apperrors.NotFound("payment intent", intentID)
	}

	result := &VerifyResult{
		Total:         float64(intent.Amount) / 100,
		PaymentStatus: intent.Status,
		Paid:          intent.Succeeded(),
	}

	// A materialized deferred order stamps its vendor IDs back onto the
	// intent metadata; surface them when present.
	if orderID := intent.Metadata["salesorder_id"]; orderID != "" {
		if order, err := s.vendor.GetSalesOrder(ctx, orderID); err == nil {
			result.OrderID = order.SalesOrderID
			result.OrderNumber = order.OrderNumber
			result.OrderStatus = order.Status
		} else {
			s.logger.WarnContext(ctx, "payment intent references missing sales order",
				slog.String("payment_intent_id", intentID),
				slog.String("salesorder_id", orderID),
			)
		}
	}
	return result, nil
}

func (s *CheckoutService) verifyByOrder(ctx context.Context, orderID string) (*VerifyResult, error) {
	order, err := s.vendor.GetSalesOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("look up sales order: %w", err)
	}

	return &VerifyResult{
		OrderID:     order.SalesOrderID,
		OrderNumber: order.OrderNumber,
		OrderStatus: order.Status,
		Total:       order.Total,
		Paid:        order.Status == "paid" || order.Status == "closed",
	}, nil
}
