package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pmgasset/td-wifi-api/internal/service"
	"github.com/pmgasset/td-wifi-api/internal/stripe"
)

// OrderMaterializer creates the deferred vendor order once payment is
// confirmed. *service.CheckoutService satisfies it.
type OrderMaterializer interface {
	MaterializeDeferredOrder(ctx context.Context, intent *stripe.PaymentIntent) (*service.CheckoutResult, error)
}

// StreamPublisher relays webhook-derived events onto the event stream.
// *event.Producer satisfies it.
type StreamPublisher interface {
	PaymentEvent(ctx context.Context, eventType, paymentID string, data any) error
	OrderPlaced(ctx context.Context, orderID string, data any) error
}

// stripeEvent is the provider's event envelope.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// PaymentHandlers processes payment provider events. The succeeded handler
// is where deferred checkouts become real vendor orders.
type PaymentHandlers struct {
	checkout OrderMaterializer
	producer StreamPublisher
	logger   *slog.Logger
}

// NewPaymentHandlers creates the payment event handlers. producer may be nil.
func NewPaymentHandlers(checkout OrderMaterializer, producer StreamPublisher, logger *slog.Logger) *PaymentHandlers {
	return &PaymentHandlers{checkout: checkout, producer: producer, logger: logger}
}

// Register binds the handlers to the dispatcher.
func (h *PaymentHandlers) Register(d *Dispatcher) {
	d.Register("stripe", "payment_intent.succeeded", h.PaymentSucceeded)
	d.Register("stripe", "payment_intent.payment_failed", h.PaymentFailed)
}

// PaymentSucceeded materializes the deferred order packed into the intent's
// metadata. Intents without checkout metadata belong to other flows and are
// ignored.
func (h *PaymentHandlers) PaymentSucceeded(ctx context.Context, evt Event) error {
	intent, err := parseIntent(evt)
	if err != nil {
		return err
	}

	if intent.Metadata["items"] == "" {
		h.logger.DebugContext(ctx, "payment intent has no checkout metadata, ignoring",
			slog.String("payment_intent_id", intent.ID),
		)
		return nil
	}

	result, err := h.checkout.MaterializeDeferredOrder(ctx, intent)
	if err != nil {
		return fmt.Errorf("materialize order for intent %s: %w", intent.ID, err)
	}

	h.logger.InfoContext(ctx, "deferred order materialized",
		slog.String("payment_intent_id", intent.ID),
		slog.String("order_id", result.OrderID),
		slog.String("invoice_id", result.InvoiceID),
	)

	if h.producer != nil {
		if err := h.producer.PaymentEvent(ctx, "payment.succeeded", intent.ID, result); err != nil {
			h.logger.WarnContext(ctx, "failed to publish payment event",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// PaymentFailed records the failure for observability. No vendor records
// exist yet for deferred checkouts, so there is nothing to roll back.
func (h *PaymentHandlers) PaymentFailed(ctx context.Context, evt Event) error {
	intent, err := parseIntent(evt)
	if err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "payment failed",
		slog.String("payment_intent_id", intent.ID),
		slog.String("status", intent.Status),
	)

	if h.producer != nil {
		if err := h.producer.PaymentEvent(ctx, "payment.failed", intent.ID, map[string]string{
			"status": intent.Status,
		}); err != nil {
			h.logger.WarnContext(ctx, "failed to publish payment event",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func parseIntent(evt Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data, &intent); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("event %s carries no payment intent", evt.ID)
	}
	return &intent, nil
}

// zohoEvent is the vendor's webhook payload shape.
type zohoEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// ParseEvent extracts the event identity and payload from a verified raw
// body. Each vendor wraps events differently; handlers work off the
// unwrapped Data member.
func ParseEvent(vendor string, body []byte) (Event, error) {
	evt := Event{Vendor: vendor, Raw: body}

	switch vendor {
	case "stripe":
		var env stripeEvent
		if err := json.Unmarshal(body, &env); err != nil {
			return evt, fmt.Errorf("decode stripe event: %w", err)
		}
		evt.ID = env.ID
		evt.Type = env.Type
		evt.Data = env.Data.Object
	case "zoho":
		var env zohoEvent
		if err := json.Unmarshal(body, &env); err != nil {
			return evt, fmt.Errorf("decode zoho event: %w", err)
		}
		evt.ID = env.EventID
		evt.Type = env.EventType
		evt.Data = env.Data
	default:
		return evt, fmt.Errorf("unknown webhook vendor %q", vendor)
	}

	if evt.Type == "" {
		return evt, fmt.Errorf("webhook event carries no type")
	}
	return evt, nil
}

// OrderHandlers relays vendor order lifecycle events to the event stream so
// downstream consumers (fulfillment, support) see them without polling.
type OrderHandlers struct {
	producer StreamPublisher
	logger   *slog.Logger
}

// NewOrderHandlers creates the vendor order event handlers.
func NewOrderHandlers(producer StreamPublisher, logger *slog.Logger) *OrderHandlers {
	return &OrderHandlers{producer: producer, logger: logger}
}

// Register binds the handlers to the dispatcher.
func (h *OrderHandlers) Register(d *Dispatcher) {
	d.Register("zoho", "salesorder.created", h.relay)
	d.Register("zoho", "salesorder.shipped", h.relay)
	d.Register("zoho", "invoice.paid", h.relay)
}

func (h *OrderHandlers) relay(ctx context.Context, evt Event) error {
	if h.producer == nil {
		return nil
	}

	var payload struct {
		SalesOrderID string `json:"salesorder_id"`
		InvoiceID    string `json:"invoice_id"`
	}
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		return fmt.Errorf("decode vendor event: %w", err)
	}

	id := payload.SalesOrderID
	if id == "" {
		id = payload.InvoiceID
	}
	if err := h.producer.OrderPlaced(ctx, id, json.RawMessage(evt.Raw)); err != nil {
		return fmt.Errorf("relay vendor event %s: %w", evt.Type, err)
	}
	return nil
}
