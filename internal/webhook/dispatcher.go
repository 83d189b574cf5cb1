package webhook

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_events_total",
	Help: "Webhook events received by vendor, type, and outcome",
}, []string{"vendor", "type", "status"})

// Event is a verified inbound webhook event. Raw is the full delivery body;
// Data is the unwrapped payload object inside the vendor's envelope.
type Event struct {
	ID     string
	Vendor string
	Type   string
	Raw    json.RawMessage
	Data   json.RawMessage
}

// HandlerFunc processes one event. An error means processing failed; it
// never changes the HTTP acknowledgement.
type HandlerFunc func(ctx context.Context, evt Event) error

// Dispatcher routes verified events to their handlers. Processing is
// best-effort: unknown event types and handler failures are logged and
// counted, and the sender still gets a 200 so it stops retrying.
type Dispatcher struct {
	handlers map[string]map[string]HandlerFunc
	dedupe   Deduper
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher backed by the given dedupe store.
func NewDispatcher(dedupe Deduper, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]map[string]HandlerFunc),
		dedupe:   dedupe,
		logger:   logger,
	}
}

// Register binds a handler to a vendor and event type. Registration happens
// at startup, before any dispatch.
func (d *Dispatcher) Register(vendor, eventType string, h HandlerFunc) {
	if d.handlers[vendor] == nil {
		d.handlers[vendor] = make(map[string]HandlerFunc)
	}
	d.handlers[vendor][eventType] = h
}

// Dispatch deduplicates and processes the event. It never returns an error:
// by this point the signature has been verified, and any processing failure
// is an internal problem the sender cannot fix by redelivering.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) {
	if evt.ID != "" {
		first, err := d.dedupe.MarkSeen(ctx, evt.ID)
		if err != nil {
			// Store trouble must not drop events; process anyway.
			d.logger.WarnContext(ctx, "webhook dedupe store error",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
		} else if !first {
			webhookEvents.WithLabelValues(evt.Vendor, evt.Type, "duplicate").Inc()
			d.logger.InfoContext(ctx, "skipping duplicate webhook event",
				slog.String("event_id", evt.ID),
				slog.String("type", evt.Type),
			)
			return
		}
	}

	handler, ok := d.handlers[evt.Vendor][evt.Type]
	if !ok {
		webhookEvents.WithLabelValues(evt.Vendor, evt.Type, "unhandled").Inc()
		d.logger.DebugContext(ctx, "no handler for webhook event",
			slog.String("vendor", evt.Vendor),
			slog.String("type", evt.Type),
		)
		return
	}

	if err := handler(ctx, evt); err != nil {
		webhookEvents.WithLabelValues(evt.Vendor, evt.Type, "error").Inc()
		d.logger.ErrorContext(ctx, "webhook handler failed",
			slog.String("vendor", evt.Vendor),
			slog.String("type", evt.Type),
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	webhookEvents.WithLabelValues(evt.Vendor, evt.Type, "success").Inc()
}
