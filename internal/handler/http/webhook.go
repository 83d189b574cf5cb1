package httphandler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pmgasset/td-wifi-api/internal/webhook"
	"github.com/pmgasset/td-wifi-api/pkg/httputil"
)

// webhookBodyLimit bounds inbound webhook payloads.
const webhookBodyLimit = 1 << 20

// signatureHeaders maps each vendor to its signature header.
var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
	"zoho":   "X-Zoho-Webhook-Signature",
}

// WebhookHandler receives vendor webhooks. Signature failures get 401;
// everything after a verified signature gets 200, because a processing
// failure on our side is not something the sender can fix by redelivering.
type WebhookHandler struct {
	verifiers  map[string]webhook.Verifier
	dispatcher *webhook.Dispatcher
	production bool
	logger     *slog.Logger
}

// NewWebhookHandler creates the webhook receiver. A vendor with a nil
// verifier is accepted unverified in development and rejected in production.
func NewWebhookHandler(
	verifiers map[string]webhook.Verifier,
	dispatcher *webhook.Dispatcher,
	production bool,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifiers:  verifiers,
		dispatcher: dispatcher,
		production: production,
		logger:     logger,
	}
}

// Receive handles POST /webhooks/{vendor}.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	vendor := chi.URLParam(r, "vendor")
	header, known := signatureHeaders[vendor]
	if !known {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	verifier := h.verifiers[vendor]
	switch {
	case verifier != nil:
		if err := verifier.Verify(body, r.Header.Get(header)); err != nil {
			h.logger.WarnContext(r.Context(), "webhook signature rejected",
				slog.String("vendor", vendor),
			)
			httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
	case h.production:
		// No secret configured in production means the deploy is broken;
		// reject rather than accept unsigned events.
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "webhook verification unavailable"})
		return
	default:
		h.logger.WarnContext(r.Context(), "accepting unverified webhook, no secret configured",
			slog.String("vendor", vendor),
		)
	}

	// From here on the response is always 200: the signature checked out,
	// and redelivery cannot fix a processing failure on our side.
	evt, err := webhook.ParseEvent(vendor, body)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "unparseable webhook event",
			slog.String("vendor", vendor),
			slog.String("error", err.Error()),
		)
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	h.dispatcher.Dispatch(r.Context(), evt)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
