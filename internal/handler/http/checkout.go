package httphandler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pmgasset/td-wifi-api/internal/domain"
	"github.com/pmgasset/td-wifi-api/internal/service"
	"github.com/pmgasset/td-wifi-api/pkg/httputil"
	"github.com/pmgasset/td-wifi-api/pkg/logger"
	"github.com/pmgasset/td-wifi-api/pkg/validator"
)

// CheckoutHandler serves the checkout saga and post-payment verification.
type CheckoutHandler struct {
	checkout *service.CheckoutService
	logger   *slog.Logger
}

// NewCheckoutHandler creates the checkout handler.
func NewCheckoutHandler(checkout *service.CheckoutService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, logger: logger}
}

// checkoutOrder is the order slice of the checkout response.
type checkoutOrder struct {
	OrderID       string  `json:"orderId"`
	OrderNumber   string  `json:"orderNumber,omitempty"`
	InvoiceID     string  `json:"invoiceId,omitempty"`
	InvoiceNumber string  `json:"invoiceNumber,omitempty"`
	ContactID     string  `json:"contactId,omitempty"`
	Total         float64 `json:"total"`
}

// checkoutPayment carries either the hosted payment URL (standard variant)
// or the client secret (deferred variant).
type checkoutPayment struct {
	URL             string `json:"url,omitempty"`
	Hosted          bool   `json:"hosted,omitempty"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	ClientSecret    string `json:"clientSecret,omitempty"`
}

type checkoutResponse struct {
	Success  bool               `json:"success"`
	Order    *checkoutOrder     `json:"order,omitempty"`
	Payment  *checkoutPayment   `json:"payment,omitempty"`
	Deferred bool               `json:"deferred,omitempty"`
	Totals   domain.OrderTotals `json:"totals"`
	Warnings []string           `json:"warnings,omitempty"`
}

// sagaErrorResponse is the failure shape for a partially completed checkout.
// Progress tells support which vendor records already exist.
type sagaErrorResponse struct {
	Error      string              `json:"error"`
	Details    []string            `json:"details,omitempty"`
	Step       string              `json:"step"`
	Suggestion string              `json:"suggestion,omitempty"`
	Progress   domain.SagaProgress `json:"progress"`
	RequestID  string              `json:"request_id,omitempty"`
}

// Create handles POST /api/checkout.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CheckoutInput
	if err := validator.DecodeAndValidate(r, &in); err != nil {
		writeInvalidInput(w, err)
		return
	}

	result, err := h.checkout.Checkout(r.Context(), in)
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, newCheckoutResponse(result))
}

// Verify handles POST /api/checkout/verify.
func (h *CheckoutHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var in service.VerifyInput
	if err := validator.DecodeAndValidate(r, &in); err != nil {
		writeInvalidInput(w, err)
		return
	}

	result, err := h.checkout.Verify(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

func newCheckoutResponse(result *service.CheckoutResult) checkoutResponse {
	resp := checkoutResponse{
		Success:  true,
		Deferred: result.Deferred,
		Totals:   result.Totals,
		Warnings: result.Warnings,
	}
	if result.OrderID != "" {
		resp.Order = &checkoutOrder{
			OrderID:       result.OrderID,
			OrderNumber:   result.OrderNumber,
			InvoiceID:     result.InvoiceID,
			InvoiceNumber: result.InvoiceNumber,
			ContactID:     result.ContactID,
			Total:         result.Totals.Total,
		}
	}
	if result.PaymentURL != "" || result.PaymentIntentID != "" {
		resp.Payment = &checkoutPayment{
			URL:             result.PaymentURL,
			Hosted:          result.PaymentHosted,
			PaymentIntentID: result.PaymentIntentID,
			ClientSecret:    result.ClientSecret,
		}
	}
	return resp
}

// writeInvalidInput writes the checkout contract's validation failure shape:
// a message plus one entry per failed field.
func writeInvalidInput(w http.ResponseWriter, err error) {
	details := []string{err.Error()}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		details = valErr.Details()
	}
	httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "request validation failed",
		"details": details,
	})
}

func (h *CheckoutHandler) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var sagaErr *service.SagaError
	if errors.As(err, &sagaErr) {
		httputil.WriteJSON(w, sagaErr.HTTPStatus(), sagaErrorResponse{
			Error:      "checkout failed",
			Details:    []string{sagaErr.Err.Error()},
			Step:       sagaErr.Step,
			Suggestion: sagaErr.Suggestion,
			Progress:   sagaErr.Progress,
			RequestID:  logger.CorrelationIDFromContext(r.Context()),
		})
		return
	}
	httputil.WriteError(w, r, err, h.logger)
}
