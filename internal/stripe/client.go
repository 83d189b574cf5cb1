package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/pmgasset/td-wifi-api/pkg/errors"
)

// metadataValueCap is the provider's per-field metadata limit. The deferred
// checkout variant stores order-reconstruction data in these fields, so
// oversized values are truncated per field rather than failing the intent.
const metadataValueCap = 500

// metadataKeyLimit is the provider's maximum metadata key count.
const metadataKeyLimit = 50

// Doer executes an HTTP request.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is a minimal payment-processor client covering the operations the
// checkout flow needs: creating and retrieving payment intents.
type Client struct {
	baseURL   string
	secretKey string
	http      Doer
	logger    *slog.Logger
}

// New creates a payment client. baseURL is overridable for tests.
func New(baseURL, secretKey string, httpClient Doer, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      httpClient,
		logger:    logger,
	}
}

// PaymentIntent is the provider's payment record.
type PaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ReceiptEmail string            `json:"receipt_email"`
	Metadata     map[string]string `json:"metadata"`
}

// Succeeded reports whether the intent has been paid.
func (p *PaymentIntent) Succeeded() bool {
	return p.Status == "succeeded"
}

// PaymentIntentCreate holds the parameters for creating a payment intent.
type PaymentIntentCreate struct {
	AmountCents  int64
	Currency     string
	ReceiptEmail string
	Description  string
	Metadata     map[string]string
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// TruncateMetadata enforces the provider's per-field cap, marking the
// payload when anything was cut so the webhook handler knows data was lost.
func TruncateMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	truncated := false
	for k, v := range md {
		if len(out) >= metadataKeyLimit-1 {
			truncated = true
			break
		}
		if len(v) > metadataValueCap {
			v = v[:metadataValueCap]
			truncated = true
		}
		out[k] = v
	}
	if truncated {
		out["items_truncated"] = "true"
	}
	return out
}

// CreatePaymentIntent creates a payment intent carrying the given metadata.
func (c *Client) CreatePaymentIntent(ctx context.Context, in PaymentIntentCreate) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(in.AmountCents, 10))
	form.Set("currency", strings.ToLower(in.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if in.ReceiptEmail != "" {
		form.Set("receipt_email", in.ReceiptEmail)
	}
	if in.Description != "" {
		form.Set("description", in.Description)
	}
	for k, v := range TruncateMetadata(in.Metadata) {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	return c.do(ctx, http.MethodPost, "/v1/payment_intents", form)
}

// GetPaymentIntent retrieves a payment intent by ID.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	return c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil)
}

// UpdatePaymentIntentMetadata merges the given metadata keys onto an
// existing intent. Keys not named here are left untouched by the provider.
func (c *Client) UpdatePaymentIntentMetadata(ctx context.Context, id string, metadata map[string]string) (*PaymentIntent, error) {
	form := url.Values{}
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}
	return c.do(ctx, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(id), form)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values) (*PaymentIntent, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call payment provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read payment provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, apperrors.RateLimited("payment provider: " + apiErr.Error.Message)
			}
			c.logger.WarnContext(ctx, "payment provider error",
				slog.Int("status", resp.StatusCode),
				slog.String("type", apiErr.Error.Type),
				slog.String("code", apiErr.Error.Code),
			)
			return nil, fmt.Errorf("payment provider error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, apperrors.VendorUnavailable(
			fmt.Sprintf("payment provider returned http %d with unparseable body", resp.StatusCode))
	}

	var intent PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, apperrors.VendorUnavailable(fmt.Sprintf("payment provider returned malformed JSON: %v", err))
	}
	if intent.ID == "" {
		return nil, apperrors.VendorUnavailable("payment provider response missing intent id")
	}

	return &intent, nil
}
