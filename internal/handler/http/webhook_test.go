package httphandler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmgasset/td-wifi-api/internal/webhook"
)

func zohoSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newWebhookServer(t *testing.T, h *WebhookHandler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/webhooks/{vendor}", h.Receive)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postWebhook(t *testing.T, srv *httptest.Server, vendor, body, sigHeader, sig string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/"+vendor, strings.NewReader(body))
	require.NoError(t, err)
	if sig != "" {
		req.Header.Set(sigHeader, sig)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhookReceive_ValidSignature(t *testing.T) {
	dispatcher := webhook.NewDispatcher(webhook.NewMemoryDeduper(time.Hour), testLogger())

	handled := make(chan webhook.Event, 1)
	dispatcher.Register("zoho", "invoice.paid", func(_ context.Context, evt webhook.Event) error {
		handled <- evt
		return nil
	})

	h := NewWebhookHandler(map[string]webhook.Verifier{
		"zoho": webhook.NewZohoVerifier("zoho-secret"),
	}, dispatcher, true, testLogger())
	srv := newWebhookServer(t, h)

	body := `{"event_id":"zev_1","event_type":"invoice.paid","data":{"invoice_id":"inv-1"}}`
	resp := postWebhook(t, srv, "zoho", body, "X-Zoho-Webhook-Signature", zohoSignature("zoho-secret", []byte(body)))

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case evt := <-handled:
		assert.Equal(t, "zev_1", evt.ID)
	default:
		t.Fatal("event was not dispatched")
	}
}

func TestWebhookReceive_BadSignature(t *testing.T) {
	dispatcher := webhook.NewDispatcher(webhook.NewMemoryDeduper(time.Hour), testLogger())
	h := NewWebhookHandler(map[string]webhook.Verifier{
		"zoho": webhook.NewZohoVerifier("zoho-secret"),
	}, dispatcher, true, testLogger())
	srv := newWebhookServer(t, h)

	body := `{"event_id":"zev_1","event_type":"invoice.paid"}`
	resp := postWebhook(t, srv, "zoho", body, "X-Zoho-Webhook-Signature", "bm90LXRoZS1zaWduYXR1cmU=")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookReceive_UnknownVendor(t *testing.T) {
	dispatcher := webhook.NewDispatcher(webhook.NewMemoryDeduper(time.Hour), testLogger())
	h := NewWebhookHandler(nil, dispatcher, false, testLogger())
	srv := newWebhookServer(t, h)

	resp := postWebhook(t, srv, "shopify", `{}`, "", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookReceive_NoVerifierProduction(t *testing.T) {
	dispatcher := webhook.NewDispatcher(webhook.NewMemoryDeduper(time.Hour), testLogger())
	h := NewWebhookHandler(nil, dispatcher, true, testLogger())
	srv := newWebhookServer(t, h)

	resp := postWebhook(t, srv, "stripe", `{"id":"evt_1","type":"x"}`, "", "")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookReceive_NoVerifierDevelopment(t *testing.T) {
	dispatcher := webhook.NewDispatcher(webhook.NewMemoryDeduper(time.Hour), testLogger())
	h := NewWebhookHandler(nil, dispatcher, false, testLogger())
	srv := newWebhookServer(t, h)

	resp := postWebhook(t, srv, "stripe", `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`, "", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookReceive_UnparseableEventStillAcked(t *testing.T) {
	dispatcher := webhook.NewDispatcher(webhook.NewMemoryDeduper(time.Hour), testLogger())
	h := NewWebhookHandler(map[string]webhook.Verifier{
		"zoho": webhook.NewZohoVerifier("zoho-secret"),
	}, dispatcher, true, testLogger())
	srv := newWebhookServer(t, h)

	// Signed but not a valid event envelope: the sender cannot fix this by
	// redelivering, so the receiver acks it.
	body := `{"unexpected":"shape"}`
	resp := postWebhook(t, srv, "zoho", body, "X-Zoho-Webhook-Signature", zohoSignature("zoho-secret", []byte(body)))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
