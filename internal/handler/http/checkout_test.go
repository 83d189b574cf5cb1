package httphandler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmgasset/td-wifi-api/internal/domain"
	"github.com/pmgasset/td-wifi-api/internal/service"
	"github.com/pmgasset/td-wifi-api/internal/zoho"
	apperrors "github.com/pmgasset/td-wifi-api/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubVendor implements service.VendorOrders with canned responses. err, when
// set, fails every call.
type stubVendor struct {
	err error
}

func (s *stubVendor) FindContactByEmail(context.Context, string) (*domain.Contact, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Contact{ContactID: "contact-1", Email: "buyer@example.com"}, nil
}

func (s *stubVendor) CreateContact(context.Context, zoho.ContactCreate) (*domain.Contact, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Contact{ContactID: "contact-1"}, nil
}

func (s *stubVendor) CreateSalesOrder(context.Context, zoho.SalesOrderCreate) (*domain.SalesOrder, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.SalesOrder{SalesOrderID: "so-1", OrderNumber: "SO-00001"}, nil
}

func (s *stubVendor) CreateInvoice(context.Context, zoho.InvoiceCreate) (*domain.Invoice, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Invoice{InvoiceID: "inv-1", InvoiceNumber: "INV-00001"}, nil
}

func (s *stubVendor) CreatePaymentLink(context.Context, zoho.PaymentLinkCreate) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://pay.vendor.example/link/abc", nil
}

func (s *stubVendor) GetSalesOrder(context.Context, string) (*domain.SalesOrder, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.SalesOrder{SalesOrderID: "so-1", Status: "paid"}, nil
}

type stubIndex struct{}

func (stubIndex) Get(string) (domain.CatalogProduct, bool)    { return domain.CatalogProduct{}, false }
func (stubIndex) ByName(string) (domain.CatalogProduct, bool) { return domain.CatalogProduct{}, false }
func (stubIndex) BySKU(sku string) (domain.CatalogProduct, bool) {
	if sku != "WIFI-01" {
		return domain.CatalogProduct{}, false
	}
	return domain.CatalogProduct{ID: "item-100", SKU: "WIFI-01", Name: "Travel Router", Price: 79.99}, true
}

func newCheckoutHandler(vendor *stubVendor) *CheckoutHandler {
	svc := service.NewCheckoutService(vendor, stubIndex{}, nil, nil, service.CheckoutConfig{
		Pricing: domain.PricingPolicy{
			TaxRate:               0.0875,
			FreeShippingThreshold: 100,
			FlatShippingFee:       9.99,
		},
		PaymentPageBaseURL: "https://shop.example.com",
		PaymentLinkSecret:  "link-secret",
	}, testLogger())
	return NewCheckoutHandler(svc, testLogger())
}

const validCheckoutBody = `{
	"checkoutType": "guest",
	"customerInfo": {"email": "buyer@example.com", "firstName": "Ada", "lastName": "Lovelace"},
	"shippingAddress": {"address1": "1 Main St", "city": "Austin", "state": "TX", "zipCode": "78701"},
	"cartItems": [{"sku": "WIFI-01", "name": "Travel Router", "price": 79.99, "quantity": 1}]
}`

func TestCheckoutCreate_Success(t *testing.T) {
	h := newCheckoutHandler(&stubVendor{})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(validCheckoutBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Order)
	assert.Equal(t, "so-1", resp.Order.OrderID)
	assert.Equal(t, "inv-1", resp.Order.InvoiceID)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "https://pay.vendor.example/link/abc", resp.Payment.URL)
	assert.True(t, resp.Payment.Hosted)
	assert.InDelta(t, 96.98, resp.Totals.Total, 0.001)
}

func TestCheckoutCreate_ValidationFailure(t *testing.T) {
	h := newCheckoutHandler(&stubVendor{})

	body := `{
		"customerInfo": {"email": "not-an-email", "firstName": "Ada"},
		"shippingAddress": {"address1": "1 Main St"},
		"cartItems": []
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "request validation failed", resp.Error)
	assert.NotEmpty(t, resp.Details)
}

func TestCheckoutCreate_SagaFailureShape(t *testing.T) {
	h := newCheckoutHandler(&stubVendor{err: apperrors.RateLimited("inventory API rate limit exceeded")})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(validCheckoutBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp sagaErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "checkout failed", resp.Error)
	assert.Equal(t, domain.StepContactResolution, resp.Step)
	assert.NotEmpty(t, resp.Details)
	assert.NotEmpty(t, resp.Suggestion)
	assert.False(t, resp.Progress.ContactCreated)
}

func TestCheckoutCreate_RejectsZeroPriceItem(t *testing.T) {
	h := newCheckoutHandler(&stubVendor{})

	body := `{
		"customerInfo": {"email": "buyer@example.com", "firstName": "Ada", "lastName": "Lovelace"},
		"shippingAddress": {"address1": "1 Main St", "city": "Austin", "state": "TX", "zipCode": "78701"},
		"cartItems": [{"sku": "WIFI-01", "name": "Travel Router", "price": 0, "quantity": 1}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Details, 1)
	assert.Contains(t, resp.Details[0], "Price")
}

func TestCheckoutCreate_MalformedJSON(t *testing.T) {
	h := newCheckoutHandler(&stubVendor{})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutVerify_ByOrder(t *testing.T) {
	h := newCheckoutHandler(&stubVendor{})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/verify", strings.NewReader(`{"orderId":"so-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Verify(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data service.VerifyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Paid)
}

func TestCheckoutVerify_MissingIdentifiers(t *testing.T) {
	h := newCheckoutHandler(&stubVendor{})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/verify", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Verify(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
