package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pmgasset/td-wifi-api/internal/domain"
	"github.com/pmgasset/td-wifi-api/internal/stripe"
	"github.com/pmgasset/td-wifi-api/internal/zoho"
	apperrors "github.com/pmgasset/td-wifi-api/pkg/errors"
	"github.com/pmgasset/td-wifi-api/pkg/httpclient"
)

var (
	checkoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total checkout attempts by mode and outcome",
	}, []string{"mode", "status"})

	sagaStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_saga_step_failures_total",
		Help: "Saga step failures by step",
	}, []string{"step"})

	itemLookupTier = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_item_lookup_total",
		Help: "Cart item to vendor item resolutions by lookup tier",
	}, []string{"tier"})
)

// VendorOrders is the slice of the Inventory surface the saga depends on.
// *zoho.Inventory satisfies it.
type VendorOrders interface {
	FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error)
	CreateContact(ctx context.Context, in zoho.ContactCreate) (*domain.Contact, error)
	CreateSalesOrder(ctx context.Context, in zoho.SalesOrderCreate) (*domain.SalesOrder, error)
	CreateInvoice(ctx context.Context, in zoho.InvoiceCreate) (*domain.Invoice, error)
	CreatePaymentLink(ctx context.Context, in zoho.PaymentLinkCreate) (string, error)
	GetSalesOrder(ctx context.Context, salesOrderID string) (*domain.SalesOrder, error)
}

// ProductIndex is the catalog lookup surface used for line-item resolution.
// *catalog.Cache satisfies it.
type ProductIndex interface {
	Get(id string) (domain.CatalogProduct, bool)
	BySKU(sku string) (domain.CatalogProduct, bool)
	ByName(name string) (domain.CatalogProduct, bool)
}

// PaymentIntents is the payment-provider surface for the deferred checkout
// variant. *stripe.Client satisfies it.
type PaymentIntents interface {
	CreatePaymentIntent(ctx context.Context, in stripe.PaymentIntentCreate) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	UpdatePaymentIntentMetadata(ctx context.Context, id string, metadata map[string]string) (*stripe.PaymentIntent, error)
}

// OrderPublisher publishes order lifecycle events. *event.Producer satisfies it.
type OrderPublisher interface {
	OrderPlaced(ctx context.Context, orderID string, data any) error
	OrderMaterialized(ctx context.Context, orderID string, data any) error
}

// CheckoutConfig holds the saga's policy knobs.
type CheckoutConfig struct {
	Pricing domain.PricingPolicy
	// InvoiceDueDays is days until the invoice is due; 0 means due on receipt.
	InvoiceDueDays int
	// PaymentPageBaseURL is the storefront's own payment page, used when the
	// vendor cannot produce a hosted link.
	PaymentPageBaseURL string
	// PaymentLinkSecret signs self-hosted payment URLs.
	PaymentLinkSecret string
	Currency          string
}

// CheckoutInput is the validated checkout request.
type CheckoutInput struct {
	Type     domain.CheckoutType    `json:"checkoutType" validate:"omitempty,oneof=guest create_account existing_customer"`
	Customer domain.CustomerInfo    `json:"customerInfo"`
	Shipping domain.ShippingAddress `json:"shippingAddress"`
	Items    []domain.CartItem      `json:"cartItems" validate:"min=1,dive"`
	Notes    string                 `json:"orderNotes,omitempty"`
	// DeferVendorSync selects the payment-first variant: no vendor records
	// are created until the payment webhook confirms the charge.
	DeferVendorSync bool `json:"deferVendorSync,omitempty"`
}

// CheckoutResult is the successful checkout response. For the deferred
// variant only ClientSecret, PaymentIntentID, and Totals are populated.
type CheckoutResult struct {
	OrderID         string             `json:"orderId,omitempty"`
	OrderNumber     string             `json:"orderNumber,omitempty"`
	InvoiceID       string             `json:"invoiceId,omitempty"`
	InvoiceNumber   string             `json:"invoiceNumber,omitempty"`
	ContactID       string             `json:"contactId,omitempty"`
	PaymentURL      string             `json:"paymentUrl,omitempty"`
	PaymentHosted   bool               `json:"paymentHosted,omitempty"`
	PaymentIntentID string             `json:"paymentIntentId,omitempty"`
	ClientSecret    string             `json:"clientSecret,omitempty"`
	Deferred        bool               `json:"deferred,omitempty"`
	Totals          domain.OrderTotals `json:"totals"`
	Warnings        []string           `json:"warnings,omitempty"`
}

// SagaError wraps a step failure with the progress snapshot accumulated so
// far and a remediation hint, so the failure response tells support exactly
// where the saga stopped.
type SagaError struct {
	Step       string
	Progress   domain.SagaProgress
	Suggestion string
	Err        error
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("checkout saga failed at %s: %v", e.Step, e.Err)
}

func (e *SagaError) Unwrap() error { return e.Err }

// HTTPStatus maps the underlying failure to a response code. Vendor rate
// limits pass through as 429 so the storefront client can back off; every
// other step failure is a 500.
func (e *SagaError) HTTPStatus() int {
	if zoho.IsRateLimited(e.Err) || errors.Is(e.Err, apperrors.ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// CheckoutService orchestrates the five-step checkout saga against the
// vendor surfaces. There is no local order store and no compensation:
// the vendor is the system of record, and partially created records are
// reported through SagaProgress for manual follow-up.
type CheckoutService struct {
	vendor   VendorOrders
	products ProductIndex
	payments PaymentIntents
	producer OrderPublisher
	cfg      CheckoutConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewCheckoutService creates the checkout saga service.
func NewCheckoutService(
	vendor VendorOrders,
	products ProductIndex,
	payments PaymentIntents,
	producer OrderPublisher,
	cfg CheckoutConfig,
	logger *slog.Logger,
) *CheckoutService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &CheckoutService{
		vendor:   vendor,
		products: products,
		payments: payments,
		producer: producer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Checkout runs the saga: contact resolution, sales order, invoice, payment
// link. Totals are computed locally before any vendor call so a pricing
// problem never leaves half-created vendor records.
func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if len(in.Items) == 0 {
		return nil, apperrors.InvalidInput("cart must contain at least one item")
	}
	if in.Type == "" {
		in.Type = domain.CheckoutGuest
	}

	totals := domain.CalculateTotals(in.Items, s.cfg.Pricing)

	if in.DeferVendorSync {
		return s.checkoutDeferred(ctx, in, totals)
	}

	var progress domain.SagaProgress

	contact, err := s.findOrCreateContact(ctx, in)
	if err != nil {
		return nil, s.fail(ctx, "standard", domain.StepContactResolution, progress, err)
	}
	progress.ContactCreated = true

	lines, warnings, err := s.resolveLineItems(ctx, in.Items)
	if err != nil {
		return nil, s.fail(ctx, "standard", domain.StepSalesOrder, progress, err)
	}

	reference := "TDW-" + strings.ToUpper(uuid.NewString()[:8])
	order, err := s.vendor.CreateSalesOrder(ctx, zoho.SalesOrderCreate{
		CustomerID:        contact.ContactID,
		LineItems:         lines,
		ReferenceNumber:   reference,
		Notes:             in.Notes,
		ShippingCharge:    totals.Shipping,
		BillingAddressID:  contact.BillingAddressID,
		ShippingAddressID: contact.ShippingAddressID,
	})
	if err != nil {
		return nil, s.fail(ctx, "standard", domain.StepSalesOrder, progress, err)
	}
	progress.SalesOrderCreated = true

	invoice, err := s.vendor.CreateInvoice(ctx, zoho.InvoiceCreate{
		SalesOrderID: order.SalesOrderID,
		CustomerID:   contact.ContactID,
		DueDate:      s.invoiceDueDate(),
	})
	if err != nil {
		return nil, s.fail(ctx, "standard", domain.StepInvoice, progress, err)
	}
	progress.InvoiceCreated = true

	link := s.paymentLink(ctx, contact, order, invoice, totals, &warnings)
	progress.PaymentLinkCreated = true

	result := &CheckoutResult{
		OrderID:       order.SalesOrderID,
		OrderNumber:   order.OrderNumber,
		InvoiceID:     invoice.InvoiceID,
		InvoiceNumber: invoice.InvoiceNumber,
		ContactID:     contact.ContactID,
		PaymentURL:    link.URL,
		PaymentHosted: link.Hosted,
		Totals:        totals,
		Warnings:      warnings,
	}

	if s.producer != nil {
		if err := s.producer.OrderPlaced(ctx, order.SalesOrderID, result); err != nil {
			s.logger.WarnContext(ctx, "failed to publish order.placed event",
				slog.String("order_id", order.SalesOrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	checkoutsTotal.WithLabelValues("standard", "success").Inc()
	s.logger.InfoContext(ctx, "checkout completed",
		slog.String("order_id", order.SalesOrderID),
		slog.String("invoice_id", invoice.InvoiceID),
		slog.Float64("total", totals.Total),
		slog.Bool("payment_hosted", link.Hosted),
	)
	return result, nil
}

// checkoutDeferred is the payment-first variant: the full order context is
// packed into payment-intent metadata and vendor records are created later
// by the payment webhook. Customers are never charged for orders the vendor
// would reject outright, so line items are still resolved up front.
func (s *CheckoutService) checkoutDeferred(ctx context.Context, in CheckoutInput, totals domain.OrderTotals) (*CheckoutResult, error) {
	var progress domain.SagaProgress

	if _, _, err := s.resolveLineItems(ctx, in.Items); err != nil {
		return nil, s.fail(ctx, "deferred", domain.StepValidation, progress, err)
	}

	metadata, err := deferredMetadata(in, totals)
	if err != nil {
		return nil, s.fail(ctx, "deferred", domain.StepPaymentIntent, progress, err)
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, stripe.PaymentIntentCreate{
		AmountCents:  int64(math.Round(totals.Total * 100)),
		Currency:     s.cfg.Currency,
		ReceiptEmail: in.Customer.Email,
		Description:  fmt.Sprintf("Storefront order for %s", in.Customer.Email),
		Metadata:     metadata,
	})
	if err != nil {
		return nil, s.fail(ctx, "deferred", domain.StepPaymentIntent, progress, err)
	}

	checkoutsTotal.WithLabelValues("deferred", "success").Inc()
	s.logger.InfoContext(ctx, "deferred checkout created",
		slog.String("payment_intent_id", intent.ID),
		slog.Float64("total", totals.Total),
	)
	return &CheckoutResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Deferred:        true,
		Totals:          totals,
	}, nil
}

// MaterializeDeferredOrder reconstructs a checkout from payment-intent
// metadata after the provider confirms the charge, then runs the vendor
// half of the saga. Called by the payment webhook handler.
func (s *CheckoutService) MaterializeDeferredOrder(ctx context.Context, intent *stripe.PaymentIntent) (*CheckoutResult, error) {
	if intent.Metadata["items_truncated"] == "true" {
		return nil, fmt.Errorf("payment intent %s metadata was truncated; order requires manual reconciliation", intent.ID)
	}

	in, err := checkoutFromMetadata(intent.Metadata)
	if err != nil {
		return nil, fmt.Errorf("decode payment intent %s metadata: %w", intent.ID, err)
	}

	in.Notes = strings.TrimSpace(in.Notes + "\nPaid via payment intent " + intent.ID)
	in.DeferVendorSync = false

	result, err := s.Checkout(ctx, in)
	if err != nil {
		return nil, err
	}

	// Stamp the vendor IDs back onto the intent so a later verification by
	// intent ID can surface the materialized order. The vendor order already
	// exists at this point, so a stamping failure is logged, not returned.
	if s.payments != nil {
		if _, err := s.payments.UpdatePaymentIntentMetadata(ctx, intent.ID, map[string]string{
			"salesorder_id": result.OrderID,
			"invoice_id":    result.InvoiceID,
			"contact_id":    result.ContactID,
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to stamp vendor ids onto payment intent",
				slog.String("payment_intent_id", intent.ID),
				slog.String("order_id", result.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.producer != nil {
		if err := s.producer.OrderMaterialized(ctx, result.OrderID, result); err != nil {
			s.logger.WarnContext(ctx, "failed to publish order.materialized event",
				slog.String("order_id", result.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	return result, nil
}

// findOrCreateContact resolves the vendor contact by email, creating it on a
// miss. Email is the idempotency key: repeating a checkout for the same
// email never creates a duplicate contact.
func (s *CheckoutService) findOrCreateContact(ctx context.Context, in CheckoutInput) (*domain.Contact, error) {
	email := strings.ToLower(strings.TrimSpace(in.Customer.Email))

	contact, err := s.vendor.FindContactByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("search contact by email: %w", err)
	}
	if contact != nil {
		s.logger.DebugContext(ctx, "reusing existing vendor contact",
			slog.String("contact_id", contact.ContactID),
		)
		return contact, nil
	}

	if in.Type == domain.CheckoutExistingCustomer {
		s.logger.WarnContext(ctx, "existing-customer checkout found no contact; creating one",
			slog.String("email_domain", emailDomain(email)),
		)
	}

	address := zoho.AddressPayload{
		Address: joinAddressLines(in.Shipping.Address1, in.Shipping.Address2),
		City:    in.Shipping.City,
		State:   in.Shipping.State,
		Zip:     in.Shipping.ZipCode,
		Country: in.Shipping.Country,
	}

	contact, err = s.vendor.CreateContact(ctx, zoho.ContactCreate{
		ContactName:     strings.TrimSpace(in.Customer.FirstName + " " + in.Customer.LastName),
		Email:           email,
		Phone:           in.Customer.Phone,
		BillingAddress:  address,
		ShippingAddress: address,
	})
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return contact, nil
}

// resolveLineItems maps cart items onto vendor item IDs through a lookup
// cascade: SKU index, then fuzzy name match, then the raw product ID passed
// through unverified. Unresolvable items are dropped with a warning; the
// order fails only when nothing at all resolves.
func (s *CheckoutService) resolveLineItems(ctx context.Context, items []domain.CartItem) ([]zoho.SalesOrderLine, []string, error) {
	lines := make([]zoho.SalesOrderLine, 0, len(items))
	var warnings []string

	for _, item := range items {
		itemID, tier := s.resolveItemID(item)
		switch tier {
		case "sku":
		case "name":
			warnings = append(warnings, fmt.Sprintf("item %q resolved by name match, not SKU", item.Name))
			s.logger.WarnContext(ctx, "cart item resolved by fuzzy name match",
				slog.String("name", item.Name),
				slog.String("item_id", itemID),
			)
		case "raw_id":
			warnings = append(warnings, fmt.Sprintf("item %q not found in catalog; using its product ID unverified", item.Name))
			s.logger.WarnContext(ctx, "cart item missing from catalog, passing raw product id to vendor",
				slog.String("name", item.Name),
				slog.String("product_id", item.ProductID),
			)
		default:
			warnings = append(warnings, fmt.Sprintf("item %q could not be mapped to a vendor item and was dropped", item.Name))
			s.logger.WarnContext(ctx, "cart item dropped, no vendor mapping",
				slog.String("name", item.Name),
			)
			continue
		}

		itemLookupTier.WithLabelValues(tier).Inc()
		lines = append(lines, zoho.SalesOrderLine{
			ItemID:   itemID,
			Rate:     item.Price,
			Quantity: item.Quantity,
		})
	}

	if len(lines) == 0 {
		return nil, warnings, fmt.Errorf("no cart items could be mapped to vendor items")
	}
	return lines, warnings, nil
}

func (s *CheckoutService) resolveItemID(item domain.CartItem) (string, string) {
	if item.SKU != "" {
		if p, ok := s.products.BySKU(item.SKU); ok {
			return p.ID, "sku"
		}
	}
	if item.Name != "" {
		if p, ok := s.products.ByName(item.Name); ok {
			return p.ID, "name"
		}
	}
	if item.ProductID != "" {
		return item.ProductID, "raw_id"
	}
	return "", ""
}

// paymentLink asks the vendor for a hosted payment link, falling back to the
// storefront's own signed payment URL. The fallback cannot fail, so this
// step never aborts the saga.
func (s *CheckoutService) paymentLink(
	ctx context.Context,
	contact *domain.Contact,
	order *domain.SalesOrder,
	invoice *domain.Invoice,
	totals domain.OrderTotals,
	warnings *[]string,
) domain.PaymentLink {
	hosted, err := s.vendor.CreatePaymentLink(ctx, zoho.PaymentLinkCreate{
		CustomerID:  contact.ContactID,
		Amount:      totals.Total,
		Description: "Order " + order.OrderNumber,
		InvoiceID:   invoice.InvoiceID,
	})
	if err == nil {
		return domain.PaymentLink{URL: hosted, Hosted: true}
	}

	s.logger.WarnContext(ctx, "vendor payment link failed, using self-hosted fallback",
		slog.String("order_id", order.SalesOrderID),
		slog.String("error", err.Error()),
	)
	*warnings = append(*warnings, "vendor payment link unavailable; issued self-hosted payment URL")
	return domain.PaymentLink{URL: s.selfHostedPaymentURL(order.SalesOrderID, invoice.InvoiceID, totals.Total), Hosted: false}
}

// selfHostedPaymentURL builds a signed URL to the storefront's own payment
// page. The signature covers the order, invoice, and amount so the payment
// page can reject tampered links.
func (s *CheckoutService) selfHostedPaymentURL(orderID, invoiceID string, amount float64) string {
	amountStr := strconv.FormatFloat(amount, 'f', 2, 64)
	mac := hmac.New(sha256.New, []byte(s.cfg.PaymentLinkSecret))
	fmt.Fprintf(mac, "%s.%s.%s", orderID, invoiceID, amountStr)

	q := url.Values{
		"order":   {orderID},
		"invoice": {invoiceID},
		"amount":  {amountStr},
		"sig":     {hex.EncodeToString(mac.Sum(nil))},
	}
	return strings.TrimSuffix(s.cfg.PaymentPageBaseURL, "/") + "/pay?" + q.Encode()
}

func (s *CheckoutService) invoiceDueDate() string {
	if s.cfg.InvoiceDueDays <= 0 {
		return ""
	}
	return s.now().UTC().AddDate(0, 0, s.cfg.InvoiceDueDays).Format("2006-01-02")
}

// fail records the step failure, stamps the progress snapshot, and attaches
// a remediation hint derived from the error class.
func (s *CheckoutService) fail(ctx context.Context, mode, step string, progress domain.SagaProgress, err error) error {
	progress.FailedStep = step
	sagaStepFailures.WithLabelValues(step).Inc()
	checkoutsTotal.WithLabelValues(mode, "error").Inc()

	s.logger.ErrorContext(ctx, "checkout saga step failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
		slog.Bool("contact_created", progress.ContactCreated),
		slog.Bool("sales_order_created", progress.SalesOrderCreated),
		slog.Bool("invoice_created", progress.InvoiceCreated),
	)

	return &SagaError{
		Step:       step,
		Progress:   progress,
		Suggestion: remediation(err),
		Err:        err,
	}
}

// remediation turns a vendor failure into an operator-facing hint.
func remediation(err error) string {
	var malformed *zoho.MalformedResponseError
	var api *zoho.APIError

	switch {
	case zoho.IsRateLimited(err), errors.Is(err, apperrors.ErrRateLimited):
		return "vendor rate limit reached; wait for the window to reset before retrying"
	case errors.Is(err, apperrors.ErrVendorAuth):
		return "vendor rejected authentication; check that the refresh token has not been revoked"
	case errors.Is(err, httpclient.ErrCircuitOpen):
		return "vendor circuit breaker is open after repeated failures; retry after the cooldown"
	case errors.As(err, &malformed):
		return "vendor returned an unparseable response; check vendor status before retrying"
	case errors.As(err, &api):
		if strings.Contains(strings.ToLower(api.Message), "organization") {
			return fmt.Sprintf("verify the organization ID configured for the %s surface", api.Surface)
		}
		return fmt.Sprintf("vendor %s API rejected the request (code %d)", api.Surface, api.Code)
	default:
		return ""
	}
}

// deferredMetadata packs the checkout into payment-intent metadata. Items
// are compacted to one JSON array to stay under the provider's per-field
// size cap as long as possible.
func deferredMetadata(in CheckoutInput, totals domain.OrderTotals) (map[string]string, error) {
	items, err := json.Marshal(in.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal cart items: %w", err)
	}
	shipping, err := json.Marshal(in.Shipping)
	if err != nil {
		return nil, fmt.Errorf("marshal shipping address: %w", err)
	}

	md := map[string]string{
		"checkout_type":  string(in.Type),
		"customer_email": in.Customer.Email,
		"customer_first": in.Customer.FirstName,
		"customer_last":  in.Customer.LastName,
		"items":          string(items),
		"shipping":       string(shipping),
		"subtotal":       strconv.FormatFloat(totals.Subtotal, 'f', 2, 64),
		"total":          strconv.FormatFloat(totals.Total, 'f', 2, 64),
	}
	if in.Customer.Phone != "" {
		md["customer_phone"] = in.Customer.Phone
	}
	if in.Notes != "" {
		md["order_notes"] = in.Notes
	}
	return md, nil
}

// checkoutFromMetadata is the inverse of deferredMetadata.
func checkoutFromMetadata(md map[string]string) (CheckoutInput, error) {
	var in CheckoutInput

	if err := json.Unmarshal([]byte(md["items"]), &in.Items); err != nil {
		return in, fmt.Errorf("unmarshal items: %w", err)
	}
	if raw := md["shipping"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Shipping); err != nil {
			return in, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}

	in.Type = domain.CheckoutType(md["checkout_type"])
	in.Customer = domain.CustomerInfo{
		Email:     md["customer_email"],
		FirstName: md["customer_first"],
		LastName:  md["customer_last"],
		Phone:     md["customer_phone"],
	}
	in.Notes = md["order_notes"]

	if in.Customer.Email == "" {
		return in, fmt.Errorf("metadata missing customer_email")
	}
	return in, nil
}

func joinAddressLines(line1, line2 string) string {
	if line2 == "" {
		return line1
	}
	return line1 + ", " + line2
}

// emailDomain strips the local part so logs never carry the full address.
func emailDomain(email string) string {
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		return email[at+1:]
	}
	return ""
}
