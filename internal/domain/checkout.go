package domain

// CheckoutType selects the saga variant. All variants share the same step
// sequence; they differ only in how the vendor contact is resolved and
// whether vendor order creation is deferred until payment succeeds.
type CheckoutType string

const (
	// CheckoutGuest resolves the contact by email, creating it on miss.
	CheckoutGuest CheckoutType = "guest"
	// CheckoutCreateAccount is like guest but flags the contact for portal invitation.
	CheckoutCreateAccount CheckoutType = "create_account"
	// CheckoutExistingCustomer requires the contact to already exist.
	CheckoutExistingCustomer CheckoutType = "existing_customer"
)

// Saga step identifiers, reported in failure responses so support can tell
// exactly which step failed without re-running the saga.
const (
	StepValidation        = "validation"
	StepContactResolution = "contact_resolution"
	StepSalesOrder        = "sales_order_creation"
	StepInvoice           = "invoice_creation"
	StepPaymentLink       = "payment_link_generation"
	StepPaymentIntent     = "payment_intent_creation"
)

// CustomerInfo identifies the purchaser. Email is the idempotency key for
// vendor contact resolution.
type CustomerInfo struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Phone     string `json:"phone,omitempty"`
}

// ShippingAddress is the destination address supplied at checkout.
type ShippingAddress struct {
	Address1 string `json:"address1" validate:"required"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city" validate:"required"`
	State    string `json:"state" validate:"required"`
	ZipCode  string `json:"zipCode" validate:"required"`
	Country  string `json:"country"`
}

// Contact is the vendor-side customer record. Created once per distinct
// email and reused across orders. The address IDs are retained because some
// vendor address fields cap inline blobs at 100 characters; later calls pass
// the ID reference instead of re-embedding the address.
type Contact struct {
	ContactID         string `json:"contact_id"`
	Email             string `json:"email"`
	BillingAddressID  string `json:"billing_address_id,omitempty"`
	ShippingAddressID string `json:"shipping_address_id,omitempty"`
}

// SagaProgress records which saga steps completed. It is ephemeral,
// used purely for failure reporting, and never persisted.
type SagaProgress struct {
	ContactCreated     bool   `json:"contactCreated"`
	SalesOrderCreated  bool   `json:"salesOrderCreated"`
	InvoiceCreated     bool   `json:"invoiceCreated"`
	PaymentLinkCreated bool   `json:"paymentLinkCreated"`
	FailedStep         string `json:"failedStep,omitempty"`
}

// SalesOrder is the vendor-created order record.
type SalesOrder struct {
	SalesOrderID string  `json:"salesorder_id"`
	OrderNumber  string  `json:"salesorder_number"`
	Total        float64 `json:"total"`
	Status       string  `json:"status,omitempty"`
}

// Invoice is the vendor-created invoice tied to a sales order.
type Invoice struct {
	InvoiceID     string  `json:"invoice_id"`
	InvoiceNumber string  `json:"invoice_number"`
	Total         float64 `json:"total"`
	DueDate       string  `json:"due_date,omitempty"`
}

// PaymentLink is the URL the customer pays through. Hosted is true when the
// vendor generated the link; false when the storefront fell back to its
// self-hosted signed URL.
type PaymentLink struct {
	URL    string `json:"url"`
	Hosted bool   `json:"hosted"`
}
