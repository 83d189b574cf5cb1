package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pmgasset/td-wifi-api/internal/domain"
	apperrors "github.com/pmgasset/td-wifi-api/pkg/errors"
)

// Inventory exposes typed operations on the Inventory surface. Inventory is
// the authoritative catalog source: it alone carries custom fields and
// stock counts.
type Inventory struct {
	client *Client
}

// NewInventory wraps a Client for the inventory surface.
func NewInventory(client *Client) *Inventory {
	return &Inventory{client: client}
}

// itemsPerPage matches the vendor's maximum page size.
const itemsPerPage = 200

type listItemsResponse struct {
	Items       []InventoryItem `json:"items"`
	PageContext struct {
		Page        int  `json:"page"`
		HasMorePage bool `json:"has_more_page"`
	} `json:"page_context"`
}

// ListItems fetches one page of the full item list. The caller drives
// pagination; a sync walks pages until hasMore is false.
func (i *Inventory) ListItems(ctx context.Context, page int) (items []InventoryItem, hasMore bool, err error) {
	query := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(itemsPerPage)},
	}

	raw, err := i.client.Do(ctx, http.MethodGet, "/items", query, nil)
	if err != nil {
		return nil, false, err
	}

	var resp listItemsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, &MalformedResponseError{Surface: i.client.Surface(), Snippet: snippet(raw), Err: err}
	}

	return resp.Items, resp.PageContext.HasMorePage, nil
}

type contactListResponse struct {
	Contacts []ContactRecord `json:"contacts"`
}

type contactResponse struct {
	Contact ContactRecord `json:"contact"`
}

// FindContactByEmail searches contacts by email, the idempotency key for
// contact resolution. Returns (nil, nil) on a clean miss.
func (i *Inventory) FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	query := url.Values{"email": {email}}

	raw, err := i.client.Do(ctx, http.MethodGet, i.client.ContactsPath(), query, nil)
	if err != nil {
		return nil, err
	}

	var resp contactListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &MalformedResponseError{Surface: i.client.Surface(), Snippet: snippet(raw), Err: err}
	}

	if len(resp.Contacts) == 0 {
		return nil, nil
	}

	// The list endpoint returns thin records without address IDs; fetch the
	// full contact so later calls can pass address references.
	return i.GetContact(ctx, resp.Contacts[0].ContactID)
}

// GetContact fetches a full contact record by ID.
func (i *Inventory) GetContact(ctx context.Context, contactID string) (*domain.Contact, error) {
	raw, err := i.client.Do(ctx, http.MethodGet, i.client.ContactsPath()+"/"+contactID, nil, nil)
	if err != nil {
		return nil, err
	}

	var resp contactResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &MalformedResponseError{Surface: i.client.Surface(), Snippet: snippet(raw), Err: err}
	}

	contact := resp.Contact.ToDomain()
	return &contact, nil
}

// AddressPayload is the inline address shape sent on contact creation.
// Inline blobs are capped vendor-side at 100 characters; TrimToVendorCap
// enforces the cap before send.
type AddressPayload struct {
	Address string `json:"address"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// addressInlineCap is the observed vendor limit for inline address blobs.
const addressInlineCap = 100

// TrimToVendorCap truncates the free-text address line to the vendor cap.
func (a AddressPayload) TrimToVendorCap() AddressPayload {
	if len(a.Address) > addressInlineCap {
		a.Address = a.Address[:addressInlineCap]
	}
	return a
}

// ContactCreate is the payload for creating a vendor contact.
type ContactCreate struct {
	ContactName     string         `json:"contact_name"`
	ContactType     string         `json:"contact_type"`
	Email           string         `json:"email"`
	Phone           string         `json:"phone,omitempty"`
	BillingAddress  AddressPayload `json:"billing_address"`
	ShippingAddress AddressPayload `json:"shipping_address"`
}

// CreateContact creates a contact with billing and shipping addresses and
// returns the vendor-assigned IDs, including the address IDs.
func (i *Inventory) CreateContact(ctx context.Context, in ContactCreate) (*domain.Contact, error) {
	in.BillingAddress = in.BillingAddress.TrimToVendorCap()
	in.ShippingAddress = in.ShippingAddress.TrimToVendorCap()
	if in.ContactType == "" {
		in.ContactType = "customer"
	}

	raw, err := i.client.Do(ctx, http.MethodPost, i.client.ContactsPath(), nil, in)
	if err != nil {
		return nil, err
	}

	var resp contactResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &MalformedResponseError{Surface: i.client.Surface(), Snippet: snippet(raw), Err: err}
	}

	contact := resp.Contact.ToDomain()
	if contact.ContactID == "" {
		return nil, &MalformedResponseError{
			Surface: i.client.Surface(),
			Snippet: snippet(raw),
			Err:     fmt.Errorf("contact created but no contact_id returned"),
		}
	}
	return &contact, nil
}

// SalesOrderLine is a clean vendor line item. It deliberately carries no
// internal lookup metadata: extraneous fields have caused vendor-side
// payload rejection.
type SalesOrderLine struct {
	ItemID   string  `json:"item_id"`
	Rate     float64 `json:"rate"`
	Quantity int     `json:"quantity"`
}

// SalesOrderCreate is the payload for creating a sales order. Addresses are
// passed by ID reference, never re-embedded inline.
type SalesOrderCreate struct {
	CustomerID        string           `json:"customer_id"`
	LineItems         []SalesOrderLine `json:"line_items"`
	ReferenceNumber   string           `json:"reference_number,omitempty"`
	Notes             string           `json:"notes,omitempty"`
	ShippingCharge    float64          `json:"shipping_charge,omitempty"`
	BillingAddressID  string           `json:"billing_address_id,omitempty"`
	ShippingAddressID string           `json:"shipping_address_id,omitempty"`
}

type salesOrderResponse struct {
	SalesOrder struct {
		SalesOrderID     string  `json:"salesorder_id"`
		SalesOrderNumber string  `json:"salesorder_number"`
		Total            float64 `json:"total"`
		Status           string  `json:"status"`
	} `json:"salesorder"`
}

// CreateSalesOrder creates a sales order for the contact.
func (i *Inventory) CreateSalesOrder(ctx context.Context, in SalesOrderCreate) (*domain.SalesOrder, error) {
	raw, err := i.client.Do(ctx, http.MethodPost, "/salesorders", nil, in)
	if err != nil {
		return nil, err
	}

	var resp salesOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &MalformedResponseError{Surface: i.client.Surface(), Snippet: snippet(raw), Err: err}
	}
	if resp.SalesOrder.SalesOrderID == "" {
		return nil, &MalformedResponseError{
			Surface: i.client.Surface(),
			Snippet: snippet(raw),
			Err:     fmt.Errorf("sales order created but no salesorder_id returned"),
		}
	}

	return &domain.SalesOrder{
		SalesOrderID: resp.SalesOrder.SalesOrderID,
		OrderNumber:  resp.SalesOrder.SalesOrderNumber,
		Total:        resp.SalesOrder.Total,
		Status:       resp.SalesOrder.Status,
	}, nil
}

// InvoiceCreate is the payload for generating an invoice from a sales order.
type InvoiceCreate struct {
	SalesOrderID string
	CustomerID   string
	// DueDate in YYYY-MM-DD; empty means due on receipt.
	DueDate string
}

type invoiceResponse struct {
	Invoice struct {
		InvoiceID     string  `json:"invoice_id"`
		InvoiceNumber string  `json:"invoice_number"`
		Total         float64 `json:"total"`
		DueDate       string  `json:"due_date"`
	} `json:"invoice"`
}

// CreateInvoice generates an invoice from the sales order.
func (i *Inventory) CreateInvoice(ctx context.Context, in InvoiceCreate) (*domain.Invoice, error) {
	query := url.Values{"salesorder_id": {in.SalesOrderID}}
	body := map[string]string{"customer_id": in.CustomerID}
	if in.DueDate != "" {
		body["due_date"] = in.DueDate
	}

	raw, err := i.client.Do(ctx, http.MethodPost, "/invoices/fromsalesorder", query, body)
	if err != nil {
		return nil, err
	}

	var resp invoiceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &MalformedResponseError{Surface: i.client.Surface(), Snippet: snippet(raw), Err: err}
	}
	if resp.Invoice.InvoiceID == "" {
		return nil, &MalformedResponseError{
			Surface: i.client.Surface(),
			Snippet: snippet(raw),
			Err:     fmt.Errorf("invoice created but no invoice_id returned"),
		}
	}

	return &domain.Invoice{
		InvoiceID:     resp.Invoice.InvoiceID,
		InvoiceNumber: resp.Invoice.InvoiceNumber,
		Total:         resp.Invoice.Total,
		DueDate:       resp.Invoice.DueDate,
	}, nil
}

// PaymentLinkCreate is the payload for a vendor-hosted payment link.
type PaymentLinkCreate struct {
	CustomerID  string  `json:"customer_id"`
	Amount      float64 `json:"payment_amount"`
	Description string  `json:"description,omitempty"`
	InvoiceID   string  `json:"invoice_id,omitempty"`
}

type paymentLinkResponse struct {
	PaymentLink struct {
		URL string `json:"url"`
	} `json:"payment_link"`
}

// CreatePaymentLink requests a vendor-hosted payment URL. A failure here is
// not terminal for checkout; the saga falls back to a self-hosted link.
func (i *Inventory) CreatePaymentLink(ctx context.Context, in PaymentLinkCreate) (string, error) {
	raw, err := i.client.Do(ctx, http.MethodPost, "/paymentlinks", nil, in)
	if err != nil {
		return "", err
	}

	var resp paymentLinkResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &MalformedResponseError{Surface: i.client.Surface(), Snippet: snippet(raw), Err: err}
	}
	if resp.PaymentLink.URL == "" {
		return "", &MalformedResponseError{
			Surface: i.client.Surface(),
			Snippet: snippet(raw),
			Err:     fmt.Errorf("payment link created but no url returned"),
		}
	}
	return resp.PaymentLink.URL, nil
}

// GetSalesOrder fetches a sales order by ID, used by checkout verification.
func (i *Inventory) GetSalesOrder(ctx context.Context, salesOrderID string) (*domain.SalesOrder, error) {
	raw, err := i.client.Do(ctx, http.MethodGet, "/salesorders/"+salesOrderID, nil, nil)
	if err != nil {
		return nil, err
	}

	var resp salesOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &MalformedResponseError{Surface: i.client.Surface(), Snippet: snippet(raw), Err: err}
	}
	if resp.SalesOrder.SalesOrderID == "" {
		return nil, apperrors.NotFound("sales order", salesOrderID)
	}

	return &domain.SalesOrder{
		SalesOrderID: resp.SalesOrder.SalesOrderID,
		OrderNumber:  resp.SalesOrder.SalesOrderNumber,
		Total:        resp.SalesOrder.Total,
		Status:       resp.SalesOrder.Status,
	}, nil
}
