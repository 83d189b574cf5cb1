package zoho

import (
	"strconv"
	"strings"
	"time"

	"github.com/pmgasset/td-wifi-api/internal/domain"
)

// CustomField is a vendor custom-field entry. The value type varies with
// the field type and API version (bool, number, or string).
type CustomField struct {
	CustomFieldID string `json:"customfield_id"`
	Label         string `json:"label"`
	APIName       string `json:"api_name,omitempty"`
	Value         any    `json:"value"`
}

// InventoryItem is the raw item shape returned by the Inventory surface.
// It is adapted into domain.CatalogProduct at this boundary; nothing
// outside this package sees vendor field names.
type InventoryItem struct {
	ItemID       string        `json:"item_id"`
	SKU          string        `json:"sku"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Rate         float64       `json:"rate"`
	StockOnHand  float64       `json:"stock_on_hand"`
	CategoryID   string        `json:"category_id"`
	ImageName    string        `json:"image_name"`
	Status       string        `json:"status"`
	CustomFields []CustomField `json:"custom_fields"`
}

// normalizeLabel lowercases and strips separators so "Show on Website",
// "show_on_website", and "show-on-website" all compare equal.
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(" ", "", "_", "", "-", "")
	return replacer.Replace(s)
}

// matchesLabel reports whether a custom-field label or API name matches one
// of the allow-list labels: exact normalized match first, containment second.
// The containment tier tolerates vendor-side label edits ("Show on Website?" vs
// "Show on Website").
func matchesLabel(field CustomField, allowList []string) bool {
	candidates := []string{normalizeLabel(field.Label)}
	if field.APIName != "" {
		candidates = append(candidates, normalizeLabel(field.APIName))
	}
	for _, want := range allowList {
		w := normalizeLabel(want)
		if w == "" {
			continue
		}
		for _, got := range candidates {
			if got == w {
				return true
			}
		}
	}
	for _, want := range allowList {
		w := normalizeLabel(want)
		if w == "" {
			continue
		}
		for _, got := range candidates {
			if got != "" && (strings.Contains(got, w) || strings.Contains(w, got)) {
				return true
			}
		}
	}
	return false
}

// DisplayFlag evaluates the storefront display filter for an item: the first
// custom field whose label fuzzily matches the allow-list, interpreted under
// the tolerant truth table. Absent field means hidden.
func (it *InventoryItem) DisplayFlag(allowList []string) bool {
	for _, cf := range it.CustomFields {
		if matchesLabel(cf, allowList) {
			return domain.TruthyFlag(cf.Value)
		}
	}
	return false
}

// ToCatalogProduct maps vendor field names into the stable internal schema.
func (it *InventoryItem) ToCatalogProduct(syncedAt time.Time) domain.CatalogProduct {
	status := domain.ProductStatusInactive
	if strings.EqualFold(it.Status, "active") {
		status = domain.ProductStatusActive
	}

	var images []string
	if it.ImageName != "" {
		images = []string{it.ImageName}
	}

	flags := make(map[string]string, len(it.CustomFields))
	for _, cf := range it.CustomFields {
		if cf.Label == "" {
			continue
		}
		flags[cf.Label] = stringifyFlag(cf.Value)
	}

	return domain.CatalogProduct{
		ID:           it.ItemID,
		SKU:          it.SKU,
		Name:         it.Name,
		Description:  it.Description,
		Price:        it.Rate,
		StockCount:   it.StockOnHand,
		CategoryID:   it.CategoryID,
		Images:       images,
		CustomFlags:  flags,
		Status:       status,
		LastSyncedAt: syncedAt,
	}
}

func stringifyFlag(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// ContactAddress is the vendor address record attached to a contact.
type ContactAddress struct {
	AddressID string `json:"address_id"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
}

// ContactRecord is the raw vendor contact shape.
type ContactRecord struct {
	ContactID       string         `json:"contact_id"`
	ContactName     string         `json:"contact_name"`
	Email           string         `json:"email"`
	BillingAddress  ContactAddress `json:"billing_address"`
	ShippingAddress ContactAddress `json:"shipping_address"`
}

// ToDomain adapts the vendor contact into the internal Contact, retaining
// the vendor-assigned address IDs for later ID-reference calls.
func (c *ContactRecord) ToDomain() domain.Contact {
	return domain.Contact{
		ContactID:         c.ContactID,
		Email:             c.Email,
		BillingAddressID:  c.BillingAddress.AddressID,
		ShippingAddressID: c.ShippingAddress.AddressID,
	}
}
