package domain

import (
	"strings"
	"time"
)

// Product status constants.
const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
)

// CatalogProduct is the storefront's stable product schema. Records are
// created wholesale on each sync cycle and never partially mutated; readers
// always receive immutable snapshots.
type CatalogProduct struct {
	ID           string            `json:"id"`
	SKU          string            `json:"sku"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Price        float64           `json:"price"`
	StockCount   float64           `json:"stock_count"`
	CategoryID   string            `json:"category_id,omitempty"`
	Images       []string          `json:"images,omitempty"`
	CustomFlags  map[string]string `json:"custom_flags,omitempty"`
	Status       string            `json:"status"`
	LastSyncedAt time.Time         `json:"last_synced_at"`
}

// IsActive reports whether the product should be sellable.
func (p *CatalogProduct) IsActive() bool {
	return p.Status == ProductStatusActive
}

// TruthyFlag interprets a vendor custom-field value as a boolean under a
// tolerant truth table. Vendor APIs return these fields inconsistently as
// booleans, numbers, or strings depending on the field type and API version.
// Anything not in the table, including an absent field, is false.
func TruthyFlag(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "on", "checked":
			return true
		}
		return false
	case float64:
		return val == 1
	case int:
		return val == 1
	case int64:
		return val == 1
	default:
		return false
	}
}

// CacheStats describes the state of the product cache for health reporting.
// Handlers render it with durations converted to milliseconds.
type CacheStats struct {
	LastSync        time.Time
	CacheAge        time.Duration
	ProductCount    int
	ResyncSuggested bool
}

// SyncResult summarizes a completed catalog sync.
type SyncResult struct {
	ProductCount int
	FilteredOut  int
	Duration     time.Duration
}
