package catalog

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/pmgasset/td-wifi-api/internal/domain"
)

// staleAfter is the cache age past which a resync is recommended.
const staleAfter = 24 * time.Hour

// snapshot is an immutable view of the catalog at one sync. Lookups are
// indexed at build time; nothing mutates a snapshot after Replace.
type snapshot struct {
	products []domain.CatalogProduct
	byID     map[string]int
	bySKU    map[string]int
	syncedAt time.Time
}

// Cache holds the storefront's product catalog. The whole catalog is
// replaced wholesale on each sync (last-writer-wins, no partial merge);
// readers never block and never observe a half-updated snapshot.
type Cache struct {
	snap atomic.Pointer[snapshot]
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	c := &Cache{}
	c.snap.Store(&snapshot{
		byID:  map[string]int{},
		bySKU: map[string]int{},
	})
	return c
}

// Replace swaps in a new catalog snapshot atomically.
func (c *Cache) Replace(products []domain.CatalogProduct, syncedAt time.Time) {
	s := &snapshot{
		products: products,
		byID:     make(map[string]int, len(products)),
		bySKU:    make(map[string]int, len(products)),
		syncedAt: syncedAt,
	}
	for i, p := range products {
		s.byID[p.ID] = i
		if p.SKU != "" {
			s.bySKU[normalizeSKU(p.SKU)] = i
		}
	}
	c.snap.Store(s)
}

// All returns the current snapshot's products. The returned slice is shared
// and must be treated as read-only.
func (c *Cache) All() []domain.CatalogProduct {
	return c.snap.Load().products
}

// Get returns the product with the given vendor item ID.
func (c *Cache) Get(id string) (domain.CatalogProduct, bool) {
	s := c.snap.Load()
	if i, ok := s.byID[id]; ok {
		return s.products[i], true
	}
	return domain.CatalogProduct{}, false
}

// BySKU returns the product with the given SKU. SKU is the authoritative
// lookup tier for cart-to-catalog mapping.
func (c *Cache) BySKU(sku string) (domain.CatalogProduct, bool) {
	s := c.snap.Load()
	if i, ok := s.bySKU[normalizeSKU(sku)]; ok {
		return s.products[i], true
	}
	return domain.CatalogProduct{}, false
}

// ByName returns the first product whose name fuzzily matches:
// case-insensitive exact match first, then containment either way. A hit
// here during checkout signals an SKU/catalog desync worth warning about.
func (c *Cache) ByName(name string) (domain.CatalogProduct, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return domain.CatalogProduct{}, false
	}

	s := c.snap.Load()
	for _, p := range s.products {
		if strings.ToLower(strings.TrimSpace(p.Name)) == want {
			return p, true
		}
	}
	for _, p := range s.products {
		got := strings.ToLower(strings.TrimSpace(p.Name))
		if got == "" {
			continue
		}
		if strings.Contains(got, want) || strings.Contains(want, got) {
			return p, true
		}
	}
	return domain.CatalogProduct{}, false
}

// Stats reports cache freshness for health checks. A cache older than 24h
// gets a resync recommendation.
func (c *Cache) Stats() domain.CacheStats {
	s := c.snap.Load()
	var age time.Duration
	if !s.syncedAt.IsZero() {
		age = time.Since(s.syncedAt)
	}
	return domain.CacheStats{
		LastSync:        s.syncedAt,
		CacheAge:        age,
		ProductCount:    len(s.products),
		ResyncSuggested: s.syncedAt.IsZero() || len(s.products) == 0 || age > staleAfter,
	}
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}
