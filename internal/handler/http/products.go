package httphandler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmgasset/td-wifi-api/internal/service"
	"github.com/pmgasset/td-wifi-api/pkg/httputil"
)

// ProductsHandler serves the catalog read endpoints. All reads come from the
// local snapshot; no request here ever reaches the vendor.
type ProductsHandler struct {
	catalog *service.CatalogService
	logger  *slog.Logger
}

// NewProductsHandler creates the catalog read handler.
func NewProductsHandler(catalog *service.CatalogService, logger *slog.Logger) *ProductsHandler {
	return &ProductsHandler{catalog: catalog, logger: logger}
}

// List handles GET /api/products.
func (h *ProductsHandler) List(w http.ResponseWriter, r *http.Request) {
	products := h.catalog.Products()
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"products": products,
		"count":    len(products),
	}})
}

// Get handles GET /api/products/{id}.
func (h *ProductsHandler) Get(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.Product(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// statusResponse is the cache freshness wire shape. CacheAgeMs is
// milliseconds since the last sync.
type statusResponse struct {
	LastSync        time.Time `json:"lastSync"`
	CacheAgeMs      int64     `json:"cacheAgeMs"`
	ProductCount    int       `json:"productCount"`
	ResyncSuggested bool      `json:"resyncSuggested"`
}

// Status handles GET /api/catalog/status, exposing cache freshness.
func (h *ProductsHandler) Status(w http.ResponseWriter, r *http.Request) {
	stats := h.catalog.Stats()
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: statusResponse{
		LastSync:        stats.LastSync,
		CacheAgeMs:      stats.CacheAge.Milliseconds(),
		ProductCount:    stats.ProductCount,
		ResyncSuggested: stats.ResyncSuggested,
	}})
}
