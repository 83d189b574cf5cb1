package httphandler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmgasset/td-wifi-api/internal/catalog"
	"github.com/pmgasset/td-wifi-api/internal/domain"
	"github.com/pmgasset/td-wifi-api/internal/service"
)

func newProductsHandler(products []domain.CatalogProduct) *ProductsHandler {
	cache := catalog.NewCache()
	if products != nil {
		cache.Replace(products, time.Now())
	}
	svc := service.NewCatalogService(nil, cache, nil, nil, testLogger())
	return NewProductsHandler(svc, testLogger())
}

func TestProductsList(t *testing.T) {
	h := newProductsHandler([]domain.CatalogProduct{
		{ID: "item-1", SKU: "WIFI-01", Name: "Travel Router", Price: 79.99, Status: domain.ProductStatusActive},
		{ID: "item-2", SKU: "WIFI-02", Name: "Signal Booster", Price: 129.99, Status: domain.ProductStatusActive},
	})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Products []domain.CatalogProduct `json:"products"`
			Count    int                     `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Count)
	assert.Len(t, resp.Data.Products, 2)
}

func TestProductsGet(t *testing.T) {
	h := newProductsHandler([]domain.CatalogProduct{
		{ID: "item-1", SKU: "WIFI-01", Name: "Travel Router", Price: 79.99},
	})

	r := chi.NewRouter()
	r.Get("/api/products/{id}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products/item-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data domain.CatalogProduct `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "WIFI-01", resp.Data.SKU)
}

func TestProductsGet_NotFound(t *testing.T) {
	h := newProductsHandler([]domain.CatalogProduct{})

	r := chi.NewRouter()
	r.Get("/api/products/{id}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogStatus(t *testing.T) {
	cache := catalog.NewCache()
	cache.Replace([]domain.CatalogProduct{
		{ID: "item-1", SKU: "WIFI-01", Name: "Travel Router", Price: 79.99},
	}, time.Now().Add(-90*time.Second))
	svc := service.NewCatalogService(nil, cache, nil, nil, testLogger())
	h := NewProductsHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/catalog/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			LastSync        time.Time `json:"lastSync"`
			CacheAgeMs      int64     `json:"cacheAgeMs"`
			ProductCount    int       `json:"productCount"`
			ResyncSuggested bool      `json:"resyncSuggested"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.ProductCount)
	assert.False(t, resp.Data.ResyncSuggested)
	// A 90-second-old cache reports ~90000 ms, not nanoseconds.
	assert.InDelta(t, 90_000, resp.Data.CacheAgeMs, 5_000)
}

func TestCatalogStatus_EmptyCacheSuggestsResync(t *testing.T) {
	h := newProductsHandler(nil)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/catalog/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			ProductCount    int  `json:"productCount"`
			ResyncSuggested bool `json:"resyncSuggested"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.ResyncSuggested, "empty cache suggests a resync")
	assert.Zero(t, resp.Data.ProductCount)
}
