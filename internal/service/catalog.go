package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pmgasset/td-wifi-api/internal/catalog"
	"github.com/pmgasset/td-wifi-api/internal/domain"
	"github.com/pmgasset/td-wifi-api/internal/zoho"
	apperrors "github.com/pmgasset/td-wifi-api/pkg/errors"
)

var (
	catalogProducts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_products",
		Help: "Number of products in the current catalog snapshot",
	})

	catalogSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_syncs_total",
		Help: "Total catalog sync attempts by outcome",
	}, []string{"status"})

	catalogSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_sync_duration_seconds",
		Help:    "Duration of catalog sync runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})
)

// ItemLister fetches catalog pages from the authoritative vendor surface.
// *zoho.Inventory satisfies it.
type ItemLister interface {
	ListItems(ctx context.Context, page int) (items []zoho.InventoryItem, hasMore bool, err error)
}

// EventPublisher publishes catalog lifecycle events. *event.Producer
// satisfies it.
type EventPublisher interface {
	CatalogSynced(ctx context.Context, data any) error
}

// CatalogService keeps the storefront's product reads independent of vendor
// API latency and rate limits by maintaining a local reconciled snapshot.
type CatalogService struct {
	inventory     ItemLister
	cache         *catalog.Cache
	displayLabels []string
	producer      EventPublisher
	logger        *slog.Logger
}

// NewCatalogService creates the catalog service. displayLabels is the
// allow-list of custom-field labels recognized as the storefront display
// filter.
func NewCatalogService(
	inventory ItemLister,
	cache *catalog.Cache,
	displayLabels []string,
	producer EventPublisher,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		inventory:     inventory,
		cache:         cache,
		displayLabels: displayLabels,
		producer:      producer,
		logger:        logger,
	}
}

// Sync pulls the full product list from the Inventory surface, applies the
// display filter, transforms vendor fields into the internal schema, and
// replaces the cache wholesale. A failure on any page aborts the sync and
// leaves the previous snapshot untouched: stale-but-available beats
// unavailable. The error is surfaced to the caller (a scheduled job) for
// alerting; retries are the scheduler's responsibility.
func (s *CatalogService) Sync(ctx context.Context) (domain.SyncResult, error) {
	start := time.Now()
	syncedAt := start.UTC()

	var products []domain.CatalogProduct
	filteredOut := 0

	for page := 1; ; page++ {
		items, hasMore, err := s.inventory.ListItems(ctx, page)
		if err != nil {
			catalogSyncsTotal.WithLabelValues("error").Inc()
			return domain.SyncResult{}, fmt.Errorf("list inventory items (page %d): %w", page, err)
		}

		for idx := range items {
			item := &items[idx]
			if !item.DisplayFlag(s.displayLabels) {
				filteredOut++
				continue
			}
			products = append(products, item.ToCatalogProduct(syncedAt))
		}

		if !hasMore {
			break
		}
	}

	s.cache.Replace(products, syncedAt)

	duration := time.Since(start)
	catalogSyncsTotal.WithLabelValues("success").Inc()
	catalogSyncDuration.Observe(duration.Seconds())
	catalogProducts.Set(float64(len(products)))

	result := domain.SyncResult{
		ProductCount: len(products),
		FilteredOut:  filteredOut,
		Duration:     duration,
	}

	if s.producer != nil {
		if err := s.producer.CatalogSynced(ctx, result); err != nil {
			s.logger.WarnContext(ctx, "failed to publish catalog.synced event",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "catalog sync completed",
		slog.Int("product_count", result.ProductCount),
		slog.Int("filtered_out", result.FilteredOut),
		slog.Duration("duration", duration),
	)

	return result, nil
}

// Products returns the current cache snapshot without triggering a sync.
func (s *CatalogService) Products() []domain.CatalogProduct {
	return s.cache.All()
}

// Product returns a single product by vendor item ID.
func (s *CatalogService) Product(id string) (domain.CatalogProduct, error) {
	p, ok := s.cache.Get(id)
	if !ok {
		return domain.CatalogProduct{}, apperrors.NotFound("product", id)
	}
	return p, nil
}

// Stats reports cache freshness for health reporting.
func (s *CatalogService) Stats() domain.CacheStats {
	return s.cache.Stats()
}
