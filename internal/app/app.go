package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pmgasset/td-wifi-api/internal/catalog"
	"github.com/pmgasset/td-wifi-api/internal/config"
	"github.com/pmgasset/td-wifi-api/internal/event"
	httphandler "github.com/pmgasset/td-wifi-api/internal/handler/http"
	"github.com/pmgasset/td-wifi-api/internal/service"
	"github.com/pmgasset/td-wifi-api/internal/stripe"
	"github.com/pmgasset/td-wifi-api/internal/webhook"
	"github.com/pmgasset/td-wifi-api/internal/zoho"
	"github.com/pmgasset/td-wifi-api/pkg/health"
	"github.com/pmgasset/td-wifi-api/pkg/httpclient"
	"github.com/pmgasset/td-wifi-api/pkg/tracing"
)

// App wires together all dependencies and runs the storefront API.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	catalogSvc     *service.CatalogService
	producer       *event.Producer
	redisClient    *redis.Client
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates the application with all dependencies wired.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	baseClient := httpclient.New(httpclient.Config{
		Timeout:         cfg.Zoho.RequestTimeout,
		MaxRetries:      cfg.Zoho.MaxRetries,
		RetryWaitMin:    time.Second,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 100,
	})

	// OAuth token exchanges bypass the surface breakers: a broken Inventory
	// API must not block refreshing a token for another surface.
	tokens := zoho.NewTokenManager(cfg.Zoho.AccountsURL, surfaceCredentials(cfg), baseClient, logger)

	inventoryBreaker := httpclient.NewCircuitBreakerClient(
		baseClient, httpclient.DefaultCircuitBreakerConfig("zoho-inventory"), logger)
	inventoryClient := zoho.NewClient(zoho.SurfaceInventory, zoho.SurfaceConfig{
		BaseURL:      cfg.Zoho.Inventory.BaseURL,
		OrgParam:     cfg.Zoho.Inventory.OrgParam,
		OrgID:        cfg.Zoho.Inventory.OrgID,
		ContactsPath: cfg.Zoho.Inventory.ContactsPath,
	}, tokens, inventoryBreaker, logger)
	inventory := zoho.NewInventory(inventoryClient)

	stripeBreaker := httpclient.NewCircuitBreakerClient(
		baseClient, httpclient.DefaultCircuitBreakerConfig("stripe"), logger)
	stripeClient := stripe.New(cfg.Stripe.BaseURL, cfg.Stripe.SecretKey, stripeBreaker, logger)

	var producer *event.Producer
	if cfg.Kafka.Enabled {
		producer = event.NewProducer(event.DefaultProducerConfig(cfg.Kafka.Brokers), logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.Kafka.Brokers))
	}

	var redisClient *redis.Client
	var deduper webhook.Deduper
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		deduper = webhook.NewRedisDeduper(redisClient, cfg.Webhook.DedupeTTL)
	} else {
		deduper = webhook.NewMemoryDeduper(cfg.Webhook.DedupeTTL)
	}

	// A disabled producer must stay a nil interface, not a typed nil, so the
	// services' nil checks hold.
	var catalogPublisher service.EventPublisher
	var orderPublisher service.OrderPublisher
	var streamPublisher webhook.StreamPublisher
	if producer != nil {
		catalogPublisher = producer
		orderPublisher = producer
		streamPublisher = producer
	}

	cache := catalog.NewCache()
	catalogSvc := service.NewCatalogService(inventory, cache, cfg.Catalog.DisplayLabels, catalogPublisher, logger)

	checkoutSvc := service.NewCheckoutService(
		inventory,
		cache,
		stripeClient,
		orderPublisher,
		service.CheckoutConfig{
			Pricing:            cfg.Pricing.Policy(),
			InvoiceDueDays:     cfg.Pricing.InvoiceDueDays,
			PaymentPageBaseURL: cfg.PaymentPageBaseURL,
			PaymentLinkSecret:  cfg.PaymentLinkSecret,
			Currency:           cfg.Stripe.Currency,
		},
		logger,
	)

	dispatcher := webhook.NewDispatcher(deduper, logger)
	webhook.NewPaymentHandlers(checkoutSvc, streamPublisher, logger).Register(dispatcher)
	webhook.NewOrderHandlers(streamPublisher, logger).Register(dispatcher)

	verifiers := map[string]webhook.Verifier{}
	if cfg.Stripe.WebhookSecret != "" {
		verifiers["stripe"] = webhook.NewStripeVerifier(cfg.Stripe.WebhookSecret)
	}
	if cfg.Webhook.ZohoSecret != "" {
		verifiers["zoho"] = webhook.NewZohoVerifier(cfg.Webhook.ZohoSecret)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterNonCritical("catalog", func(ctx context.Context) error {
		stats := cache.Stats()
		if stats.ProductCount == 0 {
			return fmt.Errorf("catalog cache is empty")
		}
		if stats.ResyncSuggested {
			return fmt.Errorf("catalog cache is stale (last sync %s)", stats.LastSync.Format(time.RFC3339))
		}
		return nil
	})
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	router := httphandler.NewRouter(httphandler.RouterConfig{
		ServiceName:        cfg.ServiceName,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SyncSharedSecret:   cfg.SyncSharedSecret,
		Products:           httphandler.NewProductsHandler(catalogSvc, logger),
		Checkout:           httphandler.NewCheckoutHandler(checkoutSvc, logger),
		Sync:               httphandler.NewSyncHandler(catalogSvc, logger),
		Webhooks:           httphandler.NewWebhookHandler(verifiers, dispatcher, cfg.IsProduction(), logger),
		Health:             healthHandler,
		Logger:             logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		catalogSvc:     catalogSvc,
		producer:       producer,
		redisClient:    redisClient,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// surfaceCredentials collects OAuth credentials for every surface that has a
// refresh token configured. The client ID and secret are shared; refresh
// tokens are per surface.
func surfaceCredentials(cfg *config.Config) map[zoho.Surface]zoho.Credentials {
	creds := make(map[zoho.Surface]zoho.Credentials)
	for surface, sc := range map[zoho.Surface]config.SurfaceConfig{
		zoho.SurfaceInventory: cfg.Zoho.Inventory,
		zoho.SurfaceCommerce:  cfg.Zoho.Commerce,
		zoho.SurfaceCRM:       cfg.Zoho.CRM,
		zoho.SurfaceDesk:      cfg.Zoho.Desk,
	} {
		if sc.RefreshToken == "" {
			continue
		}
		creds[surface] = zoho.Credentials{
			ClientID:     cfg.Zoho.ClientID,
			ClientSecret: cfg.Zoho.ClientSecret,
			RefreshToken: sc.RefreshToken,
		}
	}
	return creds
}

// Run starts the HTTP server and the background catalog sync, blocking
// until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.runCatalogSync(ctx)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// runCatalogSync performs the startup sync and then resyncs on the
// configured interval. A failed sync keeps the previous snapshot and is
// retried at the next tick.
func (a *App) runCatalogSync(ctx context.Context) {
	if a.cfg.Catalog.SyncOnStart {
		if _, err := a.catalogSvc.Sync(ctx); err != nil {
			a.logger.Error("startup catalog sync failed", slog.String("error", err.Error()))
		}
	}

	if a.cfg.Catalog.SyncInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.Catalog.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.catalogSvc.Sync(ctx); err != nil {
				a.logger.Error("scheduled catalog sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Shutdown stops components in order: drain HTTP, flush spans, then close
// the producer and Redis.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
