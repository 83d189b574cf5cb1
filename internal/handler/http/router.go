package httphandler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pmgasset/td-wifi-api/pkg/health"
	"github.com/pmgasset/td-wifi-api/pkg/middleware"
)

// RouterConfig wires the handlers and cross-cutting settings into the mux.
type RouterConfig struct {
	ServiceName        string
	CORSAllowedOrigins []string
	SyncSharedSecret   string

	Products *ProductsHandler
	Checkout *CheckoutHandler
	Sync     *SyncHandler
	Webhooks *WebhookHandler
	Health   *health.Handler

	Logger *slog.Logger
}

// NewRouter builds the HTTP mux with the full middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.CORSAllowedOrigins) > 0 {
		corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	}
	r.Use(middleware.CORS(corsCfg))

	r.Get("/healthz", cfg.Health.LivenessHandler())
	r.Get("/readyz", cfg.Health.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", cfg.Products.List)
		r.Get("/products/{id}", cfg.Products.Get)
		r.Get("/catalog/status", cfg.Products.Status)

		r.Post("/checkout", cfg.Checkout.Create)
		r.Post("/checkout/verify", cfg.Checkout.Verify)

		r.Group(func(r chi.Router) {
			r.Use(middleware.SharedSecretAuth(cfg.SyncSharedSecret))
			r.Post("/sync", cfg.Sync.Trigger)
		})
	})

	r.Post("/webhooks/{vendor}", cfg.Webhooks.Receive)

	return r
}
