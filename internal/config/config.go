package config

import (
	"fmt"
	"time"

	"github.com/pmgasset/td-wifi-api/internal/domain"
	"github.com/pmgasset/td-wifi-api/internal/zoho"
	"github.com/pmgasset/td-wifi-api/pkg/config"
)

// SurfaceConfig holds the per-surface vendor settings. Each surface carries
// its own refresh token, organization scope, and path conventions; the path
// conventions are resolved here at load time instead of probed at runtime.
type SurfaceConfig struct {
	RefreshToken string `env:"REFRESH_TOKEN"`
	BaseURL      string `env:"BASE_URL"`
	OrgID        string `env:"ORG_ID"`
	OrgParam     string `env:"ORG_PARAM"`
	ContactsPath string `env:"CONTACTS_PATH"`
}

// ZohoConfig holds the vendor OAuth client and the four API surfaces.
type ZohoConfig struct {
	AccountsURL  string `env:"ACCOUNTS_URL" envDefault:"https://accounts.zoho.com"`
	ClientID     string `env:"CLIENT_ID,required"`
	ClientSecret string `env:"CLIENT_SECRET,required"`

	Inventory SurfaceConfig `envPrefix:"INVENTORY_"`
	Commerce  SurfaceConfig `envPrefix:"COMMERCE_"`
	CRM       SurfaceConfig `envPrefix:"CRM_"`
	Desk      SurfaceConfig `envPrefix:"DESK_"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"2"`
}

// StripeConfig holds payment provider settings. WebhookSecret may be empty
// in development only.
type StripeConfig struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	BaseURL       string `env:"BASE_URL"`
	Currency      string `env:"CURRENCY" envDefault:"usd"`
}

// PricingConfig holds the storefront's order pricing parameters.
type PricingConfig struct {
	TaxRate               float64 `env:"TAX_RATE" envDefault:"0"`
	FreeShippingThreshold float64 `env:"FREE_SHIPPING_THRESHOLD" envDefault:"100"`
	FlatShippingFee       float64 `env:"FLAT_SHIPPING_FEE" envDefault:"9.99"`
	InvoiceDueDays        int     `env:"INVOICE_DUE_DAYS" envDefault:"0"`
}

// Policy converts the pricing settings into the domain policy.
func (p PricingConfig) Policy() domain.PricingPolicy {
	return domain.PricingPolicy{
		TaxRate:               p.TaxRate,
		FreeShippingThreshold: p.FreeShippingThreshold,
		FlatShippingFee:       p.FlatShippingFee,
	}
}

// CatalogConfig controls the product cache sync.
type CatalogConfig struct {
	// DisplayLabels is the allow-list of vendor custom-field labels treated
	// as the storefront display filter.
	DisplayLabels []string      `env:"DISPLAY_LABELS" envDefault:"displayinwebsite,showinstore" envSeparator:","`
	SyncInterval  time.Duration `env:"SYNC_INTERVAL" envDefault:"6h"`
	SyncOnStart   bool          `env:"SYNC_ON_START" envDefault:"true"`
}

// WebhookConfig holds inbound webhook verification secrets.
type WebhookConfig struct {
	ZohoSecret string `env:"ZOHO_SECRET"`
	// DedupeTTL bounds how long processed event IDs are remembered.
	DedupeTTL time.Duration `env:"DEDUPE_TTL" envDefault:"24h"`
}

// RedisConfig holds the optional webhook dedupe store.
type RedisConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// KafkaConfig holds the optional event stream.
type KafkaConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envDefault:"localhost:9092" envSeparator:","`
}

// TracingConfig holds OTLP trace export settings.
type TracingConfig struct {
	Enabled      bool    `env:"ENABLED" envDefault:"false"`
	OTLPEndpoint string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	SampleRate   float64 `env:"SAMPLE_RATE" envDefault:"1.0"`
}

// Config is the full application configuration, loaded from the environment.
type Config struct {
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"td-wifi-api"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	// SyncSharedSecret protects the catalog sync trigger endpoint.
	SyncSharedSecret string `env:"SYNC_SHARED_SECRET,required"`

	// PaymentPageBaseURL and PaymentLinkSecret back the self-hosted payment
	// link fallback.
	PaymentPageBaseURL string `env:"PAYMENT_PAGE_BASE_URL" envDefault:"http://localhost:3000"`
	PaymentLinkSecret  string `env:"PAYMENT_LINK_SECRET,required"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	Zoho    ZohoConfig    `envPrefix:"ZOHO_"`
	Stripe  StripeConfig  `envPrefix:"STRIPE_"`
	Pricing PricingConfig `envPrefix:"PRICING_"`
	Catalog CatalogConfig `envPrefix:"CATALOG_"`
	Webhook WebhookConfig `envPrefix:"WEBHOOK_"`
	Redis   RedisConfig   `envPrefix:"REDIS_"`
	Kafka   KafkaConfig   `envPrefix:"KAFKA_"`
	Tracing TracingConfig `envPrefix:"TRACING_"`
}

// surfaceDefaults is the versioned capability table for the vendor surfaces.
// Each surface pins its base URL, organization query parameter, and contact
// collection path up front so the client never has to probe endpoints.
var surfaceDefaults = map[zoho.Surface]SurfaceConfig{
	zoho.SurfaceInventory: {
		BaseURL:      "https://www.zohoapis.com/inventory/v1",
		OrgParam:     "organization_id",
		ContactsPath: "/contacts",
	},
	zoho.SurfaceCommerce: {
		BaseURL:      "https://commerce.zoho.com/store/api/v1",
		OrgParam:     "organization_id",
		ContactsPath: "/customers",
	},
	zoho.SurfaceCRM: {
		BaseURL:      "https://www.zohoapis.com/crm/v2",
		OrgParam:     "",
		ContactsPath: "/Contacts",
	},
	zoho.SurfaceDesk: {
		BaseURL:      "https://desk.zoho.com/api/v1",
		OrgParam:     "orgId",
		ContactsPath: "/contacts",
	},
}

// Load parses the environment, applies surface defaults, and validates.
func Load() (*Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}

	cfg.Zoho.Inventory = applySurfaceDefaults(cfg.Zoho.Inventory, zoho.SurfaceInventory)
	cfg.Zoho.Commerce = applySurfaceDefaults(cfg.Zoho.Commerce, zoho.SurfaceCommerce)
	cfg.Zoho.CRM = applySurfaceDefaults(cfg.Zoho.CRM, zoho.SurfaceCRM)
	cfg.Zoho.Desk = applySurfaceDefaults(cfg.Zoho.Desk, zoho.SurfaceDesk)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applySurfaceDefaults(sc SurfaceConfig, surface zoho.Surface) SurfaceConfig {
	def := surfaceDefaults[surface]
	if sc.BaseURL == "" {
		sc.BaseURL = def.BaseURL
	}
	if sc.OrgParam == "" {
		sc.OrgParam = def.OrgParam
	}
	if sc.ContactsPath == "" {
		sc.ContactsPath = def.ContactsPath
	}
	return sc
}

// IsProduction reports whether the service runs with production guarantees.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) validate() error {
	if c.Zoho.Inventory.RefreshToken == "" {
		return fmt.Errorf("ZOHO_INVENTORY_REFRESH_TOKEN is required")
	}
	if c.Zoho.Inventory.OrgID == "" {
		return fmt.Errorf("ZOHO_INVENTORY_ORG_ID is required")
	}
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.Pricing.TaxRate < 0 || c.Pricing.TaxRate >= 1 {
		return fmt.Errorf("PRICING_TAX_RATE must be a fraction in [0, 1)")
	}

	// Webhook verification fails closed in production: a missing secret must
	// stop the deploy, not silently accept unsigned events.
	if c.IsProduction() {
		if c.Stripe.WebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
		if c.Webhook.ZohoSecret == "" {
			return fmt.Errorf("WEBHOOK_ZOHO_SECRET is required in production")
		}
	}
	return nil
}
