package billing

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/orgstate"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

const defaultClerkAPIURL = "https://api.clerk.com/v1"

// Config holds all configuration for the billing service.
type Config struct {
	DataDir             string
	BindAddress         string
	Port                int
	AdminKey            string
	StripeWebhookSecret string
	StripeSecretKey     string // optional; enables the line-item plan fallback
	ClerkSecretKey      string // optional; without it organizations live in the local registry
	ClerkAPIURL         string
	ClerkJWTKey         string // PEM RSA public key; enables session endpoints
	CatalogFile         string
	PricePlans          map[string]entitlements.PlanTier
	RedisURL            string
	ReconcileInterval   time.Duration
	LogLevel            string
	LogFormat           string
	PublicMetrics       bool
}

// RegistryDir returns the directory holding billing.db.
func (c *Config) RegistryDir() string {
	return filepath.Join(c.DataDir, "billing")
}

// LoadConfig loads configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("CIRCULAR_PORT", 8080)
	if err != nil {
		return nil, err
	}
	interval, err := envOrDefaultDuration("CIRCULAR_RECONCILE_INTERVAL", orgstate.DefaultReconcileInterval)
	if err != nil {
		return nil, err
	}
	publicMetrics, err := envOrDefaultBool("CIRCULAR_PUBLIC_METRICS", false)
	if err != nil {
		return nil, err
	}
	pricePlans, err := entitlements.ParsePricePlans(os.Getenv("CIRCULAR_PRICE_PLANS"))
	if err != nil {
		return nil, fmt.Errorf("CIRCULAR_PRICE_PLANS: %w", err)
	}

	cfg := &Config{
		DataDir:             envOrDefault("CIRCULAR_DATA_DIR", "./data"),
		BindAddress:         envOrDefault("CIRCULAR_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("CIRCULAR_ADMIN_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		ClerkSecretKey:      strings.TrimSpace(os.Getenv("CLERK_SECRET_KEY")),
		ClerkAPIURL:         envOrDefault("CLERK_API_URL", defaultClerkAPIURL),
		ClerkJWTKey:         pemFromEnv(os.Getenv("CLERK_JWT_KEY")),
		CatalogFile:         strings.TrimSpace(os.Getenv("CIRCULAR_CATALOG_FILE")),
		PricePlans:          pricePlans,
		RedisURL:            strings.TrimSpace(os.Getenv("CIRCULAR_REDIS_URL")),
		ReconcileInterval:   interval,
		LogLevel:            envOrDefault("CIRCULAR_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("CIRCULAR_LOG_FORMAT", "auto"),
		PublicMetrics:       publicMetrics,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate billing config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "CIRCULAR_ADMIN_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("CIRCULAR_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("CIRCULAR_RECONCILE_INTERVAL must be greater than 0, got %s", c.ReconcileInterval)
	}

	parsed, err := url.Parse(c.ClerkAPIURL)
	if err != nil {
		return fmt.Errorf("CLERK_API_URL must be a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("CLERK_API_URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("CLERK_API_URL must include a host")
	}
	return nil
}

// LoadCatalog builds the plan catalog: the YAML file when configured,
// otherwise the built-in terms, with CIRCULAR_PRICE_PLANS layered on top.
func (c *Config) LoadCatalog() (*entitlements.Catalog, error) {
	catalog := entitlements.DefaultCatalog()
	if c.CatalogFile != "" {
		loaded, err := entitlements.LoadCatalogFile(c.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	if len(c.PricePlans) == 0 {
		return catalog, nil
	}

	merged := make(map[string]entitlements.PlanTier, len(c.PricePlans))
	for _, id := range catalog.PriceIDs() {
		p, _ := catalog.PlanForPrice(id)
		merged[id] = p
	}
	for id, p := range c.PricePlans {
		merged[id] = p
	}
	return catalog.WithPriceIDs(merged)
}

// pemFromEnv accepts PEM blocks whose newlines were escaped as "\n".
func pemFromEnv(raw string) string {
	raw = strings.TrimSpace(raw)
	return strings.ReplaceAll(raw, `\n`, "\n")
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}
