package billing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

var configEnvKeys = []string{
	"CIRCULAR_DATA_DIR", "CIRCULAR_BIND_ADDRESS", "CIRCULAR_PORT", "CIRCULAR_ADMIN_KEY",
	"STRIPE_WEBHOOK_SECRET", "STRIPE_SECRET_KEY", "CLERK_SECRET_KEY", "CLERK_API_URL",
	"CLERK_JWT_KEY", "CIRCULAR_CATALOG_FILE", "CIRCULAR_PRICE_PLANS", "CIRCULAR_REDIS_URL",
	"CIRCULAR_RECONCILE_INTERVAL", "CIRCULAR_LOG_LEVEL", "CIRCULAR_LOG_FORMAT", "CIRCULAR_PUBLIC_METRICS",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("CIRCULAR_ADMIN_KEY", "admin")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, defaultClerkAPIURL, cfg.ClerkAPIURL)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	assert.False(t, cfg.PublicMetrics)
	assert.Empty(t, cfg.PricePlans)
	assert.Equal(t, filepath.Join("data", "billing"), filepath.Clean(cfg.RegistryDir()))
}

func TestLoadConfig_ListsEveryMissingVariable(t *testing.T) {
	clearConfigEnv(t)

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CIRCULAR_ADMIN_KEY")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("CIRCULAR_ADMIN_KEY", "admin")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("CIRCULAR_PORT", "9090")
	t.Setenv("CIRCULAR_RECONCILE_INTERVAL", "30s")
	t.Setenv("CIRCULAR_PUBLIC_METRICS", "true")
	t.Setenv("CIRCULAR_PRICE_PLANS", "price_pro=pro,price_ent=enterprise")
	t.Setenv("CLERK_JWT_KEY", `-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----`)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.True(t, cfg.PublicMetrics)
	assert.Equal(t, entitlements.PlanEnterprise, cfg.PricePlans["price_ent"])
	assert.Equal(t, 3, strings.Count(cfg.ClerkJWTKey, "\n")+1)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := map[string][2]string{
		"port not a number": {"CIRCULAR_PORT", "eighty"},
		"port out of range": {"CIRCULAR_PORT", "70000"},
		"bad interval":      {"CIRCULAR_RECONCILE_INTERVAL", "often"},
		"zero interval":     {"CIRCULAR_RECONCILE_INTERVAL", "0s"},
		"bad bool":          {"CIRCULAR_PUBLIC_METRICS", "maybe"},
		"bad price plans":   {"CIRCULAR_PRICE_PLANS", "price_x=gold"},
		"bad clerk scheme":  {"CLERK_API_URL", "ftp://api.clerk.com"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("CIRCULAR_ADMIN_KEY", "admin")
			t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
			t.Setenv(kv[0], kv[1])

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestConfig_LoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := "plans:\n" +
		"  - plan: free\n    monthly_price: 0\n    member_ceiling: 3\n" +
		"  - plan: pro\n    monthly_price: 15\n    member_ceiling: 20\n" +
		"  - plan: enterprise\n    monthly_price: 300\n    member_ceiling: unlimited\n" +
		"price_ids:\n  price_file_pro: pro\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg := &Config{
		CatalogFile: path,
		PricePlans:  map[string]entitlements.PlanTier{"price_env_ent": entitlements.PlanEnterprise},
	}
	catalog, err := cfg.LoadCatalog()
	require.NoError(t, err)
	assert.Equal(t, entitlements.MemberCeiling(3), catalog.Terms(entitlements.PlanFree).MemberCeiling)
	assert.Equal(t, []string{"price_env_ent", "price_file_pro"}, catalog.PriceIDs())

	catalog, err = (&Config{}).LoadCatalog()
	require.NoError(t, err)
	assert.Equal(t, int64(10), catalog.Terms(entitlements.PlanPro).MonthlyPrice)

	_, err = (&Config{CatalogFile: filepath.Join(t.TempDir(), "missing.yaml")}).LoadCatalog()
	assert.Error(t, err)
}
