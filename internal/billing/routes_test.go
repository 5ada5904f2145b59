package billing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/identity"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/ledger"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/ratelimit"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/registry"
	"github.com/mtliendo/circular-dashboard-design/internal/logging"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

const (
	testAdminKey = "test-admin-key"
	testSecret   = "whsec_routes_test"
)

func newTestHandler(t *testing.T) (http.Handler, *registry.Registry) {
	t.Helper()
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	h := NewHandler(&Deps{
		Config: &Config{
			AdminKey:            testAdminKey,
			StripeWebhookSecret: testSecret,
			ReconcileInterval:   time.Minute,
		},
		Registry: reg,
		Catalog:  entitlements.DefaultCatalog(),
		Store:    identity.NewLocalStore(reg),
		Ledger:   ledger.NewSQLiteLedger(reg, 0),
	})
	return h, reg
}

func serve(h http.Handler, method, path, body string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if admin {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterRoutes_Authentication(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
		admin  bool
		want   int
	}{
		{"healthz is public", http.MethodGet, "/healthz", false, http.StatusOK},
		{"readyz is public", http.MethodGet, "/readyz", false, http.StatusOK},
		{"status requires key", http.MethodGet, "/status", false, http.StatusUnauthorized},
		{"status with key", http.MethodGet, "/status", true, http.StatusOK},
		{"metrics requires key", http.MethodGet, "/metrics", false, http.StatusUnauthorized},
		{"metrics with key", http.MethodGet, "/metrics", true, http.StatusOK},
		{"pending requires key", http.MethodGet, "/admin/pending", false, http.StatusUnauthorized},
		{"replay with key", http.MethodPost, "/admin/pending/replay", true, http.StatusOK},
		{"seed requires key", http.MethodPut, "/admin/organizations/org_1", false, http.StatusUnauthorized},
		{"sessions unconfigured", http.MethodGet, "/api/organization", false, http.StatusServiceUnavailable},
		{"webhook rejects GET", http.MethodGet, "/api/stripe/webhook", false, http.StatusMethodNotAllowed},
		{"webhook requires signature", http.MethodPost, "/api/stripe/webhook", false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.method, tt.path, "{}", tt.admin)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(logging.RequestIDHeader))
		})
	}
}

func TestRegisterRoutes_CheckoutUpgradesSeededOrganization(t *testing.T) {
	h, reg := newTestHandler(t)

	rec := serve(h, http.MethodPut, "/admin/organizations/org_acme", `{"name":"Acme","members_count":3}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	payload, err := json.Marshal(map[string]any{
		"id":      "evt_routes_1",
		"object":  "event",
		"type":    "checkout.session.completed",
		"created": time.Now().Unix(),
		"data": map[string]any{"object": map[string]any{
			"id":       "cs_test_routes",
			"object":   "checkout.session",
			"mode":     "subscription",
			"customer": "cus_routes",
			"metadata": map[string]string{"orgId": "org_acme", "plan": "pro"},
		}},
	})
	require.NoError(t, err)

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	org, err := reg.GetOrganization("org_acme")
	require.NoError(t, err)
	assert.Equal(t, "pro", org.Plan)
	assert.Equal(t, 10, org.MemberCeiling)

	linked, err := reg.OrganizationForCustomer("cus_routes")
	require.NoError(t, err)
	assert.Equal(t, "org_acme", linked)

	rec = serve(h, http.MethodGet, "/admin/pending", "", true)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestRegisterRoutes_PublicMetrics(t *testing.T) {
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:   &Config{AdminKey: testAdminKey, StripeWebhookSecret: testSecret, PublicMetrics: true},
		Registry: reg,
		Catalog:  entitlements.DefaultCatalog(),
		Store:    identity.NewLocalStore(reg),
	})

	rec := serve(mux, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterRoutes_WebhookUsesInjectedLimiter(t *testing.T) {
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:   &Config{AdminKey: testAdminKey, StripeWebhookSecret: testSecret},
		Registry: reg,
		Catalog:  entitlements.DefaultCatalog(),
		Store:    identity.NewLocalStore(reg),
		Limiter:  ratelimit.NewWindow(ratelimit.Limit{Requests: 1, Window: time.Minute}),
	})

	// The first unsigned delivery is rejected by the handler, the second by the limiter.
	assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodPost, "/api/stripe/webhook", "{}", false).Code)
	rec := serve(mux, http.MethodPost, "/api/stripe/webhook", "{}", false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
