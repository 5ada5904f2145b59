package billing

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/account"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/admin"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/identity"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/ledger"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/orgstate"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/ratelimit"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/registry"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/stripe"
	"github.com/mtliendo/circular-dashboard-design/internal/logging"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config     *Config
	Registry   *registry.Registry
	Catalog    *entitlements.Catalog
	Store      identity.OrganizationStore
	Sessions   account.SessionVerifier // nil disables the session endpoints
	Ledger     ledger.Ledger           // nil disables duplicate suppression
	LineItems  stripe.LineItemLister   // nil disables the line-item fallback
	Updater    *orgstate.Updater       // built from Store when nil
	Replayer   admin.Replayer          // built from Updater when nil
	Limiter    ratelimit.Limiter       // in-process window when nil
	StatusInfo admin.StatusInfo
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return admin.AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	updater := deps.Updater
	if updater == nil {
		updater = orgstate.NewUpdater(deps.Store, deps.Catalog, deps.Registry)
	}
	replayer := deps.Replayer
	if replayer == nil {
		replayer = orgstate.NewReconciler(updater, deps.Registry, deps.Config.ReconcileInterval, 0)
	}

	// Health / readiness are unauthenticated probes.
	mux.HandleFunc("/healthz", admin.HandleHealthz)
	mux.HandleFunc("/readyz", admin.HandleReadyz(deps.Registry))
	mux.Handle("/status", adminAuth(admin.HandleStatus(deps.Registry, deps.StatusInfo)))

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	// Stripe webhook (signature-authenticated)
	resolver := stripe.NewResolver(deps.Catalog, deps.LineItems, deps.Registry)
	webhookHandler := stripe.NewWebhookHandler(deps.Config.StripeWebhookSecret, resolver, updater, deps.Ledger, deps.Registry)
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.NewWindow(ratelimit.Limit{})
	}
	mux.Handle("/api/stripe/webhook", ratelimit.Middleware(limiter, "webhook", 60)(webhookHandler))

	// Session-authenticated presentation endpoints
	if deps.Sessions != nil {
		h := account.NewHandler(deps.Store, deps.Sessions, deps.Catalog)
		mux.HandleFunc("GET /api/organization", h.HandleOrganization)
		mux.HandleFunc("GET /api/capabilities/{capability}", h.HandleCapability)
	} else {
		mux.HandleFunc("/api/organization", sessionsDisabled)
		mux.HandleFunc("/api/capabilities/{capability}", sessionsDisabled)
	}

	// Admin API (key-authenticated)
	mux.Handle("/admin/pending", adminAuth(admin.HandleListPending(deps.Registry)))
	mux.Handle("/admin/pending/replay", adminAuth(admin.HandleReplayPending(replayer)))
	mux.Handle("PUT /admin/organizations/{org_id}", adminAuth(admin.HandlePutOrganization(deps.Registry, deps.Catalog)))
}

// NewHandler returns the full route table wrapped in request-ID middleware.
func NewHandler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return logging.Middleware(mux)
}

func sessionsDisabled(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "session verification not configured"})
}
