package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/orgstate"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/registry"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

// Replayer runs one reconcile pass. *orgstate.Reconciler satisfies it.
type Replayer interface {
	RunOnce(ctx context.Context) (orgstate.ReconcileResult, error)
	RequeueFailed() (int, error)
}

// HandleListPending returns a handler that lists applications awaiting replay,
// or the parked ones with ?state=failed.
func HandleListPending(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		list := reg.ListPending
		switch r.URL.Query().Get("state") {
		case "", string(registry.PendingStatePending):
		case string(registry.PendingStateFailed):
			list = reg.ListFailed
		default:
			http.Error(w, "state must be pending or failed", http.StatusBadRequest)
			return
		}

		pending, err := list()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if pending == nil {
			pending = []*registry.PendingApplication{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pending": pending,
			"count":   len(pending),
		})
	}
}

// HandleReplayPending returns a handler that runs a reconcile pass immediately.
// With ?include_failed=true parked applications are requeued first.
func HandleReplayPending(replayer Replayer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if includeFailed, _ := strconv.ParseBool(r.URL.Query().Get("include_failed")); includeFailed {
			if _, err := replayer.RequeueFailed(); err != nil {
				log.Error().Err(err).Msg("Requeue of failed applications failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}

		result, err := replayer.RunOnce(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Manual replay failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

type organizationRequest struct {
	Name         string `json:"name"`
	RoleSet      string `json:"role_set"`
	MembersCount int    `json:"members_count"`
}

// HandlePutOrganization returns a handler that seeds or updates a locally
// stored organization. New organizations start on the lowest plan tier;
// plan changes only arrive through billing events.
func HandlePutOrganization(reg *registry.Registry, catalog *entitlements.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		orgID := strings.TrimSpace(r.PathValue("org_id"))
		if orgID == "" {
			http.Error(w, "missing organization id", http.StatusBadRequest)
			return
		}

		var req organizationRequest
		r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.MembersCount < 0 {
			http.Error(w, "members_count must not be negative", http.StatusBadRequest)
			return
		}

		org := &registry.Organization{
			ID:            orgID,
			Name:          strings.TrimSpace(req.Name),
			Plan:          string(entitlements.LowestPlan),
			RoleSet:       string(entitlements.ParseRoleSet(req.RoleSet)),
			MemberCeiling: int(catalog.Terms(entitlements.LowestPlan).MemberCeiling),
			MembersCount:  req.MembersCount,
		}
		if err := reg.UpsertOrganization(org); err != nil {
			log.Error().Err(err).Str("org_id", orgID).Msg("Failed to store organization")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		stored, err := reg.GetOrganization(orgID)
		if err != nil || stored == nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		log.Info().Str("org_id", orgID).Str("role_set", stored.RoleSet).Msg("Organization stored")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stored)
	}
}

// AdminKeyMiddleware returns middleware that requires a valid admin API key.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			// Also check Authorization: Bearer <key>
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if key == "" || !constantTimeEqual(key, adminKey) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
