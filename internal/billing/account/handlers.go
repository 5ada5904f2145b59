// Package account serves the session-authenticated entitlement view that
// the dashboard renders from.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/identity"
	cerrors "github.com/mtliendo/circular-dashboard-design/internal/errors"
	"github.com/mtliendo/circular-dashboard-design/internal/logging"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

const sessionCookieName = "__session"

// SessionVerifier validates a session token. *identity.SessionVerifier satisfies it.
type SessionVerifier interface {
	Verify(token string) (*identity.SessionClaims, error)
}

// Handler serves /api/organization and /api/capabilities/{capability}.
type Handler struct {
	store    identity.OrganizationStore
	sessions SessionVerifier
	catalog  *entitlements.Catalog
}

// NewHandler wires the account handlers.
func NewHandler(store identity.OrganizationStore, sessions SessionVerifier, catalog *entitlements.Catalog) *Handler {
	return &Handler{store: store, sessions: sessions, catalog: catalog}
}

type organizationInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type organizationResponse struct {
	Organization   organizationInfo           `json:"organization"`
	Plan           entitlements.PlanTier      `json:"plan"`
	PlanName       string                     `json:"plan_name"`
	MonthlyPrice   int64                      `json:"monthly_price"`
	MemberCeiling  entitlements.MemberCeiling `json:"member_ceiling"`
	MembersCount   int                        `json:"members_count"`
	SeatsRemaining *int                       `json:"seats_remaining"`
	CanInvite      bool                       `json:"can_invite"`
	Role           entitlements.Role          `json:"role"`
	RoleSet        entitlements.RoleSet       `json:"role_set"`
	Capabilities   []string                   `json:"capabilities"`
}

type capabilityResponse struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
}

// caller is the requester's standing inside their active organization.
type caller struct {
	org    *identity.Organization
	member entitlements.Member
}

// HandleOrganization returns the caller's organization snapshot and capabilities.
func (h *Handler) HandleOrganization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	m, ok := h.resolveMember(w, r)
	if !ok {
		return
	}

	terms := h.catalog.Terms(m.org.Plan)
	resp := organizationResponse{
		Organization:  organizationInfo{ID: m.org.ID, Name: m.org.Name},
		Plan:          m.org.Plan,
		PlanName:      m.org.Plan.DisplayName(),
		MonthlyPrice:  terms.MonthlyPrice,
		MemberCeiling: terms.MemberCeiling,
		MembersCount:  m.org.MembersCount,
		CanInvite:     h.catalog.CanInvite(m.org.Plan, m.org.MembersCount),
		Role:          m.member.Role,
		RoleSet:       m.member.RoleSet,
		Capabilities:  entitlements.Evaluate(m.org.Plan, m.member).Keys(),
	}
	if remaining, unlimited := h.catalog.SeatsRemaining(m.org.Plan, m.org.MembersCount); !unlimited {
		resp.SeatsRemaining = &remaining
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCapability answers a single capability check for the caller.
func (h *Handler) HandleCapability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	c, ok := entitlements.ParseCapability(r.PathValue("capability"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown capability")
		return
	}
	m, ok := h.resolveMember(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, capabilityResponse{
		Capability: c.Key(),
		Allowed:    entitlements.CanPerform(c, m.org.Plan, m.member),
	})
}

func (h *Handler) resolveMember(w http.ResponseWriter, r *http.Request) (caller, bool) {
	token := sessionToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return caller{}, false
	}
	claims, err := h.sessions.Verify(token)
	if err != nil {
		logging.FromContext(r.Context()).Debug().Err(err).Msg("Session token rejected")
		writeError(w, http.StatusUnauthorized, "invalid session")
		return caller{}, false
	}
	if strings.TrimSpace(claims.OrgID) == "" {
		writeError(w, http.StatusForbidden, "no active organization")
		return caller{}, false
	}

	org, err := h.store.GetOrganization(r.Context(), claims.OrgID)
	if err != nil {
		switch {
		case errors.Is(err, cerrors.ErrNotFound):
			writeError(w, http.StatusNotFound, "organization not found")
		case errors.Is(err, context.Canceled):
			writeError(w, http.StatusRequestTimeout, "request cancelled")
		default:
			logging.FromContext(r.Context()).Error().Err(err).Str("org_id", claims.OrgID).Msg("Organization lookup failed")
			writeError(w, http.StatusBadGateway, "organization lookup failed")
		}
		return caller{}, false
	}

	// Unknown roles are kept verbatim; the evaluator grants them nothing.
	role, ok := entitlements.ParseRole(claims.OrgRole)
	if !ok {
		role = entitlements.Role(strings.TrimSpace(claims.OrgRole))
	}
	return caller{org: org, member: entitlements.Member{Role: role, RoleSet: org.RoleSet}}, true
}

func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("billing.account: encode response")
	}
}
