package admin

import (
	"encoding/json"
	"net/http"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/billingmetrics"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/registry"
)

type statusResponse struct {
	Version             string         `json:"version"`
	OrganizationStore   string         `json:"organization_store"`
	EventLedger         string         `json:"event_ledger"`
	TotalOrganizations  int            `json:"total_organizations"`
	ByPlan              map[string]int `json:"by_plan"`
	PendingApplications int            `json:"pending_applications"`
	FailedApplications  int            `json:"failed_applications"`
}

// StatusInfo describes the wiring reported by the status endpoint.
type StatusInfo struct {
	Version           string
	OrganizationStore string // "clerk" or "local"
	EventLedger       string // "sqlite" or "redis"
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity (readiness probe).
func HandleReadyz(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.Ping(); err != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// HandleStatus returns a handler that reports organization and replay-queue totals.
func HandleStatus(reg *registry.Registry, info StatusInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := reg.CountByPlan()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// Opportunistically sync gauges on status calls.
		total := 0
		for plan, c := range counts {
			billingmetrics.OrganizationsByPlan.WithLabelValues(plan).Set(float64(c))
			total += c
		}

		pending, err := reg.CountPending()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		billingmetrics.PendingApplications.Set(float64(pending))
		failed, err := reg.CountFailed()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		resp := statusResponse{
			Version:             info.Version,
			OrganizationStore:   info.OrganizationStore,
			EventLedger:         info.EventLedger,
			TotalOrganizations:  total,
			ByPlan:              counts,
			PendingApplications: pending,
			FailedApplications:  failed,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
