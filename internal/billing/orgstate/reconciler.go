package orgstate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/billingmetrics"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/registry"
)

const (
	DefaultReconcileInterval    = 5 * time.Minute
	DefaultReconcileConcurrency = 4
)

// ReconcileResult summarizes one reconciler pass.
type ReconcileResult struct {
	Organizations int `json:"organizations"`
	Replayed      int `json:"replayed"`
	Failed        int `json:"failed"`
	Parked        int `json:"parked"`
	Remaining     int `json:"remaining"`
}

// Reconciler replays pending applications in the background.
type Reconciler struct {
	updater     *Updater
	pending     PendingStore
	interval    time.Duration
	concurrency int
}

// NewReconciler returns a Reconciler. Zero values select the defaults.
func NewReconciler(updater *Updater, pending PendingStore, interval time.Duration, concurrency int) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultReconcileConcurrency
	}
	return &Reconciler{updater: updater, pending: pending, interval: interval, concurrency: concurrency}
}

// Run blocks, reconciling on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", r.interval).Msg("Pending application reconciler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Pending application reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Reconcile pass failed")
			}
		}
	}
}

// RunOnce replays the newest pending application of every organization.
// Older rows for the same organization are superseded when the newest lands,
// so an organization is never rolled back to an earlier tier.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	rows, err := r.pending.ListPending()
	if err != nil {
		billingmetrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		return result, err
	}

	// rows are oldest first; keep the last seen per organization.
	newest := make(map[string]*registry.PendingApplication)
	var order []string
	for _, p := range rows {
		if _, seen := newest[p.OrgID]; !seen {
			order = append(order, p.OrgID)
		}
		newest[p.OrgID] = p
	}
	result.Organizations = len(order)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, orgID := range order {
		p := newest[orgID]
		g.Go(func() error {
			err := r.updater.Replay(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				var applyErr *ApplyError
				if errors.As(err, &applyErr) && applyErr.Parked {
					result.Parked++
				}
				log.Warn().Err(err).Str("org_id", p.OrgID).Str("pending_id", p.ID).Msg("Pending application replay failed")
				return nil
			}
			result.Replayed++
			return nil
		})
	}
	_ = g.Wait()

	remaining, err := r.pending.CountPending()
	if err != nil {
		billingmetrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		return result, err
	}
	result.Remaining = remaining
	billingmetrics.PendingApplications.Set(float64(remaining))

	status := "ok"
	if result.Failed > 0 {
		status = "partial"
	}
	billingmetrics.ReconcileRunsTotal.WithLabelValues(status).Inc()
	if result.Organizations > 0 {
		log.Info().
			Int("organizations", result.Organizations).
			Int("replayed", result.Replayed).
			Int("failed", result.Failed).
			Int("parked", result.Parked).
			Int("remaining", remaining).
			Msg("Reconcile pass complete")
	}
	return result, nil
}

// RequeueFailed moves every failed application back into the replay queue
// with a fresh attempt budget.
func (r *Reconciler) RequeueFailed() (int, error) {
	n, err := r.pending.RequeueFailed()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int("requeued", n).Msg("Failed applications requeued for replay")
	}
	return n, nil
}
