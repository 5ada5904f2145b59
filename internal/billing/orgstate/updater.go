// Package orgstate applies resolved plan tiers to organization records.
package orgstate

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/billingmetrics"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/identity"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/registry"
	cerrors "github.com/mtliendo/circular-dashboard-design/internal/errors"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

// PendingStore persists entitlement writes that failed upstream.
// *registry.Registry satisfies it.
type PendingStore interface {
	CreatePending(p *registry.PendingApplication) error
	ListPending() ([]*registry.PendingApplication, error)
	CountPending() (int, error)
	RecordPendingFailure(id, lastError string) error
	FailPending(id, lastError string) error
	RequeueFailed() (int, error)
	MarkPendingApplied(id string) error
	SupersedePending(orgID string, before time.Time) (int, error)
}

// DefaultMaxReplayAttempts bounds how often a retryable failure is replayed
// before the application is parked as failed.
const DefaultMaxReplayAttempts = 10

// Application is one request to move an organization to a plan tier.
type Application struct {
	OrgID     string
	Plan      entitlements.PlanTier
	EventID   string
	EventType string
}

// ApplyError is an UpstreamWriteFailure: the organization write did not land.
// PendingID is set when the application was durably recorded for replay;
// RecordErr is set when even that failed. Parked is set when the row went
// to the failed state instead of waiting for the reconciler.
type ApplyError struct {
	OrgID     string
	Plan      entitlements.PlanTier
	EventID   string
	PendingID string
	Parked    bool
	Err       error
	RecordErr error
}

func (e *ApplyError) Error() string {
	msg := fmt.Sprintf("apply plan %s to organization %s: %v", e.Plan, e.OrgID, e.Err)
	if e.RecordErr != nil {
		msg += fmt.Sprintf(" (pending record failed: %v)", e.RecordErr)
	}
	return msg
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Recorded reports whether the failed application is stored, queued or parked.
func (e *ApplyError) Recorded() bool {
	return e.PendingID != "" && e.RecordErr == nil
}

// Retryable reports whether replaying the write can succeed.
func (e *ApplyError) Retryable() bool {
	return cerrors.IsRetryable(e.Err)
}

// Updater sets an organization's member ceiling and plan metadata together.
type Updater struct {
	store       identity.OrganizationStore
	catalog     *entitlements.Catalog
	pending     PendingStore
	maxAttempts int
	now         func() time.Time
}

// NewUpdater wires an Updater.
func NewUpdater(store identity.OrganizationStore, catalog *entitlements.Catalog, pending PendingStore) *Updater {
	return &Updater{
		store:       store,
		catalog:     catalog,
		pending:     pending,
		maxAttempts: DefaultMaxReplayAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithMaxAttempts overrides the replay budget. n <= 0 keeps the default.
func (u *Updater) WithMaxAttempts(n int) *Updater {
	if n > 0 {
		u.maxAttempts = n
	}
	return u
}

// Apply writes the plan's member ceiling and the plan tier in one overwrite.
// Applying the same plan twice leaves the same record as applying it once.
// On upstream failure it records a pending application and returns *ApplyError.
func (u *Updater) Apply(ctx context.Context, app Application) error {
	if !app.Plan.Valid() {
		return fmt.Errorf("apply to organization %s: unknown plan tier %q", app.OrgID, app.Plan)
	}
	if app.OrgID == "" {
		return fmt.Errorf("apply plan %s: organization id is required", app.Plan)
	}

	started := u.now()
	err := u.write(ctx, app.OrgID, app.Plan)
	if err == nil {
		billingmetrics.ApplicationsTotal.WithLabelValues("applied").Inc()
		u.supersede(app.OrgID, started)
		return nil
	}

	billingmetrics.ApplicationsTotal.WithLabelValues("failed").Inc()
	applyErr := &ApplyError{OrgID: app.OrgID, Plan: app.Plan, EventID: app.EventID, Err: err}

	p := &registry.PendingApplication{
		ID:        ulid.Make().String(),
		OrgID:     app.OrgID,
		Plan:      string(app.Plan),
		EventID:   app.EventID,
		EventType: app.EventType,
		LastError: err.Error(),
		State:     registry.PendingStatePending,
	}
	// Replaying a rejected write cannot succeed until an operator intervenes.
	if !applyErr.Retryable() {
		p.State = registry.PendingStateFailed
		applyErr.Parked = true
	}
	if recErr := u.pending.CreatePending(p); recErr != nil {
		applyErr.RecordErr = recErr
	} else {
		applyErr.PendingID = p.ID
		if !applyErr.Parked {
			billingmetrics.PendingApplications.Inc()
		}
	}

	log.Error().Err(err).
		Str("org_id", app.OrgID).
		Str("plan", string(app.Plan)).
		Str("event_id", app.EventID).
		Str("pending_id", applyErr.PendingID).
		Bool("retryable", applyErr.Retryable()).
		Bool("parked", applyErr.Parked).
		Msg("Organization entitlement write failed")
	return applyErr
}

// Replay retries a recorded pending application.
func (u *Updater) Replay(ctx context.Context, p *registry.PendingApplication) error {
	plan, ok := entitlements.ParsePlanTier(p.Plan)
	if !ok {
		err := fmt.Errorf("pending application %s: unknown plan tier %q", p.ID, p.Plan)
		if recErr := u.pending.FailPending(p.ID, err.Error()); recErr != nil {
			log.Warn().Err(recErr).Str("pending_id", p.ID).Msg("Failed to park pending application")
		}
		return &ApplyError{OrgID: p.OrgID, EventID: p.EventID, PendingID: p.ID, Parked: true, Err: err}
	}

	if err := u.write(ctx, p.OrgID, plan); err != nil {
		billingmetrics.ApplicationsTotal.WithLabelValues("replay_failed").Inc()
		applyErr := &ApplyError{OrgID: p.OrgID, Plan: plan, EventID: p.EventID, PendingID: p.ID, Err: err}

		record := u.pending.RecordPendingFailure
		if !applyErr.Retryable() || p.Attempts+1 >= u.maxAttempts {
			record = u.pending.FailPending
			applyErr.Parked = true
		}
		if recErr := record(p.ID, err.Error()); recErr != nil {
			applyErr.RecordErr = recErr
			log.Warn().Err(recErr).Str("pending_id", p.ID).Msg("Failed to record replay failure")
		}
		if applyErr.Parked {
			billingmetrics.ApplicationsTotal.WithLabelValues("parked").Inc()
			log.Error().Err(err).
				Str("org_id", p.OrgID).
				Str("plan", p.Plan).
				Str("pending_id", p.ID).
				Int("attempts", p.Attempts+1).
				Msg("Pending entitlement application parked as failed")
		}
		return applyErr
	}

	billingmetrics.ApplicationsTotal.WithLabelValues("replayed").Inc()
	if err := u.pending.MarkPendingApplied(p.ID); err != nil {
		return fmt.Errorf("close pending application %s: %w", p.ID, err)
	}
	u.supersede(p.OrgID, p.CreatedAt)

	log.Info().
		Str("org_id", p.OrgID).
		Str("plan", p.Plan).
		Str("event_id", p.EventID).
		Str("pending_id", p.ID).
		Msg("Replayed pending entitlement application")
	return nil
}

func (u *Updater) write(ctx context.Context, orgID string, plan entitlements.PlanTier) error {
	terms := u.catalog.Terms(plan)
	return u.store.UpdateEntitlement(ctx, orgID, identity.EntitlementUpdate{
		Plan:          plan,
		MemberCeiling: terms.MemberCeiling,
	})
}

func (u *Updater) supersede(orgID string, before time.Time) {
	n, err := u.pending.SupersedePending(orgID, before)
	if err != nil {
		log.Warn().Err(err).Str("org_id", orgID).Msg("Failed to supersede pending applications")
		return
	}
	if n > 0 {
		if remaining, err := u.pending.CountPending(); err == nil {
			billingmetrics.PendingApplications.Set(float64(remaining))
		}
		log.Info().Str("org_id", orgID).Int("count", n).Msg("Superseded stale pending applications")
	}
}
