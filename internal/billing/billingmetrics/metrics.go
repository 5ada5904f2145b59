package billingmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circular",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "circular",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ApplicationsTotal counts entitlement writes by outcome (applied, failed, replayed, parked).
	ApplicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circular",
		Subsystem: "billing",
		Name:      "entitlement_applications_total",
		Help:      "Organization entitlement writes by outcome.",
	}, []string{"outcome"})

	// WebhookOutcomesTotal counts terminal webhook states (applied, unresolved, ignored, pending).
	WebhookOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circular",
		Subsystem: "billing",
		Name:      "webhook_outcomes_total",
		Help:      "Terminal processing state of verified webhook events.",
	}, []string{"outcome"})

	// PendingApplications is the number of entitlement writes awaiting replay.
	PendingApplications = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "circular",
		Subsystem: "billing",
		Name:      "pending_applications",
		Help:      "Entitlement applications recorded after a failed write and not yet replayed.",
	})

	// ReconcileRunsTotal counts reconciler passes by result.
	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circular",
		Subsystem: "billing",
		Name:      "reconcile_runs_total",
		Help:      "Reconciler passes by result.",
	}, []string{"result"})

	// OrganizationsByPlan tracks locally stored organizations per plan tier.
	OrganizationsByPlan = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "circular",
		Subsystem: "billing",
		Name:      "organizations_by_plan",
		Help:      "Number of locally stored organizations by plan tier.",
	}, []string{"plan"})
)
