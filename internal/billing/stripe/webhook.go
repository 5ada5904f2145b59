package stripe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/billingmetrics"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/ledger"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/orgstate"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Terminal outcomes recorded in the event ledger and metrics.
const (
	OutcomeApplied    = "applied"
	OutcomePending    = "pending"
	OutcomeUnresolved = "unresolved"
	OutcomeIgnored    = "ignored"
	OutcomeAwaiting   = "awaiting_payment"
)

// Applier writes a resolved plan to an organization. *orgstate.Updater satisfies it.
type Applier interface {
	Apply(ctx context.Context, app orgstate.Application) error
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret    string
	resolver  *Resolver
	applier   Applier
	ledger    ledger.Ledger
	customers CustomerIndex
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler. events and
// customers may be nil.
func NewWebhookHandler(secret string, resolver *Resolver, applier Applier, events ledger.Ledger, customers CustomerIndex) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		resolver:  resolver,
		applier:   applier,
		ledger:    events,
		customers: customers,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		billingmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		billingmetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			writeJSON(w, status, webhookErrorResponse{Error: "request body too large"})
			return
		}
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	ev, err := Verify(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		status = http.StatusBadRequest
		msg := ErrSignatureInvalid.Error()
		if errors.Is(err, ErrSignatureMissing) {
			msg = ErrSignatureMissing.Error()
		}
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Stripe webhook rejected")
		writeJSON(w, status, webhookErrorResponse{Error: msg})
		return
	}
	meta := ev.Meta()
	eventType = meta.Type
	ctx := r.Context()

	if h.ledger != nil {
		claim, err := h.ledger.Claim(ctx, meta.ID, meta.Type)
		if err != nil {
			log.Error().Err(err).Str("event_id", meta.ID).Str("type", meta.Type).Msg("Stripe event ledger unavailable")
			status = http.StatusInternalServerError
			writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
			return
		}
		switch claim {
		case ledger.Duplicate:
			log.Info().Str("event_id", meta.ID).Str("type", meta.Type).Msg("Stripe webhook duplicate ignored")
			writeJSON(w, status, webhookReceivedResponse{Received: true, Status: "duplicate"})
			return
		case ledger.InFlight:
			status = http.StatusConflict
			writeJSON(w, status, webhookErrorResponse{Error: "event is already being processed"})
			return
		}
	}

	outcome, err := h.process(ctx, ev)
	if err != nil {
		h.release(meta.ID)
		log.Error().Err(err).
			Str("event_id", meta.ID).
			Str("type", meta.Type).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}
	billingmetrics.WebhookOutcomesTotal.WithLabelValues(outcome).Inc()

	if h.ledger != nil {
		if err := h.ledger.Complete(ctx, meta.ID, outcome); err != nil {
			// The work is done; a redelivery re-applies the same tier.
			log.Warn().Err(err).Str("event_id", meta.ID).Msg("Failed to mark Stripe event processed")
		}
	}

	resp := webhookReceivedResponse{Received: true}
	if outcome == OutcomePending {
		resp.Status = OutcomePending
	}
	writeJSON(w, status, resp)
}

// process runs Verified -> Resolved -> Applied (or Unresolved -> Dropped)
// and returns the terminal outcome. An error means nothing durable happened
// and the event source should redeliver.
func (h *WebhookHandler) process(ctx context.Context, ev Event) (string, error) {
	meta := ev.Meta()
	res, err := h.resolver.Resolve(ctx, ev)
	if err != nil {
		return "", err
	}

	logEvent := log.Info().
		Str("event_id", meta.ID).
		Str("type", meta.Type).
		Str("org_id", res.OrgID).
		Str("plan", string(res.Plan))

	switch res.Kind {
	case Ignored:
		logEvent.Msg("Stripe webhook ignored (unhandled type)")
		return OutcomeIgnored, nil
	case OrganizationUnresolved:
		logEvent.Str("customer_id", res.CustomerID).Msg("Stripe webhook dropped: no organization reference")
		return OutcomeUnresolved, nil
	case PlanUnresolved:
		logEvent.Msg("Stripe webhook dropped: plan could not be resolved")
		return OutcomeUnresolved, nil
	case AwaitingPayment:
		logEvent.Msg("Stripe checkout not yet paid; waiting for async payment event")
		return OutcomeAwaiting, nil
	}

	if _, ok := ev.(*CheckoutCompleted); ok && h.customers != nil && IsSafeStripeID(res.CustomerID) {
		if err := h.customers.LinkCustomer(res.CustomerID, res.OrgID); err != nil {
			log.Warn().Err(err).Str("customer_id", res.CustomerID).Str("org_id", res.OrgID).Msg("Failed to index Stripe customer")
		}
	}

	err = h.applier.Apply(ctx, orgstate.Application{
		OrgID:     res.OrgID,
		Plan:      res.Plan,
		EventID:   meta.ID,
		EventType: meta.Type,
	})
	var applyErr *orgstate.ApplyError
	switch {
	case err == nil:
		logEvent.Str("plan_source", res.PlanSource).Msg("Organization entitlement applied")
		return OutcomeApplied, nil
	case errors.As(err, &applyErr) && applyErr.Recorded():
		return OutcomePending, nil
	default:
		return "", err
	}
}

func (h *WebhookHandler) release(eventID string) {
	if h.ledger == nil {
		return
	}
	// The request context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.ledger.Release(ctx, eventID); err != nil {
		log.Warn().Err(err).Str("event_id", eventID).Msg("Failed to release Stripe event claim")
	}
}
