package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

// ResolutionKind is the terminal state reached by resolving an event.
type ResolutionKind int

const (
	// Resolved means both organization and plan are known.
	Resolved ResolutionKind = iota
	// Ignored is an event type that never mutates state.
	Ignored
	// OrganizationUnresolved means the event carries no usable organization reference.
	OrganizationUnresolved
	// PlanUnresolved means neither the metadata hint nor the line items name a known plan.
	PlanUnresolved
	// AwaitingPayment is a completed checkout whose payment has not cleared.
	AwaitingPayment
)

func (k ResolutionKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Ignored:
		return "ignored"
	case OrganizationUnresolved:
		return "organization_unresolved"
	case PlanUnresolved:
		return "plan_unresolved"
	case AwaitingPayment:
		return "awaiting_payment"
	default:
		return "unknown"
	}
}

// Plan sources recorded on a Resolution.
const (
	PlanSourceMetadata     = "metadata"
	PlanSourceLineItem     = "line_item"
	PlanSourceCancellation = "cancellation"
)

// Resolution is the outcome of mapping an event to (organization, plan).
type Resolution struct {
	Kind       ResolutionKind
	OrgID      string
	Plan       entitlements.PlanTier
	PlanSource string
	CustomerID string
}

// CustomerIndex maps Stripe customers to the organization they paid for.
// *registry.Registry satisfies it.
type CustomerIndex interface {
	OrganizationForCustomer(customerID string) (string, error)
	LinkCustomer(customerID, orgID string) error
}

// Resolver maps verified events to the organization and plan they affect.
type Resolver struct {
	catalog   *entitlements.Catalog
	lineItems LineItemLister
	customers CustomerIndex
}

// NewResolver wires a Resolver. lineItems and customers may be nil, which
// disables the line-item fallback and the customer index respectively.
func NewResolver(catalog *entitlements.Catalog, lineItems LineItemLister, customers CustomerIndex) *Resolver {
	return &Resolver{catalog: catalog, lineItems: lineItems, customers: customers}
}

// Resolve determines the organization and target plan for ev. Unresolved
// outcomes are not errors; an error means an upstream lookup failed and the
// event should be retried.
func (r *Resolver) Resolve(ctx context.Context, ev Event) (Resolution, error) {
	switch e := ev.(type) {
	case *CheckoutCompleted:
		return r.resolveCheckout(ctx, e)
	case *SubscriptionCancelled:
		return r.resolveCancellation(e)
	default:
		return Resolution{Kind: Ignored}, nil
	}
}

func (r *Resolver) resolveCheckout(ctx context.Context, e *CheckoutCompleted) (Resolution, error) {
	s := e.Session
	res := Resolution{CustomerID: strings.TrimSpace(s.Customer)}

	// Organization reference: explicit session metadata, then the
	// client_reference_id set when the checkout session was created.
	res.OrgID = metadataOrgID(s.Metadata)
	if res.OrgID == "" {
		res.OrgID = strings.TrimSpace(s.ClientReferenceID)
	}
	if res.OrgID == "" {
		res.Kind = OrganizationUnresolved
		return res, nil
	}
	if !s.Settled() {
		res.Kind = AwaitingPayment
		return res, nil
	}

	if hint := strings.TrimSpace(s.Metadata["plan"]); hint != "" {
		if plan, ok := entitlements.ParsePlanTier(hint); ok {
			res.Kind, res.Plan, res.PlanSource = Resolved, plan, PlanSourceMetadata
			return res, nil
		}
		log.Warn().
			Str("event_id", e.ID).
			Str("org_id", res.OrgID).
			Str("plan_hint", hint).
			Msg("Ignoring unknown plan hint in checkout metadata")
	}

	if r.lineItems == nil || !IsSafeStripeID(s.ID) {
		res.Kind = PlanUnresolved
		return res, nil
	}
	priceID, err := r.lineItems.FirstPriceID(ctx, s.ID)
	if err != nil {
		return res, fmt.Errorf("list line items for session %s: %w", s.ID, err)
	}
	if plan, ok := r.catalog.PlanForPrice(priceID); ok {
		res.Kind, res.Plan, res.PlanSource = Resolved, plan, PlanSourceLineItem
		return res, nil
	}
	if priceID != "" {
		log.Warn().
			Str("event_id", e.ID).
			Str("org_id", res.OrgID).
			Str("price_id", priceID).
			Msg("Checkout price is not in the plan catalog")
	}
	res.Kind = PlanUnresolved
	return res, nil
}

func (r *Resolver) resolveCancellation(e *SubscriptionCancelled) (Resolution, error) {
	sub := e.Subscription
	res := Resolution{
		CustomerID: strings.TrimSpace(sub.Customer),
		Plan:       entitlements.LowestPlan,
		PlanSource: PlanSourceCancellation,
	}

	res.OrgID = metadataOrgID(sub.Metadata)
	if res.OrgID == "" && r.customers != nil && IsSafeStripeID(res.CustomerID) {
		orgID, err := r.customers.OrganizationForCustomer(res.CustomerID)
		if err != nil {
			return res, fmt.Errorf("lookup organization for customer %s: %w", res.CustomerID, err)
		}
		res.OrgID = orgID
	}
	if res.OrgID == "" {
		res.Kind = OrganizationUnresolved
		return res, nil
	}
	res.Kind = Resolved
	return res, nil
}
