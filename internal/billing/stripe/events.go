package stripe

import (
	"strings"
	"time"
)

// Stripe event types the billing service acts on.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	subscriptionStatusCanceled  = "canceled"
)

// Checkout payment statuses that settle the purchase. A completed session
// paid by a delayed method reports "unpaid" and is followed by
// EventCheckoutAsyncSucceeded once the funds arrive.
const (
	paymentStatusPaid              = "paid"
	paymentStatusNoPaymentRequired = "no_payment_required"
)

// Envelope carries the fields shared by every event.
type Envelope struct {
	ID       string
	Type     string
	Created  time.Time
	Livemode bool
}

// Event is a verified Stripe event. The concrete type is one of
// *CheckoutCompleted, *SubscriptionCancelled or *Unhandled.
type Event interface {
	Meta() Envelope
	isEvent()
}

// CheckoutCompleted is a finished checkout session, or one whose delayed
// payment has just succeeded.
type CheckoutCompleted struct {
	Envelope
	Session CheckoutSession
}

// SubscriptionCancelled is a subscription that was deleted, or updated into
// the canceled status.
type SubscriptionCancelled struct {
	Envelope
	Subscription Subscription
}

// Unhandled is any other event. It is acknowledged and never mutates state.
type Unhandled struct {
	Envelope
}

func (e Envelope) Meta() Envelope { return e }

func (*CheckoutCompleted) isEvent()     {}
func (*SubscriptionCancelled) isEvent() {}
func (*Unhandled) isEvent()             {}

// CheckoutSession is a minimal representation of a Stripe checkout.session object.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

// Settled reports whether the session's payment has cleared. Sessions without
// a payment status are treated as settled.
func (s CheckoutSession) Settled() bool {
	switch strings.TrimSpace(s.PaymentStatus) {
	case "", paymentStatusPaid, paymentStatusNoPaymentRequired:
		return true
	default:
		return false
	}
}

// Subscription is a minimal representation of a Stripe subscription object.
type Subscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// metadataOrgID reads the organization reference placed on a session or
// subscription when checkout was created.
func metadataOrgID(md map[string]string) string {
	for _, key := range []string{"orgId", "org_id"} {
		if v := strings.TrimSpace(md[key]); v != "" {
			return v
		}
	}
	return ""
}
