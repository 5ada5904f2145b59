package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	// ErrSignatureMissing is returned when the Stripe-Signature header is absent.
	ErrSignatureMissing = errors.New("missing Stripe signature")
	// ErrSignatureInvalid covers signature mismatch, stale timestamps and malformed payloads.
	ErrSignatureInvalid = errors.New("invalid Stripe signature")
)

// Verify authenticates the exact raw request body against sigHeader and
// decodes it into a typed event.
func Verify(payload []byte, sigHeader, secret string) (Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return nil, ErrSignatureMissing
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return decode(&event)
}

func decode(event *stripelib.Event) (Event, error) {
	env := Envelope{
		ID:       event.ID,
		Type:     string(event.Type),
		Created:  time.Unix(event.Created, 0).UTC(),
		Livemode: event.Livemode,
	}
	if event.Data == nil {
		return &Unhandled{Envelope: env}, nil
	}

	switch env.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded:
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: decode checkout.session: %v", ErrSignatureInvalid, err)
		}
		return &CheckoutCompleted{Envelope: env, Session: session}, nil

	case EventSubscriptionDeleted, EventSubscriptionUpdated:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %v", ErrSignatureInvalid, err)
		}
		if env.Type == EventSubscriptionUpdated && sub.Status != subscriptionStatusCanceled {
			return &Unhandled{Envelope: env}, nil
		}
		return &SubscriptionCancelled{Envelope: env, Subscription: sub}, nil

	default:
		return &Unhandled{Envelope: env}, nil
	}
}
