package stripe

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

type signedPayload struct {
	Payload []byte
	Header  string
}

func sign(payload, secret string) signedPayload {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signedPayload{Payload: signed.Payload, Header: signed.Header}
}

func TestVerify_DecodesTaggedUnion(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		object    map[string]any
		check     func(t *testing.T, ev Event)
	}{
		{
			name:      "checkout completed",
			eventType: EventCheckoutCompleted,
			object:    map[string]any{"id": "cs_test_1", "client_reference_id": "org_1", "metadata": map[string]any{"plan": "pro"}},
			check: func(t *testing.T, ev Event) {
				c, ok := ev.(*CheckoutCompleted)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, "cs_test_1", c.Session.ID)
				assert.Equal(t, "org_1", c.Session.ClientReferenceID)
				assert.Equal(t, "pro", c.Session.Metadata["plan"])
			},
		},
		{
			name:      "checkout async payment succeeded",
			eventType: EventCheckoutAsyncSucceeded,
			object:    map[string]any{"id": "cs_test_2", "client_reference_id": "org_1", "payment_status": "paid"},
			check: func(t *testing.T, ev Event) {
				c, ok := ev.(*CheckoutCompleted)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, "paid", c.Session.PaymentStatus)
				assert.True(t, c.Session.Settled())
			},
		},
		{
			name:      "subscription deleted",
			eventType: EventSubscriptionDeleted,
			object:    map[string]any{"id": "sub_1", "customer": "cus_1", "status": "canceled"},
			check: func(t *testing.T, ev Event) {
				s, ok := ev.(*SubscriptionCancelled)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, "cus_1", s.Subscription.Customer)
			},
		},
		{
			name:      "subscription updated to canceled",
			eventType: EventSubscriptionUpdated,
			object:    map[string]any{"id": "sub_1", "status": "canceled"},
			check: func(t *testing.T, ev Event) {
				_, ok := ev.(*SubscriptionCancelled)
				assert.True(t, ok, "got %T", ev)
			},
		},
		{
			name:      "subscription updated while active",
			eventType: EventSubscriptionUpdated,
			object:    map[string]any{"id": "sub_1", "status": "active"},
			check: func(t *testing.T, ev Event) {
				_, ok := ev.(*Unhandled)
				assert.True(t, ok, "got %T", ev)
			},
		},
		{
			name:      "unknown type",
			eventType: "invoice.paid",
			object:    map[string]any{"id": "in_1"},
			check: func(t *testing.T, ev Event) {
				_, ok := ev.(*Unhandled)
				assert.True(t, ok, "got %T", ev)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed := sign(eventJSON(t, "evt_1", tt.eventType, tt.object), testSecret)
			ev, err := Verify(signed.Payload, signed.Header, testSecret)
			require.NoError(t, err)
			assert.Equal(t, "evt_1", ev.Meta().ID)
			assert.Equal(t, tt.eventType, ev.Meta().Type)
			tt.check(t, ev)
		})
	}
}

func TestVerify_Failures(t *testing.T) {
	payload := eventJSON(t, "evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1"})
	signed := sign(payload, testSecret)

	_, err := Verify(signed.Payload, "", testSecret)
	assert.True(t, errors.Is(err, ErrSignatureMissing))

	_, err = Verify(signed.Payload, signed.Header, "whsec_other")
	assert.True(t, errors.Is(err, ErrSignatureInvalid))

	// Verification runs over the exact bytes; any change invalidates it.
	tampered := append([]byte(nil), signed.Payload...)
	tampered = append(tampered, ' ')
	_, err = Verify(tampered, signed.Header, testSecret)
	assert.True(t, errors.Is(err, ErrSignatureInvalid))

	garbage := sign("not json", testSecret)
	_, err = Verify(garbage.Payload, garbage.Header, testSecret)
	assert.True(t, errors.Is(err, ErrSignatureInvalid))

	badShape := sign(eventJSON(t, "evt_2", EventCheckoutCompleted, map[string]any{"id": "cs_1", "metadata": "oops"}), testSecret)
	_, err = Verify(badShape.Payload, badShape.Header, testSecret)
	assert.True(t, errors.Is(err, ErrSignatureInvalid))
}
