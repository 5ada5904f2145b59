// Package ledger tracks processed Stripe event ids so that each event is
// applied at most once even when Stripe delivers it several times.
package ledger

import (
	"context"
	"time"
)

// Status is the result of claiming an event.
type Status int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed Status = iota
	// Duplicate means the event was already processed to completion.
	Duplicate
	// InFlight means another delivery of the event is still being processed.
	InFlight
)

func (s Status) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Duplicate:
		return "duplicate"
	case InFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// DefaultClaimTTL bounds how long a crashed worker can hold an event.
const DefaultClaimTTL = 5 * time.Minute

// Ledger is the processed-event store consulted by the webhook handler.
type Ledger interface {
	Claim(ctx context.Context, eventID, eventType string) (Status, error)
	Complete(ctx context.Context, eventID, outcome string) error
	Release(ctx context.Context, eventID string) error
}
