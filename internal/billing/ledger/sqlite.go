package ledger

import (
	"context"
	"time"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/registry"
)

// SQLiteLedger keeps the ledger in the billing registry. It is the default
// for single-replica deployments.
type SQLiteLedger struct {
	reg      *registry.Registry
	claimTTL time.Duration
}

// NewSQLiteLedger returns a ledger backed by reg.
func NewSQLiteLedger(reg *registry.Registry, claimTTL time.Duration) *SQLiteLedger {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &SQLiteLedger{reg: reg, claimTTL: claimTTL}
}

func (l *SQLiteLedger) Claim(_ context.Context, eventID, eventType string) (Status, error) {
	existing, claimed, err := l.reg.ClaimEvent(eventID, eventType, l.claimTTL)
	if err != nil {
		return 0, err
	}
	if claimed {
		return Claimed, nil
	}
	if existing.State == registry.ProcessedEventDone {
		return Duplicate, nil
	}
	return InFlight, nil
}

func (l *SQLiteLedger) Complete(_ context.Context, eventID, outcome string) error {
	return l.reg.CompleteEvent(eventID, outcome)
}

func (l *SQLiteLedger) Release(_ context.Context, eventID string) error {
	return l.reg.ReleaseEvent(eventID)
}
