package registry

import "time"

// Organization is a locally stored organization record. It is used when no
// external identity provider is configured.
type Organization struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Plan          string    `json:"plan"`
	RoleSet       string    `json:"role_set"`
	MemberCeiling int       `json:"member_ceiling"` // 0 = unlimited
	MembersCount  int       `json:"members_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProcessedEventState is the lifecycle of a claimed webhook event.
type ProcessedEventState string

const (
	ProcessedEventProcessing ProcessedEventState = "processing"
	ProcessedEventDone       ProcessedEventState = "done"
)

// ProcessedEvent records a Stripe event id seen by the webhook endpoint.
type ProcessedEvent struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	State       ProcessedEventState `json:"state"`
	Outcome     string              `json:"outcome,omitempty"`
	ClaimedAt   time.Time           `json:"claimed_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// PendingState is the lifecycle of a failed entitlement application.
type PendingState string

const (
	PendingStatePending    PendingState = "pending"
	PendingStateApplied    PendingState = "applied"
	PendingStateSuperseded PendingState = "superseded"
	// PendingStateFailed rows are skipped by the reconciler until requeued.
	PendingStateFailed PendingState = "failed"
)

// PendingApplication is an entitlement write that failed upstream and awaits replay.
type PendingApplication struct {
	ID        string       `json:"id"`
	OrgID     string       `json:"org_id"`
	Plan      string       `json:"plan"`
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error"`
	State     PendingState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
