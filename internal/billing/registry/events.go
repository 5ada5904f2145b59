package registry

import (
	"database/sql"
	"fmt"
	"time"
)

// ClaimEvent marks a webhook event as in flight. It returns claimed=true when
// this caller now owns the event: either it was never seen, or a previous
// claim has been processing for longer than staleAfter. Otherwise the existing
// record is returned so the caller can tell a completed event from one still
// being processed elsewhere.
func (r *Registry) ClaimEvent(eventID, eventType string, staleAfter time.Duration) (*ProcessedEvent, bool, error) {
	now := r.now()
	res, err := r.db.Exec(`
		INSERT INTO processed_events (id, type, state, claimed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			claimed_at = excluded.claimed_at,
			type = excluded.type
		WHERE processed_events.state = ? AND processed_events.claimed_at < ?`,
		eventID, eventType, string(ProcessedEventProcessing), now.UnixNano(),
		string(ProcessedEventProcessing), now.Add(-staleAfter).UnixNano(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim event: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return &ProcessedEvent{ID: eventID, Type: eventType, State: ProcessedEventProcessing, ClaimedAt: now}, true, nil
	}

	existing, err := r.GetProcessedEvent(eventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("claim event %q: record vanished", eventID)
	}
	return existing, false, nil
}

// CompleteEvent records the terminal outcome of a claimed event.
func (r *Registry) CompleteEvent(eventID, outcome string) error {
	res, err := r.db.Exec(`UPDATE processed_events SET state = ?, outcome = ?, completed_at = ? WHERE id = ?`,
		string(ProcessedEventDone), outcome, r.now().UnixNano(), eventID)
	if err != nil {
		return fmt.Errorf("complete event: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("complete event %q: not claimed", eventID)
	}
	return nil
}

// ReleaseEvent drops an in-flight claim so the next delivery is processed.
// Completed events are left untouched.
func (r *Registry) ReleaseEvent(eventID string) error {
	if _, err := r.db.Exec(`DELETE FROM processed_events WHERE id = ? AND state = ?`,
		eventID, string(ProcessedEventProcessing)); err != nil {
		return fmt.Errorf("release event: %w", err)
	}
	return nil
}

// GetProcessedEvent retrieves a ledger entry. Returns nil, nil when absent.
func (r *Registry) GetProcessedEvent(eventID string) (*ProcessedEvent, error) {
	var e ProcessedEvent
	var state string
	var claimedAt int64
	var completedAt sql.NullInt64
	err := r.db.QueryRow(`SELECT id, type, state, outcome, claimed_at, completed_at FROM processed_events WHERE id = ?`, eventID).
		Scan(&e.ID, &e.Type, &state, &e.Outcome, &claimedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get processed event: %w", err)
	}
	e.State = ProcessedEventState(state)
	e.ClaimedAt = time.Unix(0, claimedAt).UTC()
	if completedAt.Valid {
		ts := time.Unix(0, completedAt.Int64).UTC()
		e.CompletedAt = &ts
	}
	return &e, nil
}
