package registry

import (
	"database/sql"
	"fmt"
	"time"
)

const pendingColumns = `id, org_id, plan, event_id, event_type, attempts, last_error, state, created_at, updated_at`

// CreatePending stores a failed entitlement application for later replay.
func (r *Registry) CreatePending(p *PendingApplication) error {
	if p == nil {
		return fmt.Errorf("pending application is nil")
	}
	if p.ID == "" || p.OrgID == "" || p.Plan == "" {
		return fmt.Errorf("pending application requires id, org_id and plan")
	}
	now := r.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.State == "" {
		p.State = PendingStatePending
	}

	_, err := r.db.Exec(`INSERT INTO pending_applications (`+pendingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrgID, p.Plan, p.EventID, p.EventType, p.Attempts, p.LastError, string(p.State),
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create pending application: %w", err)
	}
	return nil
}

// GetPending retrieves a pending application by ID. Returns nil, nil when absent.
func (r *Registry) GetPending(id string) (*PendingApplication, error) {
	row := r.db.QueryRow(`SELECT `+pendingColumns+` FROM pending_applications WHERE id = ?`, id)
	return scanPending(row)
}

// ListPending returns applications still awaiting replay, oldest first.
func (r *Registry) ListPending() ([]*PendingApplication, error) {
	return r.listByState(PendingStatePending)
}

// ListFailed returns applications that were given up on, oldest first.
func (r *Registry) ListFailed() ([]*PendingApplication, error) {
	return r.listByState(PendingStateFailed)
}

func (r *Registry) listByState(state PendingState) ([]*PendingApplication, error) {
	rows, err := r.db.Query(`SELECT `+pendingColumns+` FROM pending_applications WHERE state = ? ORDER BY created_at ASC`,
		string(state))
	if err != nil {
		return nil, fmt.Errorf("list %s applications: %w", state, err)
	}
	defer rows.Close()

	var out []*PendingApplication
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPending returns the number of applications awaiting replay.
func (r *Registry) CountPending() (int, error) {
	return r.countByState(PendingStatePending)
}

// CountFailed returns the number of applications that were given up on.
func (r *Registry) CountFailed() (int, error) {
	return r.countByState(PendingStateFailed)
}

func (r *Registry) countByState(state PendingState) (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM pending_applications WHERE state = ?`,
		string(state)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s applications: %w", state, err)
	}
	return n, nil
}

// RecordPendingFailure bumps the attempt counter after a failed replay.
func (r *Registry) RecordPendingFailure(id, lastError string) error {
	res, err := r.db.Exec(`UPDATE pending_applications SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		lastError, r.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("record pending failure: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("pending application %q not found", id)
	}
	return nil
}

// FailPending records a final failed attempt and parks the application in
// the failed state, out of the reconciler's reach.
func (r *Registry) FailPending(id, lastError string) error {
	res, err := r.db.Exec(`UPDATE pending_applications SET state = ?, attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(PendingStateFailed), lastError, r.now().UnixNano(), id, string(PendingStatePending))
	if err != nil {
		return fmt.Errorf("fail pending application: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("pending application %q is not pending", id)
	}
	return nil
}

// RequeueFailed moves every failed application back to pending with a fresh
// attempt budget.
func (r *Registry) RequeueFailed() (int, error) {
	res, err := r.db.Exec(`UPDATE pending_applications SET state = ?, attempts = 0, updated_at = ? WHERE state = ?`,
		string(PendingStatePending), r.now().UnixNano(), string(PendingStateFailed))
	if err != nil {
		return 0, fmt.Errorf("requeue failed applications: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// MarkPendingApplied closes a pending application after a successful replay.
func (r *Registry) MarkPendingApplied(id string) error {
	res, err := r.db.Exec(`UPDATE pending_applications SET state = ?, attempts = attempts + 1, last_error = '', updated_at = ? WHERE id = ? AND state = ?`,
		string(PendingStateApplied), r.now().UnixNano(), id, string(PendingStatePending))
	if err != nil {
		return fmt.Errorf("mark pending applied: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("pending application %q is not pending", id)
	}
	return nil
}

// SupersedePending closes every pending or failed application for orgID
// created before the cutoff. A newer write for the organization has already
// landed, so replaying those rows would roll it back.
func (r *Registry) SupersedePending(orgID string, before time.Time) (int, error) {
	res, err := r.db.Exec(`UPDATE pending_applications SET state = ?, updated_at = ? WHERE org_id = ? AND state IN (?, ?) AND created_at < ?`,
		string(PendingStateSuperseded), r.now().UnixNano(), orgID, string(PendingStatePending), string(PendingStateFailed), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("supersede pending applications: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func scanPending(s scanner) (*PendingApplication, error) {
	var p PendingApplication
	var state string
	var createdAt, updatedAt int64
	err := s.Scan(&p.ID, &p.OrgID, &p.Plan, &p.EventID, &p.EventType, &p.Attempts, &p.LastError, &state, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan pending application: %w", err)
	}
	p.State = PendingState(state)
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &p, nil
}
