package registry

import (
	"database/sql"
	"fmt"
	"time"
)

const organizationColumns = `id, name, plan, role_set, member_ceiling, members_count, created_at, updated_at`

// GetOrganization retrieves an organization by ID. Returns nil, nil when absent.
func (r *Registry) GetOrganization(id string) (*Organization, error) {
	row := r.db.QueryRow(`SELECT `+organizationColumns+` FROM organizations WHERE id = ?`, id)
	return scanOrganization(row)
}

// UpsertOrganization creates or replaces the descriptive fields of an
// organization. Entitlement fields are only written on insert; use
// UpdateEntitlement to change them afterwards.
func (r *Registry) UpsertOrganization(o *Organization) error {
	if o == nil {
		return fmt.Errorf("organization is nil")
	}
	if o.ID == "" {
		return fmt.Errorf("organization id is required")
	}
	now := r.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO organizations (`+organizationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role_set = excluded.role_set,
			members_count = excluded.members_count,
			updated_at = excluded.updated_at`,
		o.ID, o.Name, o.Plan, o.RoleSet, o.MemberCeiling, o.MembersCount,
		o.CreatedAt.UnixNano(), o.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert organization: %w", err)
	}
	return nil
}

// UpdateEntitlement overwrites plan and member ceiling together in one statement.
func (r *Registry) UpdateEntitlement(id, plan string, memberCeiling int) error {
	res, err := r.db.Exec(`UPDATE organizations SET plan = ?, member_ceiling = ?, updated_at = ? WHERE id = ?`,
		plan, memberCeiling, r.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update organization entitlement: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("organization %q: %w", id, ErrOrganizationNotFound)
	}
	return nil
}

// ListOrganizations returns all organizations ordered by ID.
func (r *Registry) ListOrganizations() ([]*Organization, error) {
	rows, err := r.db.Query(`SELECT ` + organizationColumns + ` FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// CountByPlan returns a map of plan -> organization count.
func (r *Registry) CountByPlan() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT plan, COUNT(*) FROM organizations GROUP BY plan`)
	if err != nil {
		return nil, fmt.Errorf("count organizations by plan: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var plan string
		var count int
		if err := rows.Scan(&plan, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[plan] = count
	}
	return counts, rows.Err()
}

// LinkCustomer records which organization a Stripe customer paid for.
func (r *Registry) LinkCustomer(customerID, orgID string) error {
	_, err := r.db.Exec(`
		INSERT INTO stripe_customers (customer_id, org_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET org_id = excluded.org_id, updated_at = excluded.updated_at`,
		customerID, orgID, r.now().UnixNano())
	if err != nil {
		return fmt.Errorf("link stripe customer: %w", err)
	}
	return nil
}

// OrganizationForCustomer returns the organization linked to a Stripe
// customer, or "" when the customer is unknown.
func (r *Registry) OrganizationForCustomer(customerID string) (string, error) {
	var orgID string
	err := r.db.QueryRow(`SELECT org_id FROM stripe_customers WHERE customer_id = ?`, customerID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup stripe customer: %w", err)
	}
	return orgID, nil
}

func scanOrganization(s scanner) (*Organization, error) {
	var o Organization
	var createdAt, updatedAt int64
	err := s.Scan(&o.ID, &o.Name, &o.Plan, &o.RoleSet, &o.MemberCeiling, &o.MembersCount, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	o.CreatedAt = time.Unix(0, createdAt).UTC()
	o.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &o, nil
}
