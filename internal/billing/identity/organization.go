// Package identity reads and writes organization records held by the
// identity provider, and verifies its session tokens.
package identity

import (
	"context"

	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

// Organization is the entitlement-relevant view of a tenant organization.
type Organization struct {
	ID            string
	Name          string
	Plan          entitlements.PlanTier // cached in metadata; lowest tier when missing
	RoleSet       entitlements.RoleSet
	MemberCeiling entitlements.MemberCeiling
	MembersCount  int
}

// EntitlementUpdate is written as one overwrite: plan and ceiling never
// change independently.
type EntitlementUpdate struct {
	Plan          entitlements.PlanTier
	MemberCeiling entitlements.MemberCeiling
}

// OrganizationStore is the organization read/write contract.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	UpdateEntitlement(ctx context.Context, id string, update EntitlementUpdate) error
}

func planFromMetadata(raw string) entitlements.PlanTier {
	if p, ok := entitlements.ParsePlanTier(raw); ok {
		return p
	}
	return entitlements.LowestPlan
}
