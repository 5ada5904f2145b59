package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/registry"
	cerrors "github.com/mtliendo/circular-dashboard-design/internal/errors"
	"github.com/mtliendo/circular-dashboard-design/pkg/entitlements"
)

// LocalStore serves organizations from the billing registry. It stands in
// for the identity provider when no Clerk key is configured.
type LocalStore struct {
	reg *registry.Registry
}

// NewLocalStore returns a LocalStore over reg.
func NewLocalStore(reg *registry.Registry) *LocalStore {
	return &LocalStore{reg: reg}
}

func (s *LocalStore) GetOrganization(_ context.Context, id string) (*Organization, error) {
	o, err := s.reg.GetOrganization(id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("organization %q: %w", id, cerrors.ErrNotFound)
	}
	return &Organization{
		ID:            o.ID,
		Name:          o.Name,
		Plan:          planFromMetadata(o.Plan),
		RoleSet:       entitlements.ParseRoleSet(o.RoleSet),
		MemberCeiling: entitlements.MemberCeiling(o.MemberCeiling),
		MembersCount:  o.MembersCount,
	}, nil
}

func (s *LocalStore) UpdateEntitlement(_ context.Context, id string, update EntitlementUpdate) error {
	err := s.reg.UpdateEntitlement(id, string(update.Plan), int(update.MemberCeiling))
	if err == nil {
		return nil
	}
	upErr := cerrors.NewUpstreamError("update_organization", id, err)
	if errors.Is(err, registry.ErrOrganizationNotFound) {
		return upErr.WithStatusCode(404)
	}
	upErr.Retryable = true
	return upErr
}
