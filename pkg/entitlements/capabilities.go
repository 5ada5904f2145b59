package entitlements

import "strings"

// Capability is a named permission derived from plan tier and member role.
// The only values are the package-level variables below; the zero value
// grants nothing.
type Capability struct {
	bit uint8
	key string
}

// Key returns the stable wire name of the capability.
func (c Capability) Key() string { return c.key }

func (c Capability) String() string { return c.key }

var (
	// Tier-gated: top plan only, any role.
	ViewBilling   = Capability{bit: 1 << 0, key: "view_billing"}
	ViewDeveloper = Capability{bit: 1 << 1, key: "view_developer"}

	// Role-gated: administrators on every plan.
	CreateProject = Capability{bit: 1 << 2, key: "create_project"}
	DeleteProject = Capability{bit: 1 << 3, key: "delete_project"}

	// Compound: top plan, administrator, and either the enterprise role-set
	// or the capability's dedicated role.
	ManageBilling   = Capability{bit: 1 << 4, key: "manage_billing"}
	ManageDeveloper = Capability{bit: 1 << 5, key: "manage_developer"}
)

// AllCapabilities lists every capability in display order.
var AllCapabilities = []Capability{
	ViewBilling,
	ViewDeveloper,
	CreateProject,
	DeleteProject,
	ManageBilling,
	ManageDeveloper,
}

// ParseCapability resolves a wire name. It exists for transport boundaries;
// Go callers use the variables directly.
func ParseCapability(key string) (Capability, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, c := range AllCapabilities {
		if c.key == key {
			return c, true
		}
	}
	return Capability{}, false
}

// CapabilitySet is an immutable set of capabilities.
type CapabilitySet uint8

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return c.bit != 0 && uint8(s)&c.bit != 0
}

// Keys returns the wire names of the capabilities in the set, in display order.
func (s CapabilitySet) Keys() []string {
	keys := make([]string, 0, len(AllCapabilities))
	for _, c := range AllCapabilities {
		if s.Has(c) {
			keys = append(keys, c.key)
		}
	}
	return keys
}

func (s CapabilitySet) with(c Capability) CapabilitySet {
	return s | CapabilitySet(c.bit)
}

// dedicatedRole is the role that can stand in for the enterprise role-set
// when evaluating a compound capability.
var dedicatedRole = map[Capability]Role{
	ManageBilling:   RoleBilling,
	ManageDeveloper: RoleDeveloper,
}

// Evaluate derives the capability set for a member on a plan tier.
//
// A member whose role is not in the organization's role-set, or whose plan
// tier is outside the enumeration, gets the empty set.
func Evaluate(plan PlanTier, m Member) CapabilitySet {
	if !plan.Valid() || m.Degraded() {
		return 0
	}

	var set CapabilitySet
	topPlan := plan == TopPlan
	admin := m.Role == RoleAdmin

	if topPlan {
		set = set.with(ViewBilling).with(ViewDeveloper)
	}
	if admin {
		set = set.with(CreateProject).with(DeleteProject)
	}
	for _, c := range []Capability{ManageBilling, ManageDeveloper} {
		if topPlan && admin && (m.RoleSet.Normalized() == RoleSetEnterprise || m.Role == dedicatedRole[c]) {
			set = set.with(c)
		}
	}
	return set
}
