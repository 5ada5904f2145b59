package entitlements

import "strings"

// Role is a member's role inside an organization.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleMember    Role = "member"
	RoleDeveloper Role = "developer"
	RoleBilling   Role = "billing"
)

// RoleSet is the set of roles an organization has configured.
type RoleSet string

const (
	// RoleSetDefault carries admin and member.
	RoleSetDefault RoleSet = "default"
	// RoleSetEnterprise adds the developer and billing roles.
	RoleSetEnterprise RoleSet = "enterprise"
)

var roleSetRoles = map[RoleSet][]Role{
	RoleSetDefault:    {RoleAdmin, RoleMember},
	RoleSetEnterprise: {RoleAdmin, RoleMember, RoleDeveloper, RoleBilling},
}

// ParseRole accepts plain role keys ("admin") as well as identity-provider
// keys ("org:admin"). Unknown values return false.
func ParseRole(raw string) (Role, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "org:")
	switch r := Role(s); r {
	case RoleAdmin, RoleMember, RoleDeveloper, RoleBilling:
		return r, true
	default:
		return "", false
	}
}

// ParseRoleSet resolves a role-set key. Anything unrecognised falls back to
// the smaller default set.
func ParseRoleSet(raw string) RoleSet {
	switch rs := RoleSet(strings.ToLower(strings.TrimSpace(raw))); rs {
	case RoleSetEnterprise:
		return rs
	default:
		return RoleSetDefault
	}
}

// Normalized maps the zero value and unrecognised keys to RoleSetDefault.
func (rs RoleSet) Normalized() RoleSet {
	return ParseRoleSet(string(rs))
}

// Roles returns the roles valid in rs.
func (rs RoleSet) Roles() []Role {
	roles := roleSetRoles[rs.Normalized()]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// Contains reports whether r is a valid role in rs.
func (rs RoleSet) Contains(r Role) bool {
	for _, candidate := range roleSetRoles[rs.Normalized()] {
		if candidate == r {
			return true
		}
	}
	return false
}

// Member is the caller's position inside an organization: their role and the
// role-set the organization currently has configured.
type Member struct {
	Role    Role    `json:"role"`
	RoleSet RoleSet `json:"role_set"`
}

// Degraded reports whether the member's role is not part of the organization's
// role-set, which happens after a role-set downgrade.
func (m Member) Degraded() bool {
	return !m.RoleSet.Contains(m.Role)
}
