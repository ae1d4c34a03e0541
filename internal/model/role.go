package model

import "fmt"

// Role is the closed set of roles a user can hold.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCreator    Role = "creator"
	RoleLeader     Role = "leader"
	RoleCashier    Role = "cashier"
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
)

// Capability is a single permission derived from a role.
type Capability string

const (
	CapCreateRequest     Capability = "create_request"
	CapApproveLeader     Capability = "approve_leader"
	CapApproveCashier    Capability = "approve_cashier"
	CapApproveOperator   Capability = "approve_operator"
	CapApproveSupervisor Capability = "approve_supervisor"
	CapCancelAny         Capability = "cancel_any"
	CapManageBlocks      Capability = "manage_blocks"
	CapViewAll           Capability = "view_all"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin:      {CapCancelAny, CapManageBlocks, CapViewAll},
	RoleCreator:    {CapCreateRequest},
	RoleLeader:     {CapApproveLeader, CapViewAll},
	RoleCashier:    {CapApproveCashier, CapViewAll},
	RoleOperator:   {CapApproveOperator, CapViewAll},
	RoleSupervisor: {CapApproveSupervisor, CapManageBlocks, CapViewAll},
}

// AllRoles lists every valid role in a stable order.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleCreator, RoleLeader, RoleCashier, RoleOperator, RoleSupervisor}
}

// ParseRole converts a raw string (JWT claim, DB value) into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleCapabilities[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// CapabilitiesOf is the single place where roles are resolved to capabilities.
func CapabilitiesOf(r Role) []Capability {
	caps := roleCapabilities[r]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// Can reports whether role r grants capability c.
func (r Role) Can(c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// ApprovalCapability returns the capability needed to act at the stage owned by r.
func ApprovalCapability(r Role) (Capability, bool) {
	switch r {
	case RoleLeader:
		return CapApproveLeader, true
	case RoleCashier:
		return CapApproveCashier, true
	case RoleOperator:
		return CapApproveOperator, true
	case RoleSupervisor:
		return CapApproveSupervisor, true
	default:
		return "", false
	}
}
