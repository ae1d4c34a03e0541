package model

import (
	"time"

	"github.com/google/uuid"
)

// BindingSource tags where a binding row came from.
type BindingSource string

const (
	SourceAssignment BindingSource = "assignment" // legacy direct assignment
	SourceBinding    BindingSource = "binding"    // generic user scope binding
	SourceRole       BindingSource = "role"       // role-wide binding
	SourceFallback   BindingSource = "fallback"   // no bindings for the role at all
)

// RoleScopeBinding restricts a user (direct) or every holder of a role (role-wide, UserID nil)
// to a scope unit. A role with no bindings at all is unrestricted.
type RoleScopeBinding struct {
	ID        uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    *uuid.UUID    `gorm:"type:uuid;index" json:"user_id"`
	Role      Role          `gorm:"type:varchar(30);not null;index" json:"role"`
	ScopeKind ScopeKind     `gorm:"type:varchar(10);not null" json:"scope_kind"`
	ScopeID   uuid.UUID     `gorm:"type:uuid;not null;index" json:"scope_id"`
	Source    BindingSource `gorm:"type:varchar(20);not null;default:'binding'" json:"source"`
	CreatedAt time.Time     `json:"created_at"`
}

// IsRoleWide reports whether the binding applies to every holder of the role.
func (b RoleScopeBinding) IsRoleWide() bool {
	return b.UserID == nil
}

// Ref returns the unit the binding points at.
func (b RoleScopeBinding) Ref() ScopeRef {
	return ScopeRef{Kind: b.ScopeKind, ID: b.ScopeID}
}
