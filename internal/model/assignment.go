package model

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentCursor remembers when a user was last made primary assignee for a (scope, role) pair.
type AssignmentCursor struct {
	ScopeKind      ScopeKind `gorm:"type:varchar(10);primaryKey" json:"scope_kind"`
	ScopeID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"scope_id"`
	Role           Role      `gorm:"type:varchar(30);primaryKey" json:"role"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	LastAssignedAt time.Time `gorm:"not null" json:"last_assigned_at"`
}
