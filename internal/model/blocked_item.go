package model

import (
	"time"

	"github.com/google/uuid"
)

// BlockedItem stops new requests and approver routing against a scope unit while active.
type BlockedItem struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ScopeKind   ScopeKind  `gorm:"type:varchar(10);not null;index:idx_blocked_scope" json:"scope_kind"`
	ScopeID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_blocked_scope" json:"scope_id"`
	Reason      string     `gorm:"type:text" json:"reason"`
	Active      bool       `gorm:"not null;default:true;index" json:"active"`
	BlockedBy   *uuid.UUID `gorm:"type:uuid" json:"blocked_by"`
	BlockedAt   time.Time  `json:"blocked_at"`
	UnblockedBy *uuid.UUID `gorm:"type:uuid" json:"unblocked_by"`
	UnblockedAt *time.Time `json:"unblocked_at"`
}

// Ref returns the blocked unit.
func (b BlockedItem) Ref() ScopeRef {
	return ScopeRef{Kind: b.ScopeKind, ID: b.ScopeID}
}
