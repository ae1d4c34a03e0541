package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateRequest     = "CREATE_REQUEST"
	ActionApproveRequest    = "APPROVE_REQUEST"
	ActionMarkDebt          = "MARK_DEBT"
	ActionRejectRequest     = "REJECT_REQUEST"
	ActionCancelRequest     = "CANCEL_REQUEST"
	ActionFinalizeRequest   = "FINALIZE_REQUEST"
	ActionRouteRequest      = "ROUTE_REQUEST"
	ActionNoApprovers       = "NO_APPROVERS"
	ActionForceReleaseLock  = "FORCE_RELEASE_LOCK"
	ActionArchiveRequest    = "ARCHIVE_REQUEST"
	ActionBlockScope        = "BLOCK_SCOPE"
	ActionUnblockScope      = "UNBLOCK_SCOPE"
	ActionTransitionFailure = "TRANSITION_FAILURE"
)

// AuditLog tracks Who, What, and When for request lifecycle changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for the background sweeper
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // request id, block id
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // request uid, scope label
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
