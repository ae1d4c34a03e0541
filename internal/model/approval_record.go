package model

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalOutcome is the result an approver recorded at a stage.
type ApprovalOutcome string

const (
	OutcomeApproved   ApprovalOutcome = "approved"
	OutcomeDebtMarked ApprovalOutcome = "debt_marked"
	OutcomeRejected   ApprovalOutcome = "rejected"
	OutcomeCancelled  ApprovalOutcome = "cancelled"
)

// ApprovalRecord is an append-only log entry, one row per accepted action.
// (request_id, approval_type) is unique: each stage acts at most once.
type ApprovalRecord struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_approval_stage" json:"request_id"`
	ApproverID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"approver_id"`
	Approver     *User           `gorm:"foreignKey:ApproverID" json:"approver,omitempty"`
	ApprovalType Role            `gorm:"type:varchar(30);not null;uniqueIndex:idx_approval_stage" json:"approval_type"`
	Outcome      ApprovalOutcome `gorm:"type:varchar(20);not null" json:"outcome"`
	Note         string          `gorm:"type:text" json:"note"`
	EvidenceRef  string          `gorm:"type:varchar(255)" json:"evidence_ref"`
	CreatedAt    time.Time       `gorm:"index" json:"created_at"`
}
