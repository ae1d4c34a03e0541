package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestType selects the flow graph a request follows.
type RequestType string

const (
	RequestTypeNormal RequestType = "NORMAL"
	RequestTypeSet    RequestType = "SET"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	return t == RequestTypeNormal || t == RequestTypeSet
}

// RequestStatus enum constants
type RequestStatus string

const (
	StatusPendingApproval      RequestStatus = "PENDING_APPROVAL"
	StatusSetPending           RequestStatus = "SET_PENDING"
	StatusApprovedByLeader     RequestStatus = "APPROVED_BY_LEADER"
	StatusApprovedByCashier    RequestStatus = "APPROVED_BY_CASHIER"
	StatusApprovedByOperator   RequestStatus = "APPROVED_BY_OPERATOR"
	StatusApprovedBySupervisor RequestStatus = "APPROVED_BY_SUPERVISOR"
	StatusFinalApproved        RequestStatus = "FINAL_APPROVED"
	StatusDebtFound            RequestStatus = "DEBT_FOUND"
	StatusCancelled            RequestStatus = "CANCELLED"
	StatusRejected             RequestStatus = "REJECTED"
	StatusRejectedByLeader     RequestStatus = "REJECTED_BY_LEADER"
)

// Request is a monthly debt write-off (NORMAL) or extension (SET) request.
// Status only changes through the lifecycle service; Locked guards in-flight transitions.
type Request struct {
	ID                  uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UID                 string               `gorm:"type:varchar(30);uniqueIndex;not null" json:"uid"`
	Type                RequestType          `gorm:"type:varchar(10);not null;index" json:"type"`
	Scope               `gorm:"embedded"`
	Status              RequestStatus        `gorm:"type:varchar(30);not null;index" json:"status"`
	CreatorID           uuid.UUID            `gorm:"type:uuid;not null;index" json:"creator_id"`
	Creator             *User                `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	Period              string               `gorm:"type:varchar(7);not null;index" json:"period"` // YYYY-MM
	ReportText          string               `gorm:"type:text" json:"report_text"`
	ExtraInfo           string               `gorm:"type:text" json:"extra_info"`
	Total               decimal.Decimal      `gorm:"type:decimal(18,2);not null;default:0" json:"total"`
	Snapshot            *SpreadsheetSnapshot `gorm:"type:jsonb" json:"snapshot,omitempty"`
	Locked              bool                 `gorm:"not null;default:false;index" json:"locked"`
	LockedBy            *uuid.UUID           `gorm:"type:uuid" json:"locked_by"`
	LockedAt            *time.Time           `json:"locked_at"`
	CurrentApproverID   *uuid.UUID           `gorm:"type:uuid;index" json:"current_approver_id"`
	CurrentApproverType *Role                `gorm:"type:varchar(30)" json:"current_approver_type"`
	CreatedAt           time.Time            `gorm:"index" json:"created_at"`
	UpdatedAt           time.Time            `gorm:"index" json:"updated_at"`
}

// ArchivedRequest holds requests moved out of the live table after reaching a terminal status.
type ArchivedRequest struct {
	Request
	ArchivedAt time.Time `gorm:"index" json:"archived_at"`
}

func (ArchivedRequest) TableName() string {
	return "archived_requests"
}
