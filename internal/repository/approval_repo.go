package repository

import (
	"context"
	"errors"
	"fmt"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalRecordRepository is append-only: records are never updated or deleted.
type ApprovalRecordRepository interface {
	Create(ctx context.Context, rec *model.ApprovalRecord) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalRecord, error)
	ExistsForStage(ctx context.Context, requestID uuid.UUID, role model.Role) (bool, error)
}

type approvalRecordRepository struct {
	db *gorm.DB
}

func NewApprovalRecordRepository(db *gorm.DB) ApprovalRecordRepository {
	return &approvalRecordRepository{db: db}
}

// Create relies on the (request_id, approval_type) unique index; a duplicate stage is a stale action.
func (r *approvalRecordRepository) Create(ctx context.Context, rec *model.ApprovalRecord) error {
	if err := GetDB(ctx, r.db).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.StaleState("This stage has already been processed.")
		}
		return fmt.Errorf("create approval record: %w", err)
	}
	return nil
}

func (r *approvalRecordRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalRecord, error) {
	var records []model.ApprovalRecord
	if err := GetDB(ctx, r.db).Preload("Approver").
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list approval records: %w", err)
	}
	return records, nil
}

func (r *approvalRecordRepository) ExistsForStage(ctx context.Context, requestID uuid.UUID, role model.Role) (bool, error) {
	var n int64
	if err := GetDB(ctx, r.db).Model(&model.ApprovalRecord{}).
		Where("request_id = ? AND approval_type = ?", requestID, role).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("count approval records: %w", err)
	}
	return n > 0, nil
}
