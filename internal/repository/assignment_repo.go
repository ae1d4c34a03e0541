package repository

import (
	"context"
	"fmt"
	"time"

	"debtapproval/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssignmentRepository stores the round-robin memory per (scope, role, user).
type AssignmentRepository interface {
	// LastAssigned returns last_assigned_at for the given users; never-assigned users are absent.
	LastAssigned(ctx context.Context, scope model.ScopeRef, role model.Role, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error)
	Touch(ctx context.Context, scope model.ScopeRef, role model.Role, userID uuid.UUID, at time.Time) error
}

type assignmentRepository struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) LastAssigned(ctx context.Context, scope model.ScopeRef, role model.Role, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	out := make(map[uuid.UUID]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var cursors []model.AssignmentCursor
	if err := GetDB(ctx, r.db).
		Where("scope_kind = ? AND scope_id = ? AND role = ? AND user_id IN ?", scope.Kind, scope.ID, role, userIDs).
		Find(&cursors).Error; err != nil {
		return nil, fmt.Errorf("load assignment cursors: %w", err)
	}
	for _, c := range cursors {
		out[c.UserID] = c.LastAssignedAt
	}
	return out, nil
}

func (r *assignmentRepository) Touch(ctx context.Context, scope model.ScopeRef, role model.Role, userID uuid.UUID, at time.Time) error {
	cursor := model.AssignmentCursor{ScopeKind: scope.Kind, ScopeID: scope.ID, Role: role, UserID: userID, LastAssignedAt: at}
	err := GetDB(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope_kind"}, {Name: "scope_id"}, {Name: "role"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_assigned_at"}),
	}).Create(&cursor).Error
	if err != nil {
		return fmt.Errorf("touch assignment cursor: %w", err)
	}
	return nil
}
