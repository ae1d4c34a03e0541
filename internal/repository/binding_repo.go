package repository

import (
	"context"
	"fmt"

	"debtapproval/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BindingRepository reads the unified role/user scope bindings. Rows are authored by administration.
type BindingRepository interface {
	Create(ctx context.Context, b *model.RoleScopeBinding) error
	ListByRole(ctx context.Context, role model.Role) ([]model.RoleScopeBinding, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.RoleScopeBinding, error)
}

type bindingRepository struct {
	db *gorm.DB
}

func NewBindingRepository(db *gorm.DB) BindingRepository {
	return &bindingRepository{db: db}
}

func (r *bindingRepository) Create(ctx context.Context, b *model.RoleScopeBinding) error {
	if err := GetDB(ctx, r.db).Create(b).Error; err != nil {
		return fmt.Errorf("create binding: %w", err)
	}
	return nil
}

func (r *bindingRepository) ListByRole(ctx context.Context, role model.Role) ([]model.RoleScopeBinding, error) {
	var bindings []model.RoleScopeBinding
	if err := GetDB(ctx, r.db).Where("role = ?", role).Order("created_at ASC").Find(&bindings).Error; err != nil {
		return nil, fmt.Errorf("list bindings for role %s: %w", role, err)
	}
	return bindings, nil
}

func (r *bindingRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.RoleScopeBinding, error) {
	var bindings []model.RoleScopeBinding
	if err := GetDB(ctx, r.db).Where("user_id = ?", userID).Order("created_at ASC").Find(&bindings).Error; err != nil {
		return nil, fmt.Errorf("list bindings for user: %w", err)
	}
	return bindings, nil
}
