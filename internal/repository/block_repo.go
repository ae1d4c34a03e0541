package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"debtapproval/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BlockRepository interface {
	Create(ctx context.Context, item *model.BlockedItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.BlockedItem, error)
	List(ctx context.Context, activeOnly bool, page, limit int) ([]model.BlockedItem, int64, error)
	// ActiveFor returns the active blocks among refs.
	ActiveFor(ctx context.Context, refs []model.ScopeRef) ([]model.BlockedItem, error)
	Deactivate(ctx context.Context, id uuid.UUID, by uuid.UUID, at time.Time) (bool, error)
}

type blockRepository struct {
	db *gorm.DB
}

func NewBlockRepository(db *gorm.DB) BlockRepository {
	return &blockRepository{db: db}
}

func (r *blockRepository) Create(ctx context.Context, item *model.BlockedItem) error {
	if err := GetDB(ctx, r.db).Create(item).Error; err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

func (r *blockRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.BlockedItem, error) {
	var item model.BlockedItem
	if err := GetDB(ctx, r.db).First(&item, "id = ?", id).Error; err != nil {
		return nil, wrapFind("block", err)
	}
	return &item, nil
}

func (r *blockRepository) List(ctx context.Context, activeOnly bool, page, limit int) ([]model.BlockedItem, int64, error) {
	var items []model.BlockedItem
	var total int64

	scoped := func(q *gorm.DB) *gorm.DB {
		if activeOnly {
			return q.Where("active = ?", true)
		}
		return q
	}

	db := GetDB(ctx, r.db)
	if err := scoped(db.Model(&model.BlockedItem{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count blocks: %w", err)
	}
	offset := (page - 1) * limit
	if err := scoped(db).Order("blocked_at DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("list blocks: %w", err)
	}
	return items, total, nil
}

func (r *blockRepository) ActiveFor(ctx context.Context, refs []model.ScopeRef) ([]model.BlockedItem, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	conds := make([]string, 0, len(refs))
	args := make([]interface{}, 0, 2*len(refs))
	for _, ref := range refs {
		conds = append(conds, "(scope_kind = ? AND scope_id = ?)")
		args = append(args, ref.Kind, ref.ID)
	}
	var items []model.BlockedItem
	if err := GetDB(ctx, r.db).
		Where("active = ?", true).
		Where("("+strings.Join(conds, " OR ")+")", args...).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("find active blocks: %w", err)
	}
	return items, nil
}

func (r *blockRepository) Deactivate(ctx context.Context, id uuid.UUID, by uuid.UUID, at time.Time) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.BlockedItem{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]interface{}{"active": false, "unblocked_by": by, "unblocked_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("unblock: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
