package repository

import (
	"context"
	"fmt"

	"debtapproval/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrgRepository reads brands, branches and agents. List methods return active units only.
type OrgRepository interface {
	CreateBrand(ctx context.Context, b *model.Brand) error
	CreateBranch(ctx context.Context, b *model.Branch) error
	CreateAgent(ctx context.Context, a *model.Agent) error
	GetBrand(ctx context.Context, id uuid.UUID) (*model.Brand, error)
	GetBranch(ctx context.Context, id uuid.UUID) (*model.Branch, error)
	GetAgent(ctx context.Context, id uuid.UUID) (*model.Agent, error)
	ListBrands(ctx context.Context) ([]model.Brand, error)
	ListBranches(ctx context.Context, brandID uuid.UUID) ([]model.Branch, error)
	ListAgents(ctx context.Context, branchID uuid.UUID) ([]model.Agent, error)
}

type orgRepository struct {
	db *gorm.DB
}

func NewOrgRepository(db *gorm.DB) OrgRepository {
	return &orgRepository{db: db}
}

func (r *orgRepository) CreateBrand(ctx context.Context, b *model.Brand) error {
	return GetDB(ctx, r.db).Create(b).Error
}

func (r *orgRepository) CreateBranch(ctx context.Context, b *model.Branch) error {
	return GetDB(ctx, r.db).Create(b).Error
}

func (r *orgRepository) CreateAgent(ctx context.Context, a *model.Agent) error {
	return GetDB(ctx, r.db).Create(a).Error
}

func (r *orgRepository) GetBrand(ctx context.Context, id uuid.UUID) (*model.Brand, error) {
	var b model.Brand
	if err := GetDB(ctx, r.db).First(&b, "id = ?", id).Error; err != nil {
		return nil, wrapFind("brand", err)
	}
	return &b, nil
}

func (r *orgRepository) GetBranch(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	var b model.Branch
	if err := GetDB(ctx, r.db).First(&b, "id = ?", id).Error; err != nil {
		return nil, wrapFind("branch", err)
	}
	return &b, nil
}

func (r *orgRepository) GetAgent(ctx context.Context, id uuid.UUID) (*model.Agent, error) {
	var a model.Agent
	if err := GetDB(ctx, r.db).First(&a, "id = ?", id).Error; err != nil {
		return nil, wrapFind("agent", err)
	}
	return &a, nil
}

func (r *orgRepository) ListBrands(ctx context.Context) ([]model.Brand, error) {
	var brands []model.Brand
	if err := GetDB(ctx, r.db).Where("active = ?", true).Order("name ASC").Find(&brands).Error; err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	return brands, nil
}

func (r *orgRepository) ListBranches(ctx context.Context, brandID uuid.UUID) ([]model.Branch, error) {
	var branches []model.Branch
	if err := GetDB(ctx, r.db).Where("brand_id = ? AND active = ?", brandID, true).Order("name ASC").Find(&branches).Error; err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}

func (r *orgRepository) ListAgents(ctx context.Context, branchID uuid.UUID) ([]model.Agent, error) {
	var agents []model.Agent
	if err := GetDB(ctx, r.db).Where("branch_id = ? AND active = ?", branchID, true).Order("name ASC").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}
