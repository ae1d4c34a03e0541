package repository

import (
	"context"
	"fmt"
	"time"

	"debtapproval/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StatusCount is one grouped row of request counts.
type StatusCount struct {
	BrandID uuid.UUID
	Type    model.RequestType
	Status  model.RequestStatus
	Count   int
}

type StatisticsRepository interface {
	CountByStatus(ctx context.Context, period string, start, end time.Time) ([]StatusCount, error)
}

type statisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

// CountByStatus groups live requests by brand, type and status. An empty period means all periods.
func (r *statisticsRepository) CountByStatus(ctx context.Context, period string, start, end time.Time) ([]StatusCount, error) {
	var rows []StatusCount
	q := GetDB(ctx, r.db).Model(&model.Request{}).
		Select("brand_id, type, status, COUNT(*) as count").
		Where("created_at >= ? AND created_at <= ?", start, end)
	if period != "" {
		q = q.Where("period = ?", period)
	}
	if err := q.Group("brand_id, type, status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count requests by status: %w", err)
	}
	return rows, nil
}
