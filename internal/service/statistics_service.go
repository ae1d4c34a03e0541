package service

import (
	"context"
	"sort"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"
	"debtapproval/internal/workflow"

	"github.com/google/uuid"
)

type StatisticsService interface {
	GetStatistics(ctx context.Context, period string, startDate, endDate time.Time) (model.StatisticsResponse, error)
}

type statisticsService struct {
	stats repository.StatisticsRepository
	org   repository.OrgRepository
}

func NewStatisticsService(repos *repository.Repositories) StatisticsService {
	return &statisticsService{stats: repos.Statistics, org: repos.Org}
}

func emptyBuckets() map[string]int {
	out := make(map[string]int, len(workflow.Buckets()))
	for _, b := range workflow.Buckets() {
		out[string(b)] = 0
	}
	return out
}

// GetStatistics counts requests per canonical bucket, overall and per brand.
// Every status goes through workflow.Classify so all views agree.
func (s *statisticsService) GetStatistics(ctx context.Context, period string, startDate, endDate time.Time) (model.StatisticsResponse, error) {
	response := model.StatisticsResponse{
		Period:             period,
		ByBucket:           emptyBuckets(),
		ByBrand:            []model.BrandBreakdown{},
		TimeRangeStartDate: startDate,
		TimeRangeEndDate:   endDate,
	}

	rows, err := s.stats.CountByStatus(ctx, period, startDate, endDate)
	if err != nil {
		return response, apperror.Internal(err)
	}

	brands := map[uuid.UUID]*model.BrandBreakdown{}
	for _, row := range rows {
		bucket := string(workflow.Classify(row.Type, row.Status))
		response.Total += row.Count
		response.ByBucket[bucket] += row.Count

		b, ok := brands[row.BrandID]
		if !ok {
			b = &model.BrandBreakdown{BrandID: row.BrandID.String(), ByBucket: emptyBuckets()}
			if brand, err := s.org.GetBrand(ctx, row.BrandID); err == nil {
				b.BrandName = brand.Name
			}
			brands[row.BrandID] = b
		}
		b.Total += row.Count
		b.ByBucket[bucket] += row.Count
	}

	for _, b := range brands {
		response.ByBrand = append(response.ByBrand, *b)
	}
	sort.Slice(response.ByBrand, func(i, j int) bool {
		if response.ByBrand[i].Total != response.ByBrand[j].Total {
			return response.ByBrand[i].Total > response.ByBrand[j].Total
		}
		return response.ByBrand[i].BrandName < response.ByBrand[j].BrandName
	})
	return response, nil
}
