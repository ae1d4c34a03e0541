package model

import "time"

// StatisticsResponse aggregates request counts per canonical bucket
type StatisticsResponse struct {
	Period             string           `json:"period,omitempty"`
	Total              int              `json:"total"`
	ByBucket           map[string]int   `json:"by_bucket"`
	ByBrand            []BrandBreakdown `json:"by_brand"`
	TimeRangeStartDate time.Time        `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time        `json:"time_range_end_date"`
}

// BrandBreakdown is the per-brand slice of the statistics
type BrandBreakdown struct {
	BrandID   string         `json:"brand_id"`
	BrandName string         `json:"brand_name"`
	Total     int            `json:"total"`
	ByBucket  map[string]int `json:"by_bucket"`
}
