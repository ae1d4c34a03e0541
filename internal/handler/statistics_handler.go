package handler

import (
	"net/http"
	"time"

	"debtapproval/internal/middleware"
	"debtapproval/internal/model"
	"debtapproval/internal/service"
	"debtapproval/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	statisticsService service.StatisticsService
}

func NewStatisticsHandler(statisticsService service.StatisticsService) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	statsGroup := router.Group("/api/statistics")
	{
		statsGroup.GET("", middleware.RequireCapability(model.CapViewAll), h.GetStatistics)
	}
}

// @Summary      Get request statistics
// @Description  Counts requests per canonical bucket, overall and per brand
// @Tags         Statistics
// @Produce      json
// @Param        period     query string false "Reporting month (YYYY-MM)"
// @Param        start_date query string false "Start Date (RFC3339)"
// @Param        end_date   query string false "End Date (RFC3339)"
// @Success      200 {object} response.Response{data=model.StatisticsResponse}
// @Failure      400 {object} response.Response "Invalid date format"
// @Failure      401 {object} response.Response "Unauthorized"
// @Security     BearerAuth
// @Router       /api/statistics [get]
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	period := c.Query("period")
	if period != "" {
		if _, err := time.Parse("2006-01", period); err != nil {
			badRequest(c, "invalid period format, expected YYYY-MM")
			return
		}
	}

	// Default to the current month, or to everything up to now when a period is given
	now := time.Now()
	startDate := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if period != "" {
		startDate = time.Time{}
	}
	endDate := now

	var err error
	if s := c.Query("start_date"); s != "" {
		if startDate, err = time.Parse(time.RFC3339, s); err != nil {
			badRequest(c, "invalid start_date format, expected RFC3339")
			return
		}
	}
	if s := c.Query("end_date"); s != "" {
		if endDate, err = time.Parse(time.RFC3339, s); err != nil {
			badRequest(c, "invalid end_date format, expected RFC3339")
			return
		}
	}

	stats, err := h.statisticsService.GetStatistics(c.Request.Context(), period, startDate, endDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
