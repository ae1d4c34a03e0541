package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"debtapproval/internal/apperror"
	"debtapproval/internal/middleware"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"
	"debtapproval/internal/service"
	"debtapproval/internal/workflow"
	"debtapproval/pkg/pagination"
	"debtapproval/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RequestHandler struct {
	lifecycle service.LifecycleService
}

func NewRequestHandler(lifecycle service.LifecycleService) *RequestHandler {
	return &RequestHandler{lifecycle: lifecycle}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	{
		requests.GET("", h.ListRequests)
		requests.GET("/:id", h.GetRequest)
		requests.GET("/:id/audience", middleware.RequireCapability(model.CapViewAll), h.GetAudience)
		requests.POST("/:id/approve", h.act(workflow.ActionApprove))
		requests.POST("/:id/mark-debt", h.act(workflow.ActionMarkDebt))
		requests.POST("/:id/reject", h.act(workflow.ActionReject))
		requests.POST("/:id/cancel", h.act(workflow.ActionCancel))
	}
}

// ListRequests returns requests visible to the caller
// @Summary      List requests
// @Description  Lists requests newest first. Callers without view_all only see their own.
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        status     query     string  false  "Comma separated statuses"
// @Param        type       query     string  false  "NORMAL or SET"
// @Param        period     query     string  false  "YYYY-MM"
// @Param        brand_id   query     string  false  "Brand id"
// @Param        branch_id  query     string  false  "Branch id"
// @Param        agent_id   query     string  false  "Agent id"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Items per page (default 20)"
// @Success      200        {object}  response.Response{data=pagination.Page[model.Request]}
// @Failure      400        {object}  response.Response
// @Router       /api/requests [get]
func (h *RequestHandler) ListRequests(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	p := pagination.Parse(c)
	filter := repository.RequestFilter{
		Type:   model.RequestType(c.Query("type")),
		Period: c.Query("period"),
		Page:   p.Page,
		Limit:  p.Limit,
	}
	if filter.Type != "" && !filter.Type.Valid() {
		badRequest(c, "Unknown request type.")
		return
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, model.RequestStatus(strings.TrimSpace(s)))
		}
	}
	for name, dst := range map[string]**uuid.UUID{
		"brand_id":  &filter.BrandID,
		"branch_id": &filter.BranchID,
		"agent_id":  &filter.AgentID,
	} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "Invalid "+name+".")
			return
		}
		*dst = &v
	}
	if !id.Role.Can(model.CapViewAll) && !id.Role.Can(model.CapCancelAny) {
		filter.CreatorID = &id.UserID
	}

	requests, total, err := h.lifecycle.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(requests, total, p)))
}

// GetRequest returns one request with its approval records
// @Summary      Get request
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request id"
// @Success      200  {object}  response.Response{data=service.RequestDetail}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id} [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	reqID, ok := paramID(c)
	if !ok {
		return
	}
	detail, err := h.lifecycle.Get(c.Request.Context(), reqID)
	if err != nil {
		respondError(c, err)
		return
	}
	if detail.Request.CreatorID != id.UserID && !id.Role.Can(model.CapViewAll) && !id.Role.Can(model.CapCancelAny) {
		respondError(c, apperror.NotEligible("You can only view your own requests."))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}

// GetAudience returns who may act on the request's current stage
// @Summary      Get stage audience
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request id"
// @Success      200  {object}  response.Response{data=routing.Audience}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id}/audience [get]
func (h *RequestHandler) GetAudience(c *gin.Context) {
	reqID, ok := paramID(c)
	if !ok {
		return
	}
	aud, err := h.lifecycle.Audience(c.Request.Context(), reqID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, aud))
}

// act builds the handler of one lifecycle action.
// @Summary      Act on a request
// @Description  approve, mark-debt, reject or cancel. expected_status guards against acting on a stale view.
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id    path      string                   true   "Request id"
// @Param        body  body      service.TransitionInput  false  "Expected status and note"
// @Success      200   {object}  response.Response{data=service.ActionResult}
// @Failure      400   {object}  response.Response
// @Failure      403   {object}  response.Response
// @Failure      409   {object}  response.Response
// @Router       /api/requests/{id}/approve [post]
// @Router       /api/requests/{id}/mark-debt [post]
// @Router       /api/requests/{id}/reject [post]
// @Router       /api/requests/{id}/cancel [post]
func (h *RequestHandler) act(action workflow.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		reqID, ok := paramID(c)
		if !ok {
			return
		}
		var in service.TransitionInput
		if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "Invalid request body.")
			return
		}
		in.RequestID, in.ActorID, in.Action = reqID, id.UserID, action

		result, err := h.lifecycle.Transition(c.Request.Context(), in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
	}
}
