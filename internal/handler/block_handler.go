package handler

import (
	"net/http"

	"debtapproval/internal/middleware"
	"debtapproval/internal/model"
	"debtapproval/internal/service"
	"debtapproval/pkg/pagination"
	"debtapproval/pkg/response"

	"github.com/gin-gonic/gin"
)

type BlockHandler struct {
	blocks service.BlockService
}

func NewBlockHandler(blocks service.BlockService) *BlockHandler {
	return &BlockHandler{blocks: blocks}
}

func (h *BlockHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/blocks")
	group.Use(middleware.RequireCapability(model.CapManageBlocks))
	{
		group.GET("", h.ListBlocks)
		group.POST("", h.Block)
		group.POST("/:id/unblock", h.Unblock)
	}
}

// ListBlocks returns blocked units
// @Summary      List blocks
// @Tags         blocks
// @Security     BearerAuth
// @Produce      json
// @Param        active  query     bool  false  "Only blocks still in force (default true)"
// @Param        page    query     int   false  "Page number (default 1)"
// @Param        limit   query     int   false  "Items per page (default 20)"
// @Success      200     {object}  response.Response{data=pagination.Page[model.BlockedItem]}
// @Router       /api/blocks [get]
func (h *BlockHandler) ListBlocks(c *gin.Context) {
	p := pagination.Parse(c)
	activeOnly := c.DefaultQuery("active", "true") != "false"
	items, total, err := h.blocks.List(c.Request.Context(), activeOnly, p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(items, total, p)))
}

// Block stops routing and new requests on a brand, branch or agent
// @Summary      Block unit
// @Tags         blocks
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body  body      service.BlockInput  true  "Unit and reason"
// @Success      201   {object}  response.Response{data=model.BlockedItem}
// @Failure      400   {object}  response.Response
// @Router       /api/blocks [post]
func (h *BlockHandler) Block(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in service.BlockInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "scope_kind (brand, branch or agent), scope_id and reason are required.")
		return
	}
	item, err := h.blocks.Block(c.Request.Context(), id.UserID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, item))
}

// Unblock lifts a block
// @Summary      Unblock unit
// @Tags         blocks
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Block id"
// @Success      200  {object}  response.Response{data=model.BlockedItem}
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/blocks/{id}/unblock [post]
func (h *BlockHandler) Unblock(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	blockID, ok := paramID(c)
	if !ok {
		return
	}
	item, err := h.blocks.Unblock(c.Request.Context(), id.UserID, blockID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, item))
}
