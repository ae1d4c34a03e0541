package handler

import (
	"io"
	"net/http"

	"debtapproval/internal/conversation"
	"debtapproval/pkg/response"

	"github.com/gin-gonic/gin"
)

const defaultConversationContext = "web"

type ConversationHandler struct {
	machine        *conversation.Machine
	maxUploadBytes int64
}

func NewConversationHandler(machine *conversation.Machine, maxUploadBytes int64) *ConversationHandler {
	return &ConversationHandler{machine: machine, maxUploadBytes: maxUploadBytes}
}

func (h *ConversationHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/conversation")
	{
		group.GET("", h.Current)
		group.POST("/events", h.PostEvent)
		group.POST("/upload", h.Upload)
		group.DELETE("", h.Discard)
	}
}

// key scopes the wizard to the caller and the context query parameter.
func (h *ConversationHandler) key(c *gin.Context) (conversation.Key, bool) {
	id, ok := identity(c)
	if !ok {
		return conversation.Key{}, false
	}
	return conversation.Key{ActorID: id.UserID, Context: c.DefaultQuery("context", defaultConversationContext)}, true
}

func (h *ConversationHandler) reply(c *gin.Context, r *conversation.Reply, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, r))
}

// Current repeats the question of the caller's draft
// @Summary      Current wizard question
// @Tags         conversation
// @Security     BearerAuth
// @Produce      json
// @Param        context  query     string  false  "Wizard context (default web)"
// @Success      200      {object}  response.Response{data=conversation.Reply}
// @Router       /api/conversation [get]
func (h *ConversationHandler) Current(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}
	r, err := h.machine.Current(c.Request.Context(), key)
	h.reply(c, r, err)
}

// PostEvent feeds one start, select or text event to the wizard
// @Summary      Send wizard event
// @Description  Validation problems come back as 200 with a warning and the repeated question.
// @Tags         conversation
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        context  query     string              false  "Wizard context (default web)"
// @Param        event    body      conversation.Input  true   "Event"
// @Success      200      {object}  response.Response{data=conversation.Reply}
// @Failure      400      {object}  response.Response
// @Router       /api/conversation/events [post]
func (h *ConversationHandler) PostEvent(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}
	var in conversation.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid event.")
		return
	}
	if in.Kind == conversation.InputFile {
		badRequest(c, "Send files to /api/conversation/upload.")
		return
	}
	r, err := h.machine.Handle(c.Request.Context(), key, in)
	h.reply(c, r, err)
}

// Upload feeds a spreadsheet to the wizard
// @Summary      Upload spreadsheet
// @Tags         conversation
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        context  query     string  false  "Wizard context (default web)"
// @Param        file     formData  file    true   "Debt detail table (.xlsx or .csv)"
// @Success      200      {object}  response.Response{data=conversation.Reply}
// @Failure      400      {object}  response.Response
// @Failure      413      {object}  response.Response
// @Router       /api/conversation/upload [post]
func (h *ConversationHandler) Upload(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "Attach the spreadsheet as the file field.")
		return
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, response.Error(http.StatusRequestEntityTooLarge, "The file is too large."))
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "The file could not be read.")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, "The file could not be read.")
		return
	}

	r, err := h.machine.Handle(c.Request.Context(), key, conversation.Input{
		Kind:     conversation.InputFile,
		FileName: fh.Filename,
		Data:     data,
	})
	h.reply(c, r, err)
}

// Discard drops the caller's draft
// @Summary      Discard draft
// @Tags         conversation
// @Security     BearerAuth
// @Param        context  query  string  false  "Wizard context (default web)"
// @Success      204
// @Router       /api/conversation [delete]
func (h *ConversationHandler) Discard(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}
	h.machine.Discard(key)
	c.Status(http.StatusNoContent)
}
