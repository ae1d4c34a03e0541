package handler

import (
	"context"
	"encoding/json"

	"debtapproval/internal/apperror"
	"debtapproval/internal/conversation"
	"debtapproval/internal/middleware"
	"debtapproval/internal/model"
	"debtapproval/internal/service"
	"debtapproval/internal/websocket"
	"debtapproval/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// eventFrame is the data of an "event" frame: a wizard input plus its context.
type eventFrame struct {
	Context string `json:"context"`
	conversation.Input
}

// actionFrame is the data of an "action" frame: a button pressed on an approval prompt.
type actionFrame struct {
	RequestID      uuid.UUID           `json:"request_id"`
	Action         workflow.Action     `json:"action"`
	ExpectedStatus model.RequestStatus `json:"expected_status"`
	Note           string              `json:"note"`
	EvidenceRef    string              `json:"evidence_ref"`
}

// WSHandler serves the push channel and routes inbound frames to the wizard and the lifecycle.
type WSHandler struct {
	hub       *websocket.Hub
	machine   *conversation.Machine
	lifecycle service.LifecycleService
	secret    []byte
}

func NewWSHandler(hub *websocket.Hub, machine *conversation.Machine, lifecycle service.LifecycleService, secret []byte) *WSHandler {
	h := &WSHandler{hub: hub, machine: machine, lifecycle: lifecycle, secret: secret}
	hub.SetDispatcher(h)
	return h
}

func (h *WSHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(h.hub, c, h.secret)
	})
}

func (h *WSHandler) Dispatch(ctx context.Context, id middleware.Identity, frame websocket.Inbound) (interface{}, error) {
	switch frame.Type {
	case websocket.FrameEvent:
		var ev eventFrame
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, apperror.Validation("Event data is not valid.")
		}
		if ev.Kind == conversation.InputFile {
			return nil, apperror.Validation("Upload spreadsheets over HTTP.")
		}
		if ev.Context == "" {
			ev.Context = defaultConversationContext
		}
		return h.machine.Handle(ctx, conversation.Key{ActorID: id.UserID, Context: ev.Context}, ev.Input)
	case websocket.FrameAction:
		var act actionFrame
		if err := json.Unmarshal(frame.Data, &act); err != nil {
			return nil, apperror.Validation("Action data is not valid.")
		}
		return h.lifecycle.Transition(ctx, service.TransitionInput{
			RequestID:      act.RequestID,
			ActorID:        id.UserID,
			Action:         act.Action,
			ExpectedStatus: act.ExpectedStatus,
			Note:           act.Note,
			EvidenceRef:    act.EvidenceRef,
		})
	}
	return nil, apperror.Validation("Unknown frame type.")
}
