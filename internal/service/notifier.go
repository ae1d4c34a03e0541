package service

import (
	"context"
	"fmt"

	"debtapproval/internal/model"
	"debtapproval/internal/routing"
	"debtapproval/internal/workflow"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	PromptApproval     = "approval"
	PromptReminder     = "reminder"
	PromptStatus       = "status"
	PromptNoApprovers  = "no_approvers"
	PromptConversation = "conversation"
)

// Choice is one action button offered with a prompt.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Prompt is an outbound message to a single user.
type Prompt struct {
	Kind      string              `json:"kind"`
	Text      string              `json:"text"`
	RequestID *uuid.UUID          `json:"request_id,omitempty"`
	Status    model.RequestStatus `json:"status,omitempty"`
	Choices   []Choice            `json:"choices,omitempty"`
}

// Messenger delivers prompts to users. Delivery to an offline user is not an error.
type Messenger interface {
	Send(ctx context.Context, userID uuid.UUID, p Prompt) error
}

// Notifier turns lifecycle events into prompts. Delivery failures are logged, never returned.
type Notifier struct {
	messenger Messenger
	logger    *logrus.Logger
}

func NewNotifier(messenger Messenger, logger *logrus.Logger) *Notifier {
	return &Notifier{messenger: messenger, logger: logger}
}

// ActionChoices lists the actions a stage approver can take on req.
func ActionChoices(req *model.Request) []Choice {
	choices := []Choice{
		{Label: "Approve", Value: string(workflow.ActionApprove)},
		{Label: "Debt found", Value: string(workflow.ActionMarkDebt)},
	}
	if _, err := workflow.Next(req.Type, req.Status, workflow.ActionReject); err == nil {
		choices = append(choices, Choice{Label: "Reject", Value: string(workflow.ActionReject)})
	}
	return choices
}

func describe(req *model.Request) string {
	return fmt.Sprintf("%s request %s (%s), total %s", req.Type, req.UID, req.Period, req.Total.StringFixed(2))
}

// StageOpened asks every candidate of the current stage to act.
func (n *Notifier) StageOpened(ctx context.Context, req *model.Request, aud *routing.Audience) {
	n.toAudience(ctx, req, aud, PromptApproval, fmt.Sprintf("%s awaits %s approval.", describe(req), aud.Role))
}

// Remind re-sends the approval prompt for a request that has been idle.
func (n *Notifier) Remind(ctx context.Context, req *model.Request, aud *routing.Audience) {
	n.toAudience(ctx, req, aud, PromptReminder, fmt.Sprintf("Reminder: %s is still waiting for %s approval.", describe(req), aud.Role))
}

func (n *Notifier) toAudience(ctx context.Context, req *model.Request, aud *routing.Audience, kind, text string) {
	if aud == nil {
		return
	}
	choices := ActionChoices(req)
	for _, c := range aud.Candidates {
		msg := text
		if aud.Primary != nil && aud.Primary.User.ID == c.User.ID {
			msg += " You are the assigned approver."
		}
		n.send(ctx, c.User.ID, Prompt{Kind: kind, Text: msg, RequestID: &req.ID, Status: req.Status, Choices: choices})
	}
}

// StatusChanged tells the creator where their request stands.
func (n *Notifier) StatusChanged(ctx context.Context, req *model.Request) {
	n.send(ctx, req.CreatorID, Prompt{
		Kind:      PromptStatus,
		Text:      fmt.Sprintf("%s is now %s.", describe(req), req.Status),
		RequestID: &req.ID,
		Status:    req.Status,
	})
}

// NoApprovers warns the creator that the request is parked until an approver becomes available.
func (n *Notifier) NoApprovers(ctx context.Context, req *model.Request, reason string) {
	n.send(ctx, req.CreatorID, Prompt{
		Kind:      PromptNoApprovers,
		Text:      fmt.Sprintf("%s: %s", req.UID, reason),
		RequestID: &req.ID,
		Status:    req.Status,
	})
}

func (n *Notifier) send(ctx context.Context, userID uuid.UUID, p Prompt) {
	if n == nil || n.messenger == nil {
		return
	}
	if err := n.messenger.Send(ctx, userID, p); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"kind":    p.Kind,
		}).Warn("failed to deliver prompt")
	}
}
