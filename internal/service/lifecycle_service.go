package service

import (
	"context"
	"fmt"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"
	"debtapproval/internal/routing"
	"debtapproval/internal/workflow"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const periodLayout = "2006-01"

// --- DTOs ---

type CreateRequestInput struct {
	CreatorID  uuid.UUID
	Type       model.RequestType
	Scope      model.Scope
	Period     string // YYYY-MM, current month when empty
	ReportText string
	ExtraInfo  string
	Snapshot   *model.SpreadsheetSnapshot
}

type TransitionInput struct {
	RequestID      uuid.UUID           `json:"-"`
	ActorID        uuid.UUID           `json:"-"`
	Action         workflow.Action     `json:"-"`
	ExpectedStatus model.RequestStatus `json:"expected_status"`
	Note           string              `json:"note"`
	EvidenceRef    string              `json:"evidence_ref"`
}

// ActionResult is the outcome of a create or a transition.
// Warning is set when the next stage has nobody to route to.
type ActionResult struct {
	Request  *model.Request      `json:"request"`
	From     model.RequestStatus `json:"from,omitempty"`
	Audience *routing.Audience   `json:"audience,omitempty"`
	Warning  string              `json:"warning,omitempty"`
}

type RequestDetail struct {
	Request model.Request          `json:"request"`
	Records []model.ApprovalRecord `json:"records"`
	Bucket  workflow.Bucket        `json:"bucket"`
}

// --- Interface ---

type LifecycleService interface {
	Create(ctx context.Context, in CreateRequestInput) (*ActionResult, error)
	Transition(ctx context.Context, in TransitionInput) (*ActionResult, error)
	Get(ctx context.Context, id uuid.UUID) (*RequestDetail, error)
	List(ctx context.Context, filter repository.RequestFilter) ([]model.Request, int64, error)
	Audience(ctx context.Context, id uuid.UUID) (*routing.Audience, error)
}

type lifecycleService struct {
	repos    *repository.Repositories
	router   routing.Router
	notifier *Notifier
	logger   *logrus.Logger
	now      func() time.Time
}

func NewLifecycleService(repos *repository.Repositories, router routing.Router, notifier *Notifier, logger *logrus.Logger) LifecycleService {
	return &lifecycleService{
		repos:    repos,
		router:   router,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// --- Implementation ---

func (s *lifecycleService) Create(ctx context.Context, in CreateRequestInput) (*ActionResult, error) {
	if !in.Type.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("Unknown request type %q.", in.Type))
	}
	period := in.Period
	if period == "" {
		period = s.now().Format(periodLayout)
	} else if _, err := time.Parse(periodLayout, period); err != nil {
		return nil, apperror.Validation("Period must look like 2026-03.")
	}

	creator, err := s.activeUser(ctx, in.CreatorID)
	if err != nil {
		return nil, err
	}
	if !creator.Role.Can(model.CapCreateRequest) {
		return nil, apperror.NotEligible("Your role cannot submit requests.")
	}
	if err := s.checkUnits(ctx, in.Scope); err != nil {
		return nil, err
	}
	if err := s.router.CheckScope(ctx, in.Scope); err != nil {
		return nil, err
	}

	total := decimal.Zero
	if in.Snapshot != nil {
		if err := in.Snapshot.Validate(); err != nil {
			return nil, apperror.Validation(fmt.Sprintf("The attached spreadsheet is inconsistent: %v", err))
		}
		total = in.Snapshot.Total
	}
	status, err := workflow.InitialStatus(in.Type)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	req := &model.Request{
		ID:         uuid.New(),
		Type:       in.Type,
		Scope:      in.Scope,
		Status:     status,
		CreatorID:  creator.ID,
		Period:     period,
		ReportText: in.ReportText,
		ExtraInfo:  in.ExtraInfo,
		Total:      total,
		Snapshot:   in.Snapshot,
	}

	var (
		aud     *routing.Audience
		warning string
	)
	err = s.repos.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		open, err := s.repos.Requests.HasOpenForAgent(txCtx, in.Scope.AgentID)
		if err != nil {
			return apperror.Internal(err)
		}
		if open {
			return apperror.Validation("This agent already has an open request.")
		}
		if req.UID, err = s.repos.Requests.NextUID(txCtx, period); err != nil {
			return apperror.Internal(err)
		}

		aud, warning, err = s.assign(txCtx, req)
		if err != nil {
			return err
		}
		setPointer(req, aud)
		if err := s.repos.Requests.Create(txCtx, req); err != nil {
			return err
		}

		if err := writeAudit(txCtx, s.repos.Audit, &creator.ID, model.ActionCreateRequest, req.ID.String(), req.UID, map[string]interface{}{
			"type":     req.Type,
			"status":   req.Status,
			"period":   req.Period,
			"agent_id": req.AgentID,
			"total":    req.Total,
			"assignee": req.CurrentApproverID,
		}); err != nil {
			return err
		}
		return s.auditNoApprovers(txCtx, req, warning)
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"uid":        req.UID,
		"actor_id":   creator.ID,
		"type":       req.Type,
	}).Info("request created")

	s.announce(ctx, req, aud, warning)
	return &ActionResult{Request: req, Audience: aud, Warning: warning}, nil
}

func (s *lifecycleService) Transition(ctx context.Context, in TransitionInput) (*ActionResult, error) {
	switch in.Action {
	case workflow.ActionApprove, workflow.ActionMarkDebt, workflow.ActionReject, workflow.ActionCancel:
	default:
		return nil, apperror.Validation(fmt.Sprintf("Unknown action %q.", in.Action))
	}

	req, err := s.repos.Requests.FindByID(ctx, in.RequestID)
	if err != nil {
		return nil, asAppError(err)
	}
	log := s.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"uid":        req.UID,
		"actor_id":   in.ActorID,
		"action":     in.Action,
	})

	if in.ExpectedStatus != "" && in.ExpectedStatus != req.Status {
		return nil, apperror.StaleState(fmt.Sprintf("Request %s is already %s.", req.UID, req.Status))
	}
	if workflow.IsTerminal(req.Status) {
		return nil, apperror.StaleState(fmt.Sprintf("Request %s is already closed as %s.", req.UID, req.Status))
	}
	if req.Locked {
		return nil, apperror.StaleState(fmt.Sprintf("Request %s is being processed by someone else.", req.UID))
	}
	actor, err := s.activeUser(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}
	approvalType, err := s.authorize(ctx, req, actor, in.Action)
	if err != nil {
		return nil, err
	}
	next, err := workflow.Next(req.Type, req.Status, in.Action)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("Request %s cannot be %s at this stage.", req.UID, pastTense(in.Action)))
	}

	acquired, err := s.repos.Requests.AcquireLock(ctx, req.ID, req.Status, actor.ID, s.now())
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if !acquired {
		return nil, apperror.StaleState(fmt.Sprintf("Request %s was just handled by someone else.", req.UID))
	}

	from := req.Status
	var (
		aud     *routing.Audience
		warning string
	)
	err = s.repos.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		record := model.ApprovalRecord{
			RequestID:    req.ID,
			ApproverID:   actor.ID,
			ApprovalType: approvalType,
			Outcome:      workflow.Outcome(in.Action),
			Note:         in.Note,
			EvidenceRef:  in.EvidenceRef,
		}
		if err := s.repos.Records.Create(txCtx, &record); err != nil {
			return err
		}

		moved := *req
		moved.Status = next
		var err error
		aud, warning, err = s.assign(txCtx, &moved)
		if err != nil {
			return err
		}
		setPointer(&moved, aud)
		if err := s.repos.Requests.ApplyTransition(txCtx, req.ID, actor.ID, from, next, moved.CurrentApproverID, moved.CurrentApproverType); err != nil {
			return err
		}
		if err := writeAudit(txCtx, s.repos.Audit, &actor.ID, auditAction(in.Action), req.ID.String(), req.UID, map[string]interface{}{
			"from":          from,
			"to":            next,
			"approval_type": approvalType,
			"note":          in.Note,
			"evidence_ref":  in.EvidenceRef,
			"assignee":      moved.CurrentApproverID,
		}); err != nil {
			return err
		}
		if err := s.auditNoApprovers(txCtx, &moved, warning); err != nil {
			return err
		}

		if next == model.StatusApprovedBySupervisor {
			final, err := workflow.Next(req.Type, next, workflow.ActionFinalize)
			if err != nil {
				return apperror.Internal(err)
			}
			if err := s.repos.Requests.ApplyTransition(txCtx, req.ID, actor.ID, next, final, nil, nil); err != nil {
				return err
			}
			if err := writeAudit(txCtx, s.repos.Audit, nil, model.ActionFinalizeRequest, req.ID.String(), req.UID, map[string]interface{}{
				"from": next,
				"to":   final,
			}); err != nil {
				return err
			}
		}
		return s.repos.Requests.ReleaseLock(txCtx, req.ID, actor.ID)
	})
	if err != nil {
		if relErr := s.repos.Requests.ReleaseLock(ctx, req.ID, actor.ID); relErr != nil {
			log.WithError(relErr).Error("failed to release lock after aborted transition")
		}
		appErr := asAppError(err)
		s.recordFailure(ctx, log, actor.ID, req, in.Action, appErr)
		return nil, appErr
	}

	updated, err := s.repos.Requests.FindByID(ctx, req.ID)
	if err != nil {
		return nil, asAppError(err)
	}
	log.WithFields(logrus.Fields{"from": from, "to": updated.Status}).Info("request transitioned")

	s.announce(ctx, updated, aud, warning)
	return &ActionResult{Request: updated, From: from, Audience: aud, Warning: warning}, nil
}

func (s *lifecycleService) Get(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	req, err := s.repos.Requests.FindByID(ctx, id)
	if err != nil {
		return nil, asAppError(err)
	}
	records, err := s.repos.Records.ListByRequest(ctx, id)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return &RequestDetail{Request: *req, Records: records, Bucket: workflow.Classify(req.Type, req.Status)}, nil
}

func (s *lifecycleService) List(ctx context.Context, filter repository.RequestFilter) ([]model.Request, int64, error) {
	requests, total, err := s.repos.Requests.List(ctx, filter)
	if err != nil {
		return nil, 0, apperror.Internal(err)
	}
	return requests, total, nil
}

// Audience resolves who may act on the request now. An empty stage is not an error here.
func (s *lifecycleService) Audience(ctx context.Context, id uuid.UUID) (*routing.Audience, error) {
	req, err := s.repos.Requests.FindByID(ctx, id)
	if err != nil {
		return nil, asAppError(err)
	}
	aud, err := s.router.Resolve(ctx, req)
	if err != nil && !apperror.Is(err, apperror.KindNoApproversFound) {
		return nil, err
	}
	return aud, nil
}

// --- Helpers ---

func (s *lifecycleService) activeUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	user, err := s.repos.Users.GetByID(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return nil, apperror.NotEligible("Unknown user.")
		}
		return nil, apperror.Internal(err)
	}
	if !user.Active {
		return nil, apperror.NotEligible("Your account is deactivated.")
	}
	return user, nil
}

// checkUnits verifies the brand/branch/agent triple exists, is active and is consistent.
func (s *lifecycleService) checkUnits(ctx context.Context, scope model.Scope) error {
	agent, err := s.repos.Org.GetAgent(ctx, scope.AgentID)
	if err != nil {
		return asAppError(err)
	}
	branch, err := s.repos.Org.GetBranch(ctx, scope.BranchID)
	if err != nil {
		return asAppError(err)
	}
	brand, err := s.repos.Org.GetBrand(ctx, scope.BrandID)
	if err != nil {
		return asAppError(err)
	}
	if agent.BranchID != branch.ID || agent.BrandID != brand.ID || branch.BrandID != brand.ID {
		return apperror.Validation("The selected agent does not belong to the selected branch and brand.")
	}
	if !agent.Active || !branch.Active || !brand.Active {
		return apperror.Validation("The selected unit is no longer active.")
	}
	return nil
}

// authorize returns the approval type the action is recorded under.
func (s *lifecycleService) authorize(ctx context.Context, req *model.Request, actor *model.User, action workflow.Action) (model.Role, error) {
	if action == workflow.ActionCancel {
		if actor.ID == req.CreatorID || actor.Role.Can(model.CapCancelAny) {
			return actor.Role, nil
		}
		return "", apperror.NotEligible("Only the creator or an administrator can cancel this request.")
	}

	role, ok := workflow.StageRole(req.Type, req.Status)
	if !ok {
		return "", apperror.StaleState(fmt.Sprintf("Request %s is being finalized.", req.UID))
	}
	eligible, err := s.router.IsEligible(ctx, req, actor.ID)
	if err != nil {
		return "", err
	}
	if eligible {
		return role, nil
	}
	if passed, known := workflow.HasPassed(req.Type, req.Status, actor.Role); known && passed {
		return "", apperror.StaleState(fmt.Sprintf("Request %s has already moved past the %s stage.", req.UID, actor.Role))
	}
	return "", apperror.NotEligible(fmt.Sprintf("You are not an eligible %s for request %s.", role, req.UID))
}

// assign routes req's current stage. A stage nobody can take is a warning, not a failure.
func (s *lifecycleService) assign(ctx context.Context, req *model.Request) (*routing.Audience, string, error) {
	aud, err := s.router.Assign(ctx, req)
	if apperror.Is(err, apperror.KindNoApproversFound) {
		return aud, apperror.From(err).Message, nil
	}
	return aud, "", err
}

func (s *lifecycleService) auditNoApprovers(ctx context.Context, req *model.Request, warning string) error {
	if warning == "" {
		return nil
	}
	return writeAudit(ctx, s.repos.Audit, nil, model.ActionNoApprovers, req.ID.String(), req.UID, map[string]interface{}{
		"status": req.Status,
		"reason": warning,
	})
}

func (s *lifecycleService) recordFailure(ctx context.Context, log *logrus.Entry, actorID uuid.UUID, req *model.Request, action workflow.Action, err *apperror.Error) {
	entry := log.WithError(err).WithField("kind", err.Kind)
	if err.Kind == apperror.KindInternal {
		entry.Error("transition failed")
	} else {
		entry.Info("transition rejected")
	}
	if auditErr := writeAudit(ctx, s.repos.Audit, &actorID, model.ActionTransitionFailure, req.ID.String(), req.UID, map[string]interface{}{
		"action": action,
		"status": req.Status,
		"kind":   err.Kind,
		"error":  err.Error(),
	}); auditErr != nil {
		log.WithError(auditErr).Error("failed to audit transition failure")
	}
}

// announce runs after commit.
func (s *lifecycleService) announce(ctx context.Context, req *model.Request, aud *routing.Audience, warning string) {
	s.notifier.StatusChanged(ctx, req)
	switch {
	case workflow.IsTerminal(req.Status):
	case warning != "":
		s.notifier.NoApprovers(ctx, req, warning)
	default:
		s.notifier.StageOpened(ctx, req, aud)
	}
}

func setPointer(req *model.Request, aud *routing.Audience) {
	req.CurrentApproverID, req.CurrentApproverType = nil, nil
	if aud == nil || aud.Primary == nil {
		return
	}
	id, role := aud.Primary.User.ID, aud.Role
	req.CurrentApproverID = &id
	req.CurrentApproverType = &role
}

func auditAction(action workflow.Action) string {
	switch action {
	case workflow.ActionMarkDebt:
		return model.ActionMarkDebt
	case workflow.ActionReject:
		return model.ActionRejectRequest
	case workflow.ActionCancel:
		return model.ActionCancelRequest
	default:
		return model.ActionApproveRequest
	}
}

func pastTense(action workflow.Action) string {
	switch action {
	case workflow.ActionMarkDebt:
		return "marked as debt"
	case workflow.ActionReject:
		return "rejected"
	case workflow.ActionCancel:
		return "cancelled"
	default:
		return "approved"
	}
}

func asAppError(err error) *apperror.Error {
	return apperror.From(err)
}
