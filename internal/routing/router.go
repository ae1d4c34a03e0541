// Package routing decides who may act on a request's current stage and who is
// its primary assignee.
package routing

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"
	"debtapproval/internal/workflow"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Router resolves approver audiences and unit availability.
type Router interface {
	// Resolve computes the audience of the request's current stage without side effects.
	Resolve(ctx context.Context, req *model.Request) (*Audience, error)
	// Assign resolves the audience and, for cashier and operator stages, picks the
	// least recently assigned candidate and records the pick.
	Assign(ctx context.Context, req *model.Request) (*Audience, error)
	IsEligible(ctx context.Context, req *model.Request, actorID uuid.UUID) (bool, error)
	CheckScope(ctx context.Context, scope model.Scope) error

	AvailableBrands(ctx context.Context) ([]model.Brand, error)
	AvailableBranches(ctx context.Context, brandID uuid.UUID) ([]model.Branch, error)
	AvailableAgents(ctx context.Context, branchID uuid.UUID) ([]model.Agent, error)
}

type router struct {
	bindings    repository.BindingRepository
	blocks      repository.BlockRepository
	users       repository.UserRepository
	org         repository.OrgRepository
	requests    repository.RequestRepository
	assignments repository.AssignmentRepository
	logger      *logrus.Logger
	now         func() time.Time
}

func NewRouter(repos *repository.Repositories, logger *logrus.Logger) Router {
	return &router{
		bindings:    repos.Bindings,
		blocks:      repos.Blocks,
		users:       repos.Users,
		org:         repos.Org,
		requests:    repos.Requests,
		assignments: repos.Assignments,
		logger:      logger,
		now:         time.Now,
	}
}

func (r *router) CheckScope(ctx context.Context, scope model.Scope) error {
	blocked, err := r.blocks.ActiveFor(ctx, scope.Refs())
	if err != nil {
		return apperror.Internal(err)
	}
	if len(blocked) == 0 {
		return nil
	}
	kinds := make([]string, 0, len(blocked))
	for _, b := range blocked {
		kinds = append(kinds, string(b.ScopeKind))
	}
	slices.Sort(kinds)
	return apperror.ScopeBlocked(fmt.Sprintf("This %s is blocked: %s", strings.Join(kinds, "/"), blocked[0].Reason)).
		WithDetails(map[string]any{"blocked": blocked})
}

func (r *router) Resolve(ctx context.Context, req *model.Request) (*Audience, error) {
	role, ok := workflow.StageRole(req.Type, req.Status)
	if !ok {
		return &Audience{}, nil
	}
	if err := r.CheckScope(ctx, req.Scope); err != nil {
		return nil, err
	}

	capability, _ := model.ApprovalCapability(role)
	holders, err := r.users.ListActiveByRole(ctx, role)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	holders = slices.DeleteFunc(holders, func(u model.User) bool { return !u.Role.Can(capability) })

	bindings, err := r.bindings.ListByRole(ctx, role)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	aud := &Audience{Role: role}
	var entries []Entry
	if len(bindings) == 0 {
		aud.Fallback = true
		for _, u := range holders {
			entries = append(entries, Entry{User: u, Source: model.SourceFallback})
		}
	} else {
		var roleWide []model.RoleScopeBinding
		direct := map[uuid.UUID][]model.RoleScopeBinding{}
		for _, b := range bindings {
			if b.IsRoleWide() {
				roleWide = append(roleWide, b)
			} else {
				direct[*b.UserID] = append(direct[*b.UserID], b)
			}
		}
		for _, u := range holders {
			applicable := append(slices.Clone(direct[u.ID]), roleWide...)
			for _, b := range covers(role, req.Scope, applicable) {
				src := b.Source
				if b.IsRoleWide() {
					src = model.SourceRole
				}
				entries = append(entries, Entry{User: u, Source: src})
			}
		}
	}

	aud.Candidates = MergeCandidates(entries)
	if len(aud.Candidates) == 0 {
		r.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"uid":        req.UID,
			"stage":      role,
			"brand_id":   req.BrandID,
			"branch_id":  req.BranchID,
		}).Warn("no approvers found for stage")
		return aud, apperror.NoApproversFound(fmt.Sprintf("No %s is available for this request yet; it stays pending.", role))
	}
	return aud, nil
}

func (r *router) Assign(ctx context.Context, req *model.Request) (*Audience, error) {
	aud, err := r.Resolve(ctx, req)
	if err != nil || len(aud.Candidates) == 0 {
		return aud, err
	}
	scope, rotates := assignmentScope(aud.Role, req.Scope)
	if !rotates {
		return aud, nil
	}

	last, err := r.assignments.LastAssigned(ctx, scope, aud.Role, aud.UserIDs())
	if err != nil {
		return nil, apperror.Internal(err)
	}
	primary := pickLeastRecent(aud.Candidates, last)
	if err := r.assignments.Touch(ctx, scope, aud.Role, primary.User.ID, r.now()); err != nil {
		return nil, apperror.Internal(err)
	}
	aud.Primary = &primary
	return aud, nil
}

// pickLeastRecent prefers never-assigned users, then the oldest assignment;
// ties go to the smallest user id string.
func pickLeastRecent(candidates []Candidate, last map[uuid.UUID]time.Time) Candidate {
	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(a, b Candidate) int {
		ta, okA := last[a.User.ID]
		tb, okB := last[b.User.ID]
		switch {
		case !okA && okB:
			return -1
		case okA && !okB:
			return 1
		case okA && okB && !ta.Equal(tb):
			return ta.Compare(tb)
		}
		return strings.Compare(a.User.ID.String(), b.User.ID.String())
	})
	return ordered[0]
}

func (r *router) IsEligible(ctx context.Context, req *model.Request, actorID uuid.UUID) (bool, error) {
	aud, err := r.Resolve(ctx, req)
	if err != nil {
		if apperror.Is(err, apperror.KindNoApproversFound) {
			return false, nil
		}
		return false, err
	}
	return aud.Contains(actorID), nil
}
