package memory

import (
	"bytes"
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
)

type requestRepo struct{ s *Store }

func (r *requestRepo) Create(ctx context.Context, req *model.Request) error {
	return r.s.write(ctx, func(d *state) error {
		ensureID(&req.ID)
		for _, other := range d.requests {
			if other.UID == req.UID {
				return apperror.StaleState(fmt.Sprintf("Request number %s is already taken.", req.UID))
			}
		}
		now := r.s.now()
		if req.CreatedAt.IsZero() {
			req.CreatedAt = now
		}
		req.UpdatedAt = now
		stored := *req
		stored.Creator = nil
		d.requests[req.ID] = stored
		return nil
	})
}

func (r *requestRepo) withCreator(d *state, req model.Request) model.Request {
	if u, ok := d.users[req.CreatorID]; ok {
		req.Creator = &u
	}
	return req
}

func (r *requestRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var (
		out model.Request
		ok  bool
	)
	r.s.read(ctx, func(d *state) {
		out, ok = d.requests[id]
		if ok {
			out = r.withCreator(d, out)
		}
	})
	if !ok {
		return nil, apperror.NotFound("request not found", nil)
	}
	return &out, nil
}

func matches(req model.Request, f repository.RequestFilter) bool {
	switch {
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, req.Status):
		return false
	case f.Type != "" && req.Type != f.Type:
		return false
	case f.BrandID != nil && req.BrandID != *f.BrandID:
		return false
	case f.BranchID != nil && req.BranchID != *f.BranchID:
		return false
	case f.AgentID != nil && req.AgentID != *f.AgentID:
		return false
	case f.CreatorID != nil && req.CreatorID != *f.CreatorID:
		return false
	case f.Period != "" && req.Period != f.Period:
		return false
	case f.From != nil && req.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && req.CreatedAt.After(*f.To):
		return false
	}
	return true
}

func (r *requestRepo) List(ctx context.Context, filter repository.RequestFilter) ([]model.Request, int64, error) {
	var out []model.Request
	r.s.read(ctx, func(d *state) {
		for _, req := range d.requests {
			if matches(req, filter) {
				out = append(out, r.withCreator(d, req))
			}
		}
	})
	slices.SortFunc(out, func(a, b model.Request) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(out, filter.Page, filter.Limit), int64(len(out)), nil
}

func (r *requestRepo) NextUID(ctx context.Context, period string) (string, error) {
	prefix := strings.TrimSuffix(repository.FormatUID(period, 0), "00000")
	n := 0
	r.s.read(ctx, func(d *state) {
		for _, req := range d.requests {
			if strings.HasPrefix(req.UID, prefix) {
				n++
			}
		}
		for _, req := range d.archived {
			if strings.HasPrefix(req.UID, prefix) {
				n++
			}
		}
	})
	return repository.FormatUID(period, n+1), nil
}

func (r *requestRepo) HasOpenForAgent(ctx context.Context, agentID uuid.UUID) (bool, error) {
	open, err := r.OpenAgentIDs(ctx, []uuid.UUID{agentID})
	if err != nil {
		return false, err
	}
	return open[agentID], nil
}

func (r *requestRepo) OpenAgentIDs(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool)
	r.s.read(ctx, func(d *state) {
		for _, req := range d.requests {
			if !workflow.IsTerminal(req.Status) && slices.Contains(agentIDs, req.AgentID) {
				out[req.AgentID] = true
			}
		}
	})
	return out, nil
}

func (r *requestRepo) AcquireLock(ctx context.Context, id uuid.UUID, expected model.RequestStatus, actorID uuid.UUID, now time.Time) (bool, error) {
	acquired := false
	err := r.s.write(ctx, func(d *state) error {
		req, ok := d.requests[id]
		if !ok || req.Locked || req.Status != expected {
			return nil
		}
		req.Locked = true
		req.LockedBy = &actorID
		req.LockedAt = &now
		req.UpdatedAt = now
		d.requests[id] = req
		acquired = true
		return nil
	})
	return acquired, err
}

func (r *requestRepo) ApplyTransition(ctx context.Context, id uuid.UUID, actorID uuid.UUID, from, to model.RequestStatus, assignee *uuid.UUID, assigneeRole *model.Role) error {
	return r.s.write(ctx, func(d *state) error {
		req, ok := d.requests[id]
		if !ok || req.Status != from || !req.Locked || req.LockedBy == nil || *req.LockedBy != actorID {
			return apperror.StaleState("This request was changed by someone else. Refresh and try again.")
		}
		req.Status = to
		req.CurrentApproverID = assignee
		req.CurrentApproverType = assigneeRole
		req.UpdatedAt = r.s.now()
		d.requests[id] = req
		return nil
	})
}

func (r *requestRepo) ReleaseLock(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	return r.s.write(ctx, func(d *state) error {
		req, ok := d.requests[id]
		if !ok || req.LockedBy == nil || *req.LockedBy != actorID {
			return nil
		}
		req.Locked, req.LockedBy, req.LockedAt = false, nil, nil
		d.requests[id] = req
		return nil
	})
}

func (r *requestRepo) SetAssigneeIfUnchanged(ctx context.Context, id uuid.UUID, status model.RequestStatus, assignee uuid.UUID, role model.Role) (bool, error) {
	set := false
	err := r.s.write(ctx, func(d *state) error {
		req, ok := d.requests[id]
		if !ok || req.Status != status || req.Locked {
			return nil
		}
		req.CurrentApproverID = &assignee
		req.CurrentApproverType = &role
		d.requests[id] = req
		set = true
		return nil
	})
	return set, err
}

func (r *requestRepo) ReleaseStaleLocks(ctx context.Context, lockedBefore time.Time) ([]model.Request, error) {
	var released []model.Request
	err := r.s.write(ctx, func(d *state) error {
		for id, req := range d.requests {
			if !req.Locked || req.LockedAt == nil || !req.LockedAt.Before(lockedBefore) {
				continue
			}
			released = append(released, req)
			req.Locked, req.LockedBy, req.LockedAt = false, nil, nil
			d.requests[id] = req
		}
		return nil
	})
	return released, err
}

func (r *requestRepo) listWhere(ctx context.Context, limit int, keep func(model.Request) bool) []model.Request {
	var out []model.Request
	r.s.read(ctx, func(d *state) {
		for _, req := range d.requests {
			if keep(req) {
				out = append(out, req)
			}
		}
	})
	slices.SortFunc(out, func(a, b model.Request) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *requestRepo) ListIdleOpen(ctx context.Context, updatedBefore time.Time, after repository.IdleCursor, limit int) ([]model.Request, error) {
	return r.listWhere(ctx, limit, func(req model.Request) bool {
		if workflow.IsTerminal(req.Status) || req.Locked || !req.UpdatedAt.Before(updatedBefore) {
			return false
		}
		return after.UpdatedAt.IsZero() || afterCursor(req, after)
	}), nil
}

// afterCursor orders by updated_at then id bytes, the same order postgres gives uuid columns.
func afterCursor(req model.Request, after repository.IdleCursor) bool {
	if c := req.UpdatedAt.Compare(after.UpdatedAt); c != 0 {
		return c > 0
	}
	return bytes.Compare(req.ID[:], after.ID[:]) > 0
}

func (r *requestRepo) ListTerminalBefore(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Request, error) {
	return r.listWhere(ctx, limit, func(req model.Request) bool {
		return workflow.IsTerminal(req.Status) && !req.Locked && req.UpdatedAt.Before(updatedBefore)
	}), nil
}

func (r *requestRepo) Archive(ctx context.Context, req *model.Request, at time.Time) error {
	return r.s.write(ctx, func(d *state) error {
		live, ok := d.requests[req.ID]
		if !ok {
			return apperror.NotFound("request not found", nil)
		}
		live.Creator = nil
		d.archived[req.ID] = model.ArchivedRequest{Request: live, ArchivedAt: at}
		delete(d.requests, req.ID)
		return nil
	})
}

// Archived looks up a request moved out of the live table.
func (s *Store) Archived(id uuid.UUID) (model.ArchivedRequest, bool) {
	var (
		out model.ArchivedRequest
		ok  bool
	)
	s.read(context.Background(), func(d *state) { out, ok = d.archived[id] })
	return out, ok
}
