package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"

	"github.com/google/uuid"
)

// --- approval records ---

type recordRepo struct{ s *Store }

func (r *recordRepo) Create(ctx context.Context, rec *model.ApprovalRecord) error {
	return r.s.write(ctx, func(d *state) error {
		for _, other := range d.records {
			if other.RequestID == rec.RequestID && other.ApprovalType == rec.ApprovalType {
				return apperror.StaleState("This stage has already been processed.")
			}
		}
		ensureID(&rec.ID)
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = r.s.now()
		}
		stored := *rec
		stored.Approver = nil
		d.records = append(d.records, stored)
		return nil
	})
}

func (r *recordRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalRecord, error) {
	var out []model.ApprovalRecord
	r.s.read(ctx, func(d *state) {
		for _, rec := range d.records {
			if rec.RequestID == requestID {
				if u, ok := d.users[rec.ApproverID]; ok {
					rec.Approver = &u
				}
				out = append(out, rec)
			}
		}
	})
	return out, nil
}

func (r *recordRepo) ExistsForStage(ctx context.Context, requestID uuid.UUID, role model.Role) (bool, error) {
	found := false
	r.s.read(ctx, func(d *state) {
		found = slices.ContainsFunc(d.records, func(rec model.ApprovalRecord) bool {
			return rec.RequestID == requestID && rec.ApprovalType == role
		})
	})
	return found, nil
}

// --- bindings ---

type bindingRepo struct{ s *Store }

func (r *bindingRepo) Create(ctx context.Context, b *model.RoleScopeBinding) error {
	return r.s.write(ctx, func(d *state) error {
		ensureID(&b.ID)
		if b.Source == "" {
			b.Source = model.SourceBinding
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = r.s.now()
		}
		d.bindings = append(d.bindings, *b)
		return nil
	})
}

func (r *bindingRepo) filter(ctx context.Context, keep func(model.RoleScopeBinding) bool) []model.RoleScopeBinding {
	var out []model.RoleScopeBinding
	r.s.read(ctx, func(d *state) {
		for _, b := range d.bindings {
			if keep(b) {
				out = append(out, b)
			}
		}
	})
	return out
}

func (r *bindingRepo) ListByRole(ctx context.Context, role model.Role) ([]model.RoleScopeBinding, error) {
	return r.filter(ctx, func(b model.RoleScopeBinding) bool { return b.Role == role }), nil
}

func (r *bindingRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.RoleScopeBinding, error) {
	return r.filter(ctx, func(b model.RoleScopeBinding) bool { return b.UserID != nil && *b.UserID == userID }), nil
}

// --- blocks ---

type blockRepo struct{ s *Store }

func (r *blockRepo) Create(ctx context.Context, item *model.BlockedItem) error {
	return r.s.write(ctx, func(d *state) error {
		ensureID(&item.ID)
		if item.BlockedAt.IsZero() {
			item.BlockedAt = r.s.now()
		}
		d.blocks[item.ID] = *item
		return nil
	})
}

func (r *blockRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.BlockedItem, error) {
	var (
		item model.BlockedItem
		ok   bool
	)
	r.s.read(ctx, func(d *state) { item, ok = d.blocks[id] })
	if !ok {
		return nil, apperror.NotFound("block not found", nil)
	}
	return &item, nil
}

func (r *blockRepo) List(ctx context.Context, activeOnly bool, pageNum, limit int) ([]model.BlockedItem, int64, error) {
	var out []model.BlockedItem
	r.s.read(ctx, func(d *state) {
		for _, b := range d.blocks {
			if !activeOnly || b.Active {
				out = append(out, b)
			}
		}
	})
	slices.SortFunc(out, func(a, b model.BlockedItem) int { return b.BlockedAt.Compare(a.BlockedAt) })
	return page(out, pageNum, limit), int64(len(out)), nil
}

func (r *blockRepo) ActiveFor(ctx context.Context, refs []model.ScopeRef) ([]model.BlockedItem, error) {
	var out []model.BlockedItem
	r.s.read(ctx, func(d *state) {
		for _, b := range d.blocks {
			if b.Active && slices.Contains(refs, b.Ref()) {
				out = append(out, b)
			}
		}
	})
	return out, nil
}

func (r *blockRepo) Deactivate(ctx context.Context, id uuid.UUID, by uuid.UUID, at time.Time) (bool, error) {
	done := false
	err := r.s.write(ctx, func(d *state) error {
		b, ok := d.blocks[id]
		if !ok || !b.Active {
			return nil
		}
		b.Active = false
		b.UnblockedBy = &by
		b.UnblockedAt = &at
		d.blocks[id] = b
		done = true
		return nil
	})
	return done, err
}

// --- organisation ---

type orgRepo struct{ s *Store }

func (r *orgRepo) CreateBrand(ctx context.Context, b *model.Brand) error {
	return r.s.write(ctx, func(d *state) error {
		ensureID(&b.ID)
		d.brands[b.ID] = *b
		return nil
	})
}

func (r *orgRepo) CreateBranch(ctx context.Context, b *model.Branch) error {
	return r.s.write(ctx, func(d *state) error {
		ensureID(&b.ID)
		stored := *b
		stored.Brand = nil
		d.branches[b.ID] = stored
		return nil
	})
}

func (r *orgRepo) CreateAgent(ctx context.Context, a *model.Agent) error {
	return r.s.write(ctx, func(d *state) error {
		ensureID(&a.ID)
		d.agents[a.ID] = *a
		return nil
	})
}

func lookup[T any](ctx context.Context, s *Store, table func(*state) map[uuid.UUID]T, id uuid.UUID, what string) (*T, error) {
	var (
		v  T
		ok bool
	)
	s.read(ctx, func(d *state) { v, ok = table(d)[id] })
	if !ok {
		return nil, apperror.NotFound(what+" not found", nil)
	}
	return &v, nil
}

func (r *orgRepo) GetBrand(ctx context.Context, id uuid.UUID) (*model.Brand, error) {
	return lookup(ctx, r.s, func(d *state) map[uuid.UUID]model.Brand { return d.brands }, id, "brand")
}

func (r *orgRepo) GetBranch(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	return lookup(ctx, r.s, func(d *state) map[uuid.UUID]model.Branch { return d.branches }, id, "branch")
}

func (r *orgRepo) GetAgent(ctx context.Context, id uuid.UUID) (*model.Agent, error) {
	return lookup(ctx, r.s, func(d *state) map[uuid.UUID]model.Agent { return d.agents }, id, "agent")
}

func (r *orgRepo) ListBrands(ctx context.Context) ([]model.Brand, error) {
	var out []model.Brand
	r.s.read(ctx, func(d *state) {
		for _, b := range d.brands {
			if b.Active {
				out = append(out, b)
			}
		}
	})
	slices.SortFunc(out, func(a, b model.Brand) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (r *orgRepo) ListBranches(ctx context.Context, brandID uuid.UUID) ([]model.Branch, error) {
	var out []model.Branch
	r.s.read(ctx, func(d *state) {
		for _, b := range d.branches {
			if b.Active && b.BrandID == brandID {
				out = append(out, b)
			}
		}
	})
	slices.SortFunc(out, func(a, b model.Branch) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (r *orgRepo) ListAgents(ctx context.Context, branchID uuid.UUID) ([]model.Agent, error) {
	var out []model.Agent
	r.s.read(ctx, func(d *state) {
		for _, a := range d.agents {
			if a.Active && a.BranchID == branchID {
				out = append(out, a)
			}
		}
	})
	slices.SortFunc(out, func(a, b model.Agent) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// --- users ---

type userRepo struct{ s *Store }

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	return r.s.write(ctx, func(d *state) error {
		ensureID(&u.ID)
		for _, other := range d.users {
			if other.Username == u.Username {
				return fmt.Errorf("create user: duplicate username %s", u.Username)
			}
		}
		d.users[u.ID] = *u
		return nil
	})
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return lookup(ctx, r.s, func(d *state) map[uuid.UUID]model.User { return d.users }, id, "user")
}

func (r *userRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.User, error) {
	var out []model.User
	r.s.read(ctx, func(d *state) {
		for _, id := range ids {
			if u, ok := d.users[id]; ok {
				out = append(out, u)
			}
		}
	})
	return out, nil
}

func (r *userRepo) ListActiveByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	var out []model.User
	r.s.read(ctx, func(d *state) {
		for _, u := range d.users {
			if u.Active && u.Role == role {
				out = append(out, u)
			}
		}
	})
	slices.SortFunc(out, func(a, b model.User) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return out, nil
}

// --- assignment cursors ---

type assignmentRepo struct{ s *Store }

func (r *assignmentRepo) LastAssigned(ctx context.Context, scope model.ScopeRef, role model.Role, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	out := make(map[uuid.UUID]time.Time, len(userIDs))
	r.s.read(ctx, func(d *state) {
		for _, id := range userIDs {
			if at, ok := d.cursors[cursorKey{scope.Kind, scope.ID, role, id}]; ok {
				out[id] = at
			}
		}
	})
	return out, nil
}

func (r *assignmentRepo) Touch(ctx context.Context, scope model.ScopeRef, role model.Role, userID uuid.UUID, at time.Time) error {
	return r.s.write(ctx, func(d *state) error {
		d.cursors[cursorKey{scope.Kind, scope.ID, role, userID}] = at
		return nil
	})
}

// --- audit ---

type auditRepo struct{ s *Store }

func (r *auditRepo) Log(ctx context.Context, entry *model.AuditLog) error {
	return r.s.write(ctx, func(d *state) error {
		ensureID(&entry.ID)
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = r.s.now()
		}
		d.audits = append(d.audits, *entry)
		return nil
	})
}

func (r *auditRepo) List(ctx context.Context, filter repository.AuditFilter) ([]model.AuditLog, int64, error) {
	var out []model.AuditLog
	r.s.read(ctx, func(d *state) {
		for i := len(d.audits) - 1; i >= 0; i-- {
			e := d.audits[i]
			if filter.Action != "" && e.Action != filter.Action {
				continue
			}
			if filter.EntityID != "" && e.EntityID != filter.EntityID {
				continue
			}
			if e.UserID != nil {
				if u, ok := d.users[*e.UserID]; ok {
					e.User = &u
				}
			}
			out = append(out, e)
		}
	})
	return page(out, filter.Page, filter.Limit), int64(len(out)), nil
}

// --- statistics ---

type statisticsRepo struct{ s *Store }

func (r *statisticsRepo) CountByStatus(ctx context.Context, period string, start, end time.Time) ([]repository.StatusCount, error) {
	type key struct {
		brand  uuid.UUID
		typ    model.RequestType
		status model.RequestStatus
	}
	counts := map[key]int{}
	r.s.read(ctx, func(d *state) {
		for _, req := range d.requests {
			if period != "" && req.Period != period {
				continue
			}
			if req.CreatedAt.Before(start) || req.CreatedAt.After(end) {
				continue
			}
			counts[key{req.BrandID, req.Type, req.Status}]++
		}
	})
	out := make([]repository.StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, repository.StatusCount{BrandID: k.brand, Type: k.typ, Status: k.status, Count: n})
	}
	return out, nil
}
