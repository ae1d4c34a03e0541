package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"
	"debtapproval/internal/workflow"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestFilter narrows List; zero fields are ignored and Limit 0 returns every row.
// IdleCursor is the last row of the previous page of idle requests; the zero value starts from the oldest.
type IdleCursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

type RequestFilter struct {
	Statuses  []model.RequestStatus
	Type      model.RequestType
	BrandID   *uuid.UUID
	BranchID  *uuid.UUID
	AgentID   *uuid.UUID
	CreatorID *uuid.UUID
	Period    string
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

// RequestRepository is the only writer of Request rows. Status and lock changes
// are conditional updates so two transitions can never both succeed.
type RequestRepository interface {
	Create(ctx context.Context, req *model.Request) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error)
	List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error)
	NextUID(ctx context.Context, period string) (string, error)
	HasOpenForAgent(ctx context.Context, agentID uuid.UUID) (bool, error)
	OpenAgentIDs(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]bool, error)

	// AcquireLock sets locked/locked_by/locked_at iff the row is unlocked and still in expected.
	AcquireLock(ctx context.Context, id uuid.UUID, expected model.RequestStatus, actorID uuid.UUID, now time.Time) (bool, error)
	// ApplyTransition moves a request locked by actorID from one status to another and rewrites the assignee pointer.
	ApplyTransition(ctx context.Context, id uuid.UUID, actorID uuid.UUID, from, to model.RequestStatus, assignee *uuid.UUID, assigneeRole *model.Role) error
	ReleaseLock(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error
	// SetAssigneeIfUnchanged fills the pointer of an unlocked request still in status.
	SetAssigneeIfUnchanged(ctx context.Context, id uuid.UUID, status model.RequestStatus, assignee uuid.UUID, role model.Role) (bool, error)

	ReleaseStaleLocks(ctx context.Context, lockedBefore time.Time) ([]model.Request, error)
	ListIdleOpen(ctx context.Context, updatedBefore time.Time, after IdleCursor, limit int) ([]model.Request, error)
	ListTerminalBefore(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Request, error)
	Archive(ctx context.Context, req *model.Request, at time.Time) error
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	if err := GetDB(ctx, r.db).Create(req).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.StaleState("Another request for this agent was submitted at the same time.")
		}
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	if err := GetDB(ctx, r.db).Preload("Creator").First(&req, "id = ?", id).Error; err != nil {
		return nil, wrapFind("request", err)
	}
	return &req, nil
}

func applyRequestFilter(q *gorm.DB, f RequestFilter) *gorm.DB {
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.BrandID != nil {
		q = q.Where("brand_id = ?", *f.BrandID)
	}
	if f.BranchID != nil {
		q = q.Where("branch_id = ?", *f.BranchID)
	}
	if f.AgentID != nil {
		q = q.Where("agent_id = ?", *f.AgentID)
	}
	if f.CreatorID != nil {
		q = q.Where("creator_id = ?", *f.CreatorID)
	}
	if f.Period != "" {
		q = q.Where("period = ?", f.Period)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	return q
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error) {
	var requests []model.Request
	var total int64

	db := GetDB(ctx, r.db)
	if err := applyRequestFilter(db.Model(&model.Request{}), filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	q := applyRequestFilter(db.Preload("Creator"), filter).Order("created_at DESC")
	if filter.Limit > 0 {
		page := max(filter.Page, 1)
		q = q.Offset((page - 1) * filter.Limit).Limit(filter.Limit)
	}
	if err := q.Find(&requests).Error; err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return requests, total, nil
}

// NextUID returns R-YYYYMM-NNNNN, sequential within the period across live and archived rows.
func (r *requestRepository) NextUID(ctx context.Context, period string) (string, error) {
	prefix := uidPrefix(period)
	db := GetDB(ctx, r.db)

	var live, archived int64
	if err := db.Model(&model.Request{}).Where("uid LIKE ?", prefix+"%").Count(&live).Error; err != nil {
		return "", fmt.Errorf("count request uids: %w", err)
	}
	if err := db.Model(&model.ArchivedRequest{}).Where("uid LIKE ?", prefix+"%").Count(&archived).Error; err != nil {
		return "", fmt.Errorf("count archived uids: %w", err)
	}
	return FormatUID(period, int(live+archived)+1), nil
}

func (r *requestRepository) HasOpenForAgent(ctx context.Context, agentID uuid.UUID) (bool, error) {
	var n int64
	err := GetDB(ctx, r.db).Model(&model.Request{}).
		Where("agent_id = ? AND status IN ?", agentID, workflow.NonTerminalStatuses()).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count open requests: %w", err)
	}
	return n > 0, nil
}

func (r *requestRepository) OpenAgentIDs(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool)
	if len(agentIDs) == 0 {
		return out, nil
	}
	var ids []uuid.UUID
	err := GetDB(ctx, r.db).Model(&model.Request{}).
		Distinct("agent_id").
		Where("agent_id IN ? AND status IN ?", agentIDs, workflow.NonTerminalStatuses()).
		Pluck("agent_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list open agents: %w", err)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *requestRepository) AcquireLock(ctx context.Context, id uuid.UUID, expected model.RequestStatus, actorID uuid.UUID, now time.Time) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Request{}).
		Where("id = ? AND locked = ? AND status = ?", id, false, expected).
		Updates(map[string]interface{}{
			"locked":     true,
			"locked_by":  actorID,
			"locked_at":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("acquire request lock: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *requestRepository) ApplyTransition(ctx context.Context, id uuid.UUID, actorID uuid.UUID, from, to model.RequestStatus, assignee *uuid.UUID, assigneeRole *model.Role) error {
	res := GetDB(ctx, r.db).Model(&model.Request{}).
		Where("id = ? AND status = ? AND locked = ? AND locked_by = ?", id, from, true, actorID).
		Updates(map[string]interface{}{
			"status":                to,
			"current_approver_id":   assignee,
			"current_approver_type": assigneeRole,
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("apply transition: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return apperror.StaleState("This request was changed by someone else. Refresh and try again.")
	}
	return nil
}

func (r *requestRepository) ReleaseLock(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	err := GetDB(ctx, r.db).Model(&model.Request{}).
		Where("id = ? AND locked_by = ?", id, actorID).
		Updates(map[string]interface{}{"locked": false, "locked_by": nil, "locked_at": nil}).Error
	if err != nil {
		return fmt.Errorf("release request lock: %w", err)
	}
	return nil
}

func (r *requestRepository) SetAssigneeIfUnchanged(ctx context.Context, id uuid.UUID, status model.RequestStatus, assignee uuid.UUID, role model.Role) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Request{}).
		Where("id = ? AND status = ? AND locked = ?", id, status, false).
		Updates(map[string]interface{}{"current_approver_id": assignee, "current_approver_type": role})
	if res.Error != nil {
		return false, fmt.Errorf("set assignee: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *requestRepository) ReleaseStaleLocks(ctx context.Context, lockedBefore time.Time) ([]model.Request, error) {
	var stale []model.Request
	db := GetDB(ctx, r.db)
	if err := db.Where("locked = ? AND locked_at < ?", true, lockedBefore).Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("find stale locks: %w", err)
	}
	released := stale[:0]
	for _, req := range stale {
		res := db.Model(&model.Request{}).
			Where("id = ? AND locked = ? AND locked_at = ?", req.ID, true, req.LockedAt).
			Updates(map[string]interface{}{"locked": false, "locked_by": nil, "locked_at": nil})
		if res.Error != nil {
			return nil, fmt.Errorf("release stale lock %s: %w", req.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			released = append(released, req)
		}
	}
	return released, nil
}

func (r *requestRepository) ListIdleOpen(ctx context.Context, updatedBefore time.Time, after IdleCursor, limit int) ([]model.Request, error) {
	var requests []model.Request
	q := GetDB(ctx, r.db).
		Where("status IN ? AND locked = ? AND updated_at < ?", workflow.NonTerminalStatuses(), false, updatedBefore).
		Order("updated_at ASC, id ASC")
	if !after.UpdatedAt.IsZero() {
		q = q.Where("(updated_at, id) > (?, ?)", after.UpdatedAt, after.ID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("list idle requests: %w", err)
	}
	return requests, nil
}

func (r *requestRepository) ListTerminalBefore(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Request, error) {
	var requests []model.Request
	q := GetDB(ctx, r.db).
		Where("status IN ? AND locked = ? AND updated_at < ?", workflow.TerminalStatuses(), false, updatedBefore).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("list terminal requests: %w", err)
	}
	return requests, nil
}

// Archive copies the row into archived_requests and removes it from the live table.
// Must run inside RunInTx.
func (r *requestRepository) Archive(ctx context.Context, req *model.Request, at time.Time) error {
	db := GetDB(ctx, r.db)
	archived := model.ArchivedRequest{Request: *req, ArchivedAt: at}
	archived.Creator = nil
	if err := db.Create(&archived).Error; err != nil {
		return fmt.Errorf("archive request %s: %w", req.UID, err)
	}
	if err := db.Delete(&model.Request{}, "id = ?", req.ID).Error; err != nil {
		return fmt.Errorf("remove archived request %s: %w", req.UID, err)
	}
	return nil
}

func uidPrefix(period string) string {
	compact := period
	if len(period) == 7 && period[4] == '-' {
		compact = period[:4] + period[5:]
	}
	return "R-" + compact + "-"
}

// FormatUID renders the human-readable request number for a period and sequence.
func FormatUID(period string, seq int) string {
	return fmt.Sprintf("%s%05d", uidPrefix(period), seq)
}
