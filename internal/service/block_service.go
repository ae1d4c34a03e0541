package service

import (
	"context"
	"fmt"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// --- DTOs ---

type BlockInput struct {
	ScopeKind model.ScopeKind `json:"scope_kind" binding:"required,oneof=brand branch agent"`
	ScopeID   uuid.UUID       `json:"scope_id" binding:"required"`
	Reason    string          `json:"reason" binding:"required"`
}

// --- Interface ---

// BlockService writes the block/unblock pair that stops routing and new requests on a unit.
type BlockService interface {
	Block(ctx context.Context, actorID uuid.UUID, in BlockInput) (*model.BlockedItem, error)
	Unblock(ctx context.Context, actorID uuid.UUID, id uuid.UUID) (*model.BlockedItem, error)
	List(ctx context.Context, activeOnly bool, page, limit int) ([]model.BlockedItem, int64, error)
}

type blockService struct {
	repos  *repository.Repositories
	logger *logrus.Logger
	now    func() time.Time
}

func NewBlockService(repos *repository.Repositories, logger *logrus.Logger) BlockService {
	return &blockService{repos: repos, logger: logger, now: time.Now}
}

// --- Implementation ---

func (s *blockService) Block(ctx context.Context, actorID uuid.UUID, in BlockInput) (*model.BlockedItem, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return nil, err
	}
	if !in.ScopeKind.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("Unknown scope kind %q.", in.ScopeKind))
	}
	name, err := s.unitName(ctx, model.ScopeRef{Kind: in.ScopeKind, ID: in.ScopeID})
	if err != nil {
		return nil, err
	}

	item := &model.BlockedItem{
		ScopeKind: in.ScopeKind,
		ScopeID:   in.ScopeID,
		Reason:    in.Reason,
		Active:    true,
		BlockedBy: &actorID,
		BlockedAt: s.now(),
	}
	err = s.repos.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.repos.Blocks.ActiveFor(txCtx, []model.ScopeRef{item.Ref()})
		if err != nil {
			return apperror.Internal(err)
		}
		if len(existing) > 0 {
			return apperror.Validation(fmt.Sprintf("%s %s is already blocked.", in.ScopeKind, name))
		}
		if err := s.repos.Blocks.Create(txCtx, item); err != nil {
			return apperror.Internal(err)
		}
		return writeAudit(txCtx, s.repos.Audit, &actorID, model.ActionBlockScope, item.ID.String(), name, map[string]interface{}{
			"scope_kind": item.ScopeKind,
			"scope_id":   item.ScopeID,
			"reason":     item.Reason,
		})
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"actor_id":   actorID,
		"scope_kind": item.ScopeKind,
		"scope_id":   item.ScopeID,
	}).Info("scope blocked")
	return item, nil
}

func (s *blockService) Unblock(ctx context.Context, actorID uuid.UUID, id uuid.UUID) (*model.BlockedItem, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return nil, err
	}
	var item *model.BlockedItem
	err := s.repos.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		changed, err := s.repos.Blocks.Deactivate(txCtx, id, actorID, s.now())
		if err != nil {
			return apperror.Internal(err)
		}
		if item, err = s.repos.Blocks.FindByID(txCtx, id); err != nil {
			return err
		}
		if !changed {
			return apperror.StaleState("This block was already lifted.")
		}
		return writeAudit(txCtx, s.repos.Audit, &actorID, model.ActionUnblockScope, item.ID.String(), string(item.ScopeKind), map[string]interface{}{
			"scope_kind": item.ScopeKind,
			"scope_id":   item.ScopeID,
		})
	})
	if err != nil {
		return nil, asAppError(err)
	}
	s.logger.WithFields(logrus.Fields{"actor_id": actorID, "block_id": id}).Info("scope unblocked")
	return item, nil
}

func (s *blockService) List(ctx context.Context, activeOnly bool, page, limit int) ([]model.BlockedItem, int64, error) {
	items, total, err := s.repos.Blocks.List(ctx, activeOnly, page, limit)
	if err != nil {
		return nil, 0, apperror.Internal(err)
	}
	return items, total, nil
}

// --- Helpers ---

func (s *blockService) authorize(ctx context.Context, actorID uuid.UUID) error {
	actor, err := s.repos.Users.GetByID(ctx, actorID)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return apperror.NotEligible("Unknown user.")
		}
		return apperror.Internal(err)
	}
	if !actor.Active || !actor.Role.Can(model.CapManageBlocks) {
		return apperror.NotEligible("You are not allowed to manage blocks.")
	}
	return nil
}

func (s *blockService) unitName(ctx context.Context, ref model.ScopeRef) (string, error) {
	switch ref.Kind {
	case model.ScopeBrand:
		b, err := s.repos.Org.GetBrand(ctx, ref.ID)
		if err != nil {
			return "", asAppError(err)
		}
		return b.Name, nil
	case model.ScopeBranch:
		b, err := s.repos.Org.GetBranch(ctx, ref.ID)
		if err != nil {
			return "", asAppError(err)
		}
		return b.Name, nil
	default:
		a, err := s.repos.Org.GetAgent(ctx, ref.ID)
		if err != nil {
			return "", asAppError(err)
		}
		return a.Name, nil
	}
}
