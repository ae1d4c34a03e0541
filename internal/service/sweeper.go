package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/config"
	"debtapproval/internal/model"
	"debtapproval/internal/repository"
	"debtapproval/internal/routing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const sweepBatchSize = 100

// DraftEvictor drops conversation drafts idle past their TTL.
type DraftEvictor interface {
	EvictExpired(now time.Time) int
}

// SweepReport counts what one pass did.
type SweepReport struct {
	LocksReleased int
	Reminded      int
	Assigned      int
	Archived      int
	DraftsEvicted int
}

// Sweeper runs the periodic maintenance pass. It never changes a request's status.
type Sweeper struct {
	cfg      config.WorkflowConfig
	repos    *repository.Repositories
	router   routing.Router
	notifier *Notifier
	drafts   DraftEvictor
	logger   *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	reminded map[uuid.UUID]time.Time
}

func NewSweeper(cfg config.WorkflowConfig, repos *repository.Repositories, router routing.Router, notifier *Notifier, drafts DraftEvictor, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		repos:    repos,
		router:   router,
		notifier: notifier,
		drafts:   drafts,
		logger:   logger,
		now:      time.Now,
		reminded: map[uuid.UUID]time.Time{},
	}
}

// SetClock overrides the sweeper's time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	s.logger.WithField("interval", s.cfg.SweepInterval.String()).Info("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Each step logs its own failures and the pass continues.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var report SweepReport
	report.LocksReleased = s.releaseStaleLocks(ctx, now)
	report.Reminded, report.Assigned = s.remind(ctx, now)
	report.Archived = s.archive(ctx, now)
	if s.drafts != nil {
		report.DraftsEvicted = s.drafts.EvictExpired(now)
	}

	if report != (SweepReport{}) {
		s.logger.WithFields(logrus.Fields{
			"locks_released": report.LocksReleased,
			"reminded":       report.Reminded,
			"assigned":       report.Assigned,
			"archived":       report.Archived,
			"drafts_evicted": report.DraftsEvicted,
		}).Info("sweep finished")
	}
	return report
}

func (s *Sweeper) releaseStaleLocks(ctx context.Context, now time.Time) int {
	released, err := s.repos.Requests.ReleaseStaleLocks(ctx, now.Add(-s.cfg.LockTimeout))
	if err != nil {
		s.logger.WithError(err).Error("failed to release stale locks")
		return 0
	}
	for _, req := range released {
		anomaly := apperror.LockTimeout(fmt.Sprintf("lock on %s held past %s was force-released", req.UID, s.cfg.LockTimeout))
		s.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"uid":        req.UID,
			"locked_by":  req.LockedBy,
			"locked_at":  req.LockedAt,
			"kind":       anomaly.Kind,
		}).Warn(anomaly.Message)

		if err := writeAudit(ctx, s.repos.Audit, nil, model.ActionForceReleaseLock, req.ID.String(), req.UID, map[string]interface{}{
			"status":    req.Status,
			"locked_by": req.LockedBy,
			"locked_at": req.LockedAt,
		}); err != nil {
			s.logger.WithError(err).WithField("request_id", req.ID).Error("failed to audit lock release")
		}
	}
	return len(released)
}

// remind re-notifies idle requests at most once per reminder interval, and fills a
// missing assignee pointer on rotating stages. It pages through every idle request.
func (s *Sweeper) remind(ctx context.Context, now time.Time) (reminded, assigned int) {
	seen := make(map[uuid.UUID]bool)
	var after repository.IdleCursor
	for {
		idle, err := s.repos.Requests.ListIdleOpen(ctx, now.Add(-s.cfg.ReminderAge), after, sweepBatchSize)
		if err != nil {
			s.logger.WithError(err).Error("failed to list idle requests")
			return reminded, assigned
		}
		for i := range idle {
			req := &idle[i]
			seen[req.ID] = true
			r, a := s.remindOne(ctx, now, req)
			if r {
				reminded++
			}
			if a {
				assigned++
			}
		}
		if len(idle) < sweepBatchSize {
			break
		}
		last := idle[len(idle)-1]
		after = repository.IdleCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}

	for id := range s.reminded {
		if !seen[id] {
			delete(s.reminded, id)
		}
	}
	return reminded, assigned
}

func (s *Sweeper) remindOne(ctx context.Context, now time.Time, req *model.Request) (reminded, assigned bool) {
	if last, ok := s.reminded[req.ID]; ok && now.Sub(last) < s.cfg.ReminderInterval {
		return false, false
	}
	log := s.logger.WithFields(logrus.Fields{"request_id": req.ID, "uid": req.UID, "status": req.Status})

	var (
		aud *routing.Audience
		err error
	)
	if req.CurrentApproverID == nil {
		aud, err = s.router.Assign(ctx, req)
	} else {
		aud, err = s.router.Resolve(ctx, req)
	}
	switch {
	case apperror.Is(err, apperror.KindNoApproversFound):
		log.Warn("reminder found no approvers")
		s.notifier.NoApprovers(ctx, req, apperror.From(err).Message)
		s.reminded[req.ID] = now
		return true, false
	case apperror.Is(err, apperror.KindScopeBlocked):
		log.Debug("reminder skipped for blocked scope")
		return false, false
	case err != nil:
		log.WithError(err).Error("reminder routing failed")
		return false, false
	}

	if req.CurrentApproverID == nil && aud.Primary != nil {
		ok, err := s.repos.Requests.SetAssigneeIfUnchanged(ctx, req.ID, req.Status, aud.Primary.User.ID, aud.Role)
		if err != nil {
			log.WithError(err).Error("failed to set assignee")
		} else if ok {
			assigned = true
		}
	} else if req.CurrentApproverID != nil {
		for i, c := range aud.Candidates {
			if c.User.ID == *req.CurrentApproverID {
				aud.Primary = &aud.Candidates[i]
			}
		}
	}

	s.notifier.Remind(ctx, req, aud)
	s.reminded[req.ID] = now
	return true, assigned
}

func (s *Sweeper) archive(ctx context.Context, now time.Time) int {
	if s.cfg.ArchiveAfter <= 0 {
		return 0
	}
	done, err := s.repos.Requests.ListTerminalBefore(ctx, now.Add(-s.cfg.ArchiveAfter), sweepBatchSize)
	if err != nil {
		s.logger.WithError(err).Error("failed to list archivable requests")
		return 0
	}

	archived := 0
	for i := range done {
		req := &done[i]
		err := s.repos.Tx.RunInTx(ctx, func(txCtx context.Context) error {
			if err := s.repos.Requests.Archive(txCtx, req, now); err != nil {
				return err
			}
			return writeAudit(txCtx, s.repos.Audit, nil, model.ActionArchiveRequest, req.ID.String(), req.UID, map[string]interface{}{
				"status": req.Status,
			})
		})
		if err != nil {
			s.logger.WithError(err).WithField("request_id", req.ID).Error("failed to archive request")
			continue
		}
		archived++
	}
	return archived
}
