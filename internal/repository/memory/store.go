// Package memory is an in-process implementation of the repository interfaces.
// Transactions are serialised; a failed transaction restores the state it started from.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"debtapproval/internal/model"
	"debtapproval/internal/repository"

	"github.com/google/uuid"
)

type txMarker struct{}

type cursorKey struct {
	kind   model.ScopeKind
	scope  uuid.UUID
	role   model.Role
	userID uuid.UUID
}

type state struct {
	users    map[uuid.UUID]model.User
	brands   map[uuid.UUID]model.Brand
	branches map[uuid.UUID]model.Branch
	agents   map[uuid.UUID]model.Agent
	requests map[uuid.UUID]model.Request
	archived map[uuid.UUID]model.ArchivedRequest
	records  []model.ApprovalRecord
	bindings []model.RoleScopeBinding
	blocks   map[uuid.UUID]model.BlockedItem
	cursors  map[cursorKey]time.Time
	audits   []model.AuditLog
}

func newState() state {
	return state{
		users:    map[uuid.UUID]model.User{},
		brands:   map[uuid.UUID]model.Brand{},
		branches: map[uuid.UUID]model.Branch{},
		agents:   map[uuid.UUID]model.Agent{},
		requests: map[uuid.UUID]model.Request{},
		archived: map[uuid.UUID]model.ArchivedRequest{},
		blocks:   map[uuid.UUID]model.BlockedItem{},
		cursors:  map[cursorKey]time.Time{},
	}
}

// clone copies every table; stored values are replaced wholesale, never mutated in place.
func (s state) clone() state {
	return state{
		users:    maps.Clone(s.users),
		brands:   maps.Clone(s.brands),
		branches: maps.Clone(s.branches),
		agents:   maps.Clone(s.agents),
		requests: maps.Clone(s.requests),
		archived: maps.Clone(s.archived),
		records:  slices.Clone(s.records),
		bindings: slices.Clone(s.bindings),
		blocks:   maps.Clone(s.blocks),
		cursors:  maps.Clone(s.cursors),
		audits:   slices.Clone(s.audits),
	}
}

// Store holds all tables. Writes outside a transaction take the transaction
// lock for their own duration, so they never interleave with a running one.
// While a transaction runs, reads outside it see committed, the state as of its start.
type Store struct {
	txMu      sync.Mutex
	mu        sync.RWMutex
	data      state
	committed *state
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{data: newState(), now: time.Now}
}

// SetClock overrides the time source used for generated timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txMarker{}).(bool)
	return ok
}

func (s *Store) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := s.data.clone()
	s.committed = &saved
	s.mu.Unlock()

	err := fn(context.WithValue(ctx, txMarker{}, true))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.data = saved
	}
	s.committed = nil
	return err
}

func (s *Store) write(ctx context.Context, fn func(d *state) error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.data)
}

func (s *Store) read(ctx context.Context, fn func(d *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.committed != nil && !inTx(ctx) {
		fn(s.committed)
		return
	}
	fn(&s.data)
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Tx:          s,
		Requests:    &requestRepo{s},
		Records:     &recordRepo{s},
		Bindings:    &bindingRepo{s},
		Blocks:      &blockRepo{s},
		Org:         &orgRepo{s},
		Users:       &userRepo{s},
		Assignments: &assignmentRepo{s},
		Audit:       &auditRepo{s},
		Statistics:  &statisticsRepo{s},
	}
}

func page[T any](items []T, pageNum, limit int) []T {
	if limit <= 0 {
		return items
	}
	start := (max(pageNum, 1) - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	return items[start:min(start+limit, len(items))]
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
