package conversation

import (
	"sync"
	"time"

	"debtapproval/internal/ingestion"
	"debtapproval/internal/model"

	"github.com/google/uuid"
)

// DefaultDraftTTL is how long an untouched draft survives.
const DefaultDraftTTL = 30 * time.Minute

// Key identifies one wizard: an actor within a context such as a chat or console tab.
type Key struct {
	ActorID uuid.UUID `json:"actor_id"`
	Context string    `json:"context"`
}

// Draft is an unsubmitted request being assembled by the wizard.
type Draft struct {
	State      State
	Type       model.RequestType
	BrandID    uuid.UUID
	BrandName  string
	BranchID   uuid.UUID
	BranchName string
	AgentID    uuid.UUID
	AgentName  string
	AgentCode  string
	Period     string
	ReportText string
	ExtraInfo  string
	Snapshot   *model.SpreadsheetSnapshot

	// Upload is the spreadsheet sub-flow scratch area; it is dropped on leaving the sub-flow.
	Upload *Upload
}

// Upload holds the pending table while the sub-flow runs.
type Upload struct {
	Return   State
	FileName string
	Data     []byte
	Result   *ingestion.Result
	Mapping  model.ColumnMapping
}

type entry struct {
	mu      sync.Mutex
	draft   Draft
	touched time.Time
	live    bool
}

// DraftStore keeps one draft per key and evicts drafts idle past the TTL.
// Update serialises turns for the same key; different keys never contend.
type DraftStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[Key]*entry
}

func NewDraftStore(ttl time.Duration) *DraftStore {
	return &DraftStore{ttl: ttl, now: time.Now, entries: map[Key]*entry{}}
}

// SetClock overrides the time source.
func (s *DraftStore) SetClock(now func() time.Time) {
	s.now = now
}

// lock returns the locked entry for key, creating it when needed.
func (s *DraftStore) lock(key Key) *entry {
	for {
		s.mu.Lock()
		e, ok := s.entries[key]
		if !ok {
			e = &entry{}
			s.entries[key] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		s.mu.Lock()
		current := s.entries[key] == e
		s.mu.Unlock()
		if current {
			return e
		}
		// evicted while we waited
		e.mu.Unlock()
	}
}

func (s *DraftStore) expired(e *entry, now time.Time) bool {
	return e.live && now.Sub(e.touched) > s.ttl
}

// Get returns a copy of the live draft for key.
func (s *DraftStore) Get(key Key) (Draft, bool) {
	e := s.lock(key)
	defer e.mu.Unlock()
	if !e.live || s.expired(e, s.now()) {
		s.drop(key, e)
		return Draft{}, false
	}
	return e.draft, true
}

// Update runs fn on a copy of the key's draft (a zero Draft when none is live) and
// stores the copy when fn succeeds. A draft left in a final state is removed.
// fn must replace, not mutate, the pointer fields it changes.
func (s *DraftStore) Update(key Key, fn func(d *Draft, existed bool) error) (Draft, error) {
	e := s.lock(key)
	defer e.mu.Unlock()

	now := s.now()
	existed := e.live && !s.expired(e, now)
	work := Draft{}
	if existed {
		work = e.draft
	}
	if err := fn(&work, existed); err != nil {
		if !existed {
			s.drop(key, e)
		}
		return e.draft, err
	}

	if work.State.final() {
		s.drop(key, e)
		return work, nil
	}
	e.draft, e.touched, e.live = work, now, true
	return work, nil
}

// Delete discards the key's draft.
func (s *DraftStore) Delete(key Key) {
	e := s.lock(key)
	defer e.mu.Unlock()
	s.drop(key, e)
}

// drop must be called with e locked.
func (s *DraftStore) drop(key Key, e *entry) {
	e.live = false
	e.draft = Draft{}
	s.mu.Lock()
	if s.entries[key] == e {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// EvictExpired removes drafts idle longer than the TTL and reports how many went.
func (s *DraftStore) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if !e.live || now.Sub(e.touched) > s.ttl {
			if e.live {
				evicted++
			}
			e.live = false
			delete(s.entries, key)
		}
		e.mu.Unlock()
	}
	return evicted
}

// Len reports how many drafts are live.
func (s *DraftStore) Len() int {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.live {
			n++
		}
		e.mu.Unlock()
	}
	return n
}
