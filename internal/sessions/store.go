package sessions

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns every Session for the process lifetime. The registry lock guards
// only the id map; each session has its own lock, so operations on unrelated
// sessions never contend.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	now   func() time.Time
	newID func() string
}

type entry struct {
	mu      sync.Mutex
	session Session
	evicted bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the UUID generator used for new sessions.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the session with id, creating it with cfg when it does
// not exist. An empty id mints a new one. An existing session is returned
// untouched; cfg is ignored for it.
func (s *Store) GetOrCreate(id string, cfg Config) (Session, bool, error) {
	if id != "" {
		if e := s.lookup(id); e != nil {
			if snap, ok := e.snapshot(); ok {
				return snap, false, nil
			}
		}
	}

	cfg, err := cfg.Normalize()
	if err != nil {
		return Session{}, false, NewInvalidConfigError(id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = s.newID()
	}
	if e, exists := s.entries[id]; exists {
		// lost the race against another creator
		if snap, ok := e.snapshot(); ok {
			return snap, false, nil
		}
	}

	now := s.now()
	e := &entry{session: Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
		Turns:        []Turn{},
		Config:       cfg,
	}}
	s.entries[id] = e
	return e.session.clone(), true, nil
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (Session, error) {
	e := s.lookup(id)
	if e == nil {
		return Session{}, NewNotFoundError(id)
	}
	snap, ok := e.snapshot()
	if !ok {
		return Session{}, NewNotFoundError(id)
	}
	return snap, nil
}

// AppendTurns appends turns in order as one atomic step.
func (s *Store) AppendTurns(id string, turns ...Turn) error {
	return s.Commit(id, false, turns...)
}

// Commit appends turns and, when complete is set, marks the session completed,
// all under the session lock. A completed session rejects further turns.
func (s *Store) Commit(id string, complete bool, turns ...Turn) error {
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return NewInvalidTurnError(id, err)
		}
	}

	e := s.lookup(id)
	if e == nil {
		return NewNotFoundError(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return NewNotFoundError(id)
	}
	if e.session.Completed && len(turns) > 0 {
		return NewCompletedError(id)
	}

	now := s.now()
	for _, t := range turns {
		t = t.clone()
		if t.ProducedAt.IsZero() {
			t.ProducedAt = now
		}
		e.session.Turns = append(e.session.Turns, t)
	}
	if complete {
		e.session.Completed = true
	}
	e.session.LastActiveAt = now
	return nil
}

// MarkCompleted flips completed. Calling it again is a no-op.
func (s *Store) MarkCompleted(id string) error {
	return s.Commit(id, true)
}

// Touch records activity without changing turns.
func (s *Store) Touch(id string) error {
	e := s.lookup(id)
	if e == nil {
		return NewNotFoundError(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return NewNotFoundError(id)
	}
	e.session.LastActiveAt = s.now()
	return nil
}

// List returns summaries ordered by creation time.
func (s *Store) List() []Summary {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted {
			out = append(out, e.session.summary())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Evict removes a session. It is never called automatically.
func (s *Store) Evict(id string) error {
	s.mu.Lock()
	e, exists := s.entries[id]
	if !exists {
		s.mu.Unlock()
		return NewNotFoundError(id)
	}
	delete(s.entries, id)
	s.mu.Unlock()

	e.mu.Lock()
	e.evicted = true
	e.mu.Unlock()
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

func (e *entry) snapshot() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return Session{}, false
	}
	return e.session.clone(), true
}
