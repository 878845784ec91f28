// Package session owns per-tab session lifecycle: the serialized cleanup
// discipline, and persistence of session identity across host restarts
// (spec §4.C). The one-attachment-per-tab check itself lives in
// internal/cdp's Driver.Attach. It is grounded on the
// teacher's internal/operation package (Status enum, Store interface,
// MemoryStore) generalized from a linear capture-job lifecycle to the
// IDLE/CLEANING/ATTACHING/RUNNING state machine this spec describes.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaypilot/agentbridge/internal/model"
)

// State is a Session Controller lifecycle state (spec §4.C).
type State string

const (
	StateIdle      State = "idle"
	StateCleaning  State = "cleaning"
	StateAttaching State = "attaching"
	StateRunning   State = "running"
)

// Session is the domain object for one goal-driven run against one tab.
// Mutated by its owning Controller, by the agent loop driving it (Step,
// ActionLog) and by the session manager's stop path (Stopped).
type Session struct {
	ID        string
	Goal      string
	Tab       model.TabHandle
	Step      int
	Stopped   bool
	ActionLog []model.ActionRecord
	StartedAt time.Time
	State     State
}

// AppendAction appends rec to the action log, keeping at most
// model.MaxActionLog entries (most-recent suffix retained).
func (s *Session) AppendAction(rec model.ActionRecord) {
	s.ActionLog = append(s.ActionLog, rec)
	if len(s.ActionLog) > model.MaxActionLog {
		s.ActionLog = s.ActionLog[len(s.ActionLog)-model.MaxActionLog:]
	}
}

// RecentActions returns the last model.MaxRecentActions entries of the
// action log, for embedding into an observation.
func (s *Session) RecentActions() []model.ActionRecord {
	if len(s.ActionLog) <= model.MaxRecentActions {
		return append([]model.ActionRecord(nil), s.ActionLog...)
	}
	return append([]model.ActionRecord(nil), s.ActionLog[len(s.ActionLog)-model.MaxRecentActions:]...)
}

// Store is the interface for persisting and retrieving session metadata,
// mirroring the teacher's operation.Store shape but reduced to the fields
// a Session Controller needs for observability (the durable record used
// for crash recovery lives in internal/sqlitekv, not here).
type Store interface {
	Create(goal string, tab model.TabHandle) (*Session, error)
	Get(id string) (*Session, error)
	List() []*Session
	Update(id string, fn func(*Session)) error
	Delete(id string)
}

// MemoryStore is a concurrency-safe in-memory Store, used by the HTTP
// status surface (GET /sessions, GET /sessions/{id}).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Create(goal string, tab model.TabHandle) (*Session, error) {
	sess := &Session{
		ID:        uuid.New().String(),
		Goal:      goal,
		Tab:       tab,
		StartedAt: time.Now(),
		State:     StateIdle,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *MemoryStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) Update(id string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	fn(sess)
	return nil
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
