package session

import (
	"sync"
	"time"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

// Store owns the live map of sessions. It only guards the map itself —
// once a *State is handed to a shard worker, that worker is the sole
// mutator for the lifetime of the session (a single-writer-per-session
// rule); the store's job is look-up, creation, and idle expiry over a flat
// map-with-mutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*State)}
}

// GetOrCreate returns the existing session for id, or creates one with the
// given tenant and start time. The returned *State is the live, mutable
// value — callers must be the shard worker owning this session.
func (s *Store) GetOrCreate(id, tenantID string, at time.Time) (st *State, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		return existing, false
	}
	st = NewState(id, tenantID, at)
	s.sessions[id] = st
	return st, true
}

// Get returns a defensive Snapshot of the session, or false if unknown.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return st.Snapshot(), true
}

// AppendEvent routes ev to its session (creating one if unseen) and
// returns the live *State so the caller's shard worker can continue the
// pipeline (physics → classify → pattern → intervention) without a second
// map lookup.
func (s *Store) AppendEvent(ev telemetry.Event, at time.Time) *State {
	st, _ := s.GetOrCreate(ev.SessionID, ev.TenantID, at)
	st.AppendEvent(ev)
	return st
}

// RecordEmotion appends sample to the named session's history, if it
// exists. A missing session is a no-op: emotion samples are always
// produced from an event already routed through AppendEvent.
func (s *Store) RecordEmotion(id string, sample emotion.Sample) {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		st.RecordEmotion(sample)
	}
}

// RecordIntervention appends rec to the named session's history.
func (s *Store) RecordIntervention(id string, rec intervention.Record) {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		st.RecordIntervention(rec)
	}
}

// Snapshot returns a defensive copy of every session, for the pulse/
// dashboard endpoints.
func (s *Store) Snapshot() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.sessions))
	for _, st := range s.sessions {
		out = append(out, st.Snapshot())
	}
	return out
}

// ActiveCount returns the number of non-terminal sessions.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.sessions {
		if !st.IsTerminal() {
			n++
		}
	}
	return n
}

// ExpireIdle marks every session idle longer than maxIdle as terminated
// and removes it from the store, returning their snapshots so the caller
// (the idle sweep in cmd/sentientiqd) can emit an idle_timeout outcome
// record for each. Run on a periodic sweep, e.g. every 60s.
func (s *Store) ExpireIdle(at time.Time, maxIdle time.Duration) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Snapshot
	for id, st := range s.sessions {
		if st.IdleFor(at) < maxIdle {
			continue
		}
		st.Lifecycle = LifecycleTerminated
		expired = append(expired, st.Snapshot())
		delete(s.sessions, id)
	}
	return expired
}

// Remove deletes a session outright (explicit close, e.g. page unload
// beacon), without waiting for the idle sweep.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}
