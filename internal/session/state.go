// Package session holds per-session state: physics, recent event/emotion/
// intervention history, and the store that owns it. Mutation is always
// single-writer (the owning shard worker) — the store itself only guards
// the map of sessions, not the sessions' internal state.
package session

import (
	"time"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/physics"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

// Lifecycle is a session's coarse state machine: a closed set,
// JSON-marshaled by name rather than ordinal.
type Lifecycle int

const (
	LifecycleNew Lifecycle = iota
	LifecycleActive
	LifecycleMuted
	LifecycleClosing
	LifecycleTerminated
)

var lifecycleNames = map[Lifecycle]string{
	LifecycleNew:        "new",
	LifecycleActive:     "active",
	LifecycleMuted:      "muted",
	LifecycleClosing:    "closing",
	LifecycleTerminated: "terminated",
}

var lifecycleFromName = func() map[string]Lifecycle {
	m := make(map[string]Lifecycle, len(lifecycleNames))
	for k, v := range lifecycleNames {
		m[v] = k
	}
	return m
}()

func (l Lifecycle) String() string {
	if name, ok := lifecycleNames[l]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the lifecycle by name, not ordinal, so the wire
// format survives reordering the iota block.
func (l Lifecycle) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON decodes a lifecycle name back into its ordinal.
func (l *Lifecycle) UnmarshalJSON(data []byte) error {
	name := string(data)
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		name = name[1 : len(name)-1]
	}
	if v, ok := lifecycleFromName[name]; ok {
		*l = v
		return nil
	}
	*l = LifecycleNew
	return nil
}

const (
	eventHistorySize    = 50
	emotionHistorySize  = 50
	interventionHistory = 20
)

// State is the full per-session record owned by the store. Only the shard
// worker that owns a session mutates it; readers (HTTP snapshot handlers,
// the broadcaster) receive a Snapshot copy instead of this live value.
type State struct {
	ID          string
	TenantID    string
	StartedAt   time.Time
	LastEventAt time.Time
	Lifecycle   Lifecycle

	Physics *physics.State

	events        []telemetry.Event
	emotions      []emotion.Sample
	interventions []intervention.Record

	peak    emotion.Sample
	hasPeak bool
}

// NewState starts a fresh session record.
func NewState(id, tenantID string, startedAt time.Time) *State {
	return &State{
		ID:            id,
		TenantID:      tenantID,
		StartedAt:     startedAt,
		LastEventAt:   startedAt,
		Lifecycle:     LifecycleNew,
		Physics:       physics.NewState(),
		events:        make([]telemetry.Event, 0, eventHistorySize),
		emotions:      make([]emotion.Sample, 0, emotionHistorySize),
		interventions: make([]intervention.Record, 0, interventionHistory),
	}
}

// AppendEvent records ev in the bounded event history (drop-oldest past
// eventHistorySize) and advances LastEventAt/Lifecycle.
func (s *State) AppendEvent(ev telemetry.Event) {
	s.events = appendBounded(s.events, ev, eventHistorySize)
	s.LastEventAt = ev.Timestamp
	if s.Lifecycle == LifecycleNew {
		s.Lifecycle = LifecycleActive
	}
}

// RecordEmotion appends an emotion sample to the bounded history and
// updates the session's peak (highest-confidence) emotion.
func (s *State) RecordEmotion(sample emotion.Sample) {
	s.emotions = appendBounded(s.emotions, sample, emotionHistorySize)
	if !s.hasPeak || sample.Confidence > s.peak.Confidence {
		s.peak = sample
		s.hasPeak = true
	}
}

// EmotionPath returns the ordered sequence of emotion labels recorded this
// session, bounded by the same history as RecordEmotion.
func (s *State) EmotionPath() []emotion.Label {
	path := make([]emotion.Label, len(s.emotions))
	for i, sample := range s.emotions {
		path[i] = sample.Label
	}
	return path
}

// RecordIntervention appends a dispatched intervention record.
func (s *State) RecordIntervention(rec intervention.Record) {
	s.interventions = appendBounded(s.interventions, rec, interventionHistory)
}

// EmotionWindow returns the last n emotion samples (oldest first), for the
// pattern detector's windowed evaluation.
func (s *State) EmotionWindow(n int) []emotion.Sample {
	if len(s.emotions) <= n {
		return append([]emotion.Sample(nil), s.emotions...)
	}
	start := len(s.emotions) - n
	return append([]emotion.Sample(nil), s.emotions[start:]...)
}

// LastEmotion returns the most recent emotion sample and true, or the zero
// value and false if none has been recorded yet.
func (s *State) LastEmotion() (emotion.Sample, bool) {
	if len(s.emotions) == 0 {
		return emotion.Sample{}, false
	}
	return s.emotions[len(s.emotions)-1], true
}

// AgeMS returns the session's age in milliseconds at instant at.
func (s *State) AgeMS(at time.Time) int64 {
	return at.Sub(s.StartedAt).Milliseconds()
}

// IdleFor returns how long the session has been without an event, as of at.
func (s *State) IdleFor(at time.Time) time.Duration {
	return at.Sub(s.LastEventAt)
}

// IsTerminal reports whether the session has left the live pipeline.
func (s *State) IsTerminal() bool {
	return s.Lifecycle == LifecycleTerminated
}

// Snapshot is the read-only, defensively-copied view returned to callers
// outside the owning shard (HTTP handlers, the broadcaster's pulse feed).
type Snapshot struct {
	ID                  string
	TenantID            string
	StartedAt           time.Time
	LastEventAt         time.Time
	Lifecycle           Lifecycle
	Physics             physics.State
	LastEmotion         emotion.Sample
	HasEmotion          bool
	PeakEmotion         emotion.Sample
	HasPeak             bool
	EmotionPath         []emotion.Label
	RecentInterventions []intervention.Record
}

// Snapshot returns a defensive copy of s suitable for concurrent readers.
func (s *State) Snapshot() Snapshot {
	last, ok := s.LastEmotion()
	return Snapshot{
		ID:                  s.ID,
		TenantID:            s.TenantID,
		StartedAt:           s.StartedAt,
		LastEventAt:         s.LastEventAt,
		Lifecycle:           s.Lifecycle,
		Physics:             *s.Physics,
		LastEmotion:         last,
		HasEmotion:          ok,
		PeakEmotion:         s.peak,
		HasPeak:             s.hasPeak,
		EmotionPath:         s.EmotionPath(),
		RecentInterventions: append([]intervention.Record(nil), s.interventions...),
	}
}

func appendBounded[T any](slice []T, v T, limit int) []T {
	slice = append(slice, v)
	if len(slice) > limit {
		slice = slice[len(slice)-limit:]
	}
	return slice
}
