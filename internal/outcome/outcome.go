// Package outcome implements the dual-write outcome recorder: a hot
// upsert-by-session-id snapshot for low-latency reads, and a cold
// append-only log partitioned by tenant/date for downstream consumption,
// driven by a channel-fed event loop that writes each outcome to both
// sinks as it arrives, with retry/backoff on each write.
package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/session"
)

const (
	saveInterval   = 10 * time.Second
	eventBufferCap = 1024

	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 30 * time.Second
	retryMaxAttempts = 5
)

// FinalOutcome is the closed set of terminal states a session can reach.
type FinalOutcome string

const (
	FinalOutcomeConversion  FinalOutcome = "conversion"
	FinalOutcomeAbandonment FinalOutcome = "abandonment"
	FinalOutcomeIdleTimeout FinalOutcome = "idle_timeout"
)

// Outcome is a terminal summary of one session's emotional trajectory and
// intervention history, the unit both sinks persist.
type Outcome struct {
	SessionID    string    `json:"session_id"`
	TenantID     string    `json:"tenant_id"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	DurationMS   int64     `json:"duration_ms"`
	FinalOutcome FinalOutcome `json:"final_outcome"`

	EmotionPath     []emotion.Label `json:"emotion_path"`
	PeakEmotion     emotion.Label   `json:"peak_emotion"`
	PeakConfidence  float64         `json:"peak_confidence"`

	Interventions   []intervention.Record `json:"interventions"`
	InterventionAck bool                  `json:"intervention_ack"`
	DollarImpactSum float64               `json:"dollar_impact_sum"`
}

// FromSnapshot builds the terminal Outcome for a session that just left the
// live pipeline, either via explicit lifecycle termination or idle expiry.
func FromSnapshot(tenantID string, snap session.Snapshot, final FinalOutcome, endedAt time.Time) Outcome {
	var ack bool
	var dollarSum float64
	for _, rec := range snap.RecentInterventions {
		if rec.State == intervention.StateAcked {
			ack = true
		}
		dollarSum += rec.DollarImpact
	}

	var peakLabel emotion.Label
	var peakConfidence float64
	if snap.HasPeak {
		peakLabel = snap.PeakEmotion.Label
		peakConfidence = snap.PeakEmotion.Confidence
	}

	return Outcome{
		SessionID:       snap.ID,
		TenantID:        tenantID,
		StartedAt:       snap.StartedAt,
		EndedAt:         endedAt,
		DurationMS:      endedAt.Sub(snap.StartedAt).Milliseconds(),
		FinalOutcome:    final,
		EmotionPath:     snap.EmotionPath,
		PeakEmotion:     peakLabel,
		PeakConfidence:  peakConfidence,
		Interventions:   snap.RecentInterventions,
		InterventionAck: ack,
		DollarImpactSum: dollarSum,
	}
}

// HotStore upserts an Outcome keyed by session_id for low-latency reads.
type HotStore interface {
	Upsert(o Outcome) error
}

// ColdStore appends an Outcome to a partitioned, append-only log.
type ColdStore interface {
	Append(o Outcome) error
}

// fileHotStore persists each session's latest Outcome as its own JSON file,
// written atomically via temp-file-then-rename.
type fileHotStore struct {
	dir string
}

// NewFileHotStore returns a HotStore rooted at dir (created if absent).
func NewFileHotStore(dir string) (HotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("outcome: create hot store dir: %w", err)
	}
	return &fileHotStore{dir: dir}, nil
}

func (f *fileHotStore) Upsert(o Outcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("outcome: marshal: %w", err)
	}
	path := filepath.Join(f.dir, o.SessionID+".json")
	tmp, err := os.CreateTemp(f.dir, o.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("outcome: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("outcome: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("outcome: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("outcome: rename: %w", err)
	}
	return nil
}

// fileColdStore appends one JSON line per Outcome to
// <bucket>/<tenant>/<YYYY-MM-DD>.jsonl, the local stand-in for an
// object-store bucket (see DESIGN.md: no pack library offers an
// append-log abstraction in scope here).
type fileColdStore struct {
	bucket string
	mu     sync.Mutex
}

// NewFileColdStore returns a ColdStore rooted at bucket.
func NewFileColdStore(bucket string) ColdStore {
	return &fileColdStore{bucket: bucket}
}

func (f *fileColdStore) Append(o Outcome) error {
	dir := filepath.Join(f.bucket, o.TenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("outcome: create cold store dir: %w", err)
	}
	path := filepath.Join(dir, o.EndedAt.UTC().Format("2006-01-02")+".jsonl")

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("outcome: marshal: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("outcome: open append log: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("outcome: append: %w", err)
	}
	return nil
}

// Event feeds the Recorder's event loop.
type Event struct {
	Outcome Outcome
}

// Recorder drains a channel of Outcomes and writes them to both sinks with
// retry/backoff, never blocking the live pipeline on a slow or failing
// sink — failed writes past the retry budget increment droppedWrites and
// are otherwise discarded.
type Recorder struct {
	hot  HotStore
	cold ColdStore
	log  *zap.Logger

	events chan Event

	mu            sync.Mutex
	droppedWrites int
}

// NewRecorder builds a Recorder writing to hot and cold.
func NewRecorder(hot HotStore, cold ColdStore, log *zap.Logger) *Recorder {
	return &Recorder{
		hot:    hot,
		cold:   cold,
		log:    log,
		events: make(chan Event, eventBufferCap),
	}
}

// Events returns the send side of the recorder's event channel.
func (r *Recorder) Events() chan<- Event { return r.events }

// DroppedWrites returns how many outcomes exhausted their retry budget.
func (r *Recorder) DroppedWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.droppedWrites
}

// Run drains events until ctx is cancelled. Each event is written to both
// sinks inline with retry/backoff — acceptable because outcome writes are
// off the hot ingest path: the never-block-the-live-pipeline rule covers
// ingest/classify/broadcast, not this terminal sink.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.write(ctx, ev.Outcome)
		}
	}
}

func (r *Recorder) write(ctx context.Context, o Outcome) {
	if err := r.withRetry(ctx, func() error { return r.hot.Upsert(o) }); err != nil {
		r.drop("hot", o, err)
	}
	if err := r.withRetry(ctx, func() error { return r.cold.Append(o) }); err != nil {
		r.drop("cold", o, err)
	}
}

func (r *Recorder) withRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return lastErr
}

func (r *Recorder) drop(sink string, o Outcome, err error) {
	r.mu.Lock()
	r.droppedWrites++
	r.mu.Unlock()
	if r.log != nil {
		r.log.Error("outcome write dropped after retry budget exhausted",
			zap.String("sink", sink), zap.String("session_id", o.SessionID), zap.Error(err))
	}
}
