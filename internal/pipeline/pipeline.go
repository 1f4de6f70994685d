// Package pipeline composes session state, physics, emotion
// classification, pattern detection, and intervention gating into a single
// in-process harness, with no network or shard concurrency involved. It
// exists to drive named end-to-end scenarios against the real component
// implementations rather than mocks of them.
package pipeline

import (
	"context"
	"time"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/identity"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/pattern"
	"github.com/sentientiq/pulse-engine/internal/session"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

// recordingDispatcher captures every Record handed to it, for assertions.
type recordingDispatcher struct {
	records []intervention.Record
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, rec intervention.Record) error {
	d.records = append(d.records, rec)
	return nil
}

// Harness bundles one session's worth of the real physics/emotion/pattern/
// intervention components, run single-threaded, for scenario tests.
type Harness struct {
	Store         *session.Store
	Classifier    *emotion.Classifier
	Detector      *pattern.Detector
	Interventions *intervention.Engine
	Dispatcher    *recordingDispatcher
}

// NewHarness builds a Harness with the reference component configuration.
func NewHarness() *Harness {
	d := &recordingDispatcher{}
	return &Harness{
		Store:         session.NewStore(),
		Classifier:    emotion.New(emotion.DefaultConfig()),
		Detector:      pattern.New(),
		Interventions: intervention.New(d),
		Dispatcher:    d,
	}
}

// Step runs one event through physics accumulation, classification, pattern
// detection, and intervention gating for a fixed identity, returning the
// resulting emotion sample and any dispatched intervention.
func (h *Harness) Step(ev telemetry.Event, id identity.Identity) (emotion.Sample, intervention.Record, bool) {
	st, _ := h.Store.GetOrCreate(ev.SessionID, ev.TenantID, ev.Timestamp)
	st.AppendEvent(ev)
	st.Physics.Accumulate(ev)

	lastLabel, lastAt := emotion.Label(""), time.Time{}
	if last, ok := st.LastEmotion(); ok {
		lastLabel, lastAt = last.Label, last.At
	}

	sample := h.Classifier.Classify(emotion.Input{
		Event: ev, Physics: *st.Physics, SessionAgeMS: st.AgeMS(ev.Timestamp),
		LastLabel: lastLabel, LastLabelAt: lastAt,
	})
	st.RecordEmotion(sample)

	matches := h.Detector.Detect(st.EmotionWindow(pattern.WindowSize))
	rec, ok := h.Interventions.Evaluate(context.Background(), ev.SessionID, ev.TenantID, ev.Timestamp, id, matches)
	if ok {
		st.RecordIntervention(rec)
	}
	return sample, rec, ok
}
