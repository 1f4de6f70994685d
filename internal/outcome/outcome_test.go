package outcome

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/pattern"
	"github.com/sentientiq/pulse-engine/internal/session"
)

type fakeHot struct {
	upserts []Outcome
	failN   int
}

func (f *fakeHot) Upsert(o Outcome) error {
	if f.failN > 0 {
		f.failN--
		return errors.New("transient")
	}
	f.upserts = append(f.upserts, o)
	return nil
}

type fakeCold struct {
	appends []Outcome
}

func (f *fakeCold) Append(o Outcome) error {
	f.appends = append(f.appends, o)
	return nil
}

func TestFileHotStore_UpsertIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileHotStore(dir)
	require.NoError(t, err)

	o := Outcome{SessionID: "s1", TenantID: "t1"}
	require.NoError(t, store.Upsert(o))
	require.NoError(t, store.Upsert(o))
}

func TestFileColdStore_AppendsPartitionedByDate(t *testing.T) {
	dir := t.TempDir()
	store := NewFileColdStore(dir)

	o := Outcome{SessionID: "s1", TenantID: "t1", EndedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.Append(o))
	require.NoError(t, store.Append(o))
}

func TestFromSnapshot_SummarizesPeakEmotionAndInterventions(t *testing.T) {
	store := session.NewStore()
	startedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st, _ := store.GetOrCreate("s1", "t1", startedAt)

	st.RecordEmotion(emotion.Sample{Label: emotion.LabelStickerShock, Confidence: 90, At: startedAt})
	st.RecordEmotion(emotion.Sample{Label: emotion.LabelEngaged, Confidence: 40, At: startedAt.Add(time.Minute)})
	st.RecordIntervention(intervention.Record{
		Pattern: pattern.NameCartAbandonmentImminent, State: intervention.StateAcked, DollarImpact: -120,
	})

	endedAt := startedAt.Add(10 * time.Minute)
	o := FromSnapshot("t1", st.Snapshot(), FinalOutcomeConversion, endedAt)

	assert.Equal(t, "s1", o.SessionID)
	assert.Equal(t, "t1", o.TenantID)
	assert.Equal(t, FinalOutcomeConversion, o.FinalOutcome)
	assert.Equal(t, emotion.LabelStickerShock, o.PeakEmotion)
	assert.Equal(t, 90.0, o.PeakConfidence)
	assert.True(t, o.InterventionAck)
	assert.Equal(t, -120.0, o.DollarImpactSum)
	assert.Equal(t, int64(10*time.Minute/time.Millisecond), o.DurationMS)
	assert.Equal(t, []emotion.Label{emotion.LabelStickerShock, emotion.LabelEngaged}, o.EmotionPath)
}

func TestRecorder_RetriesThenSucceeds(t *testing.T) {
	hot := &fakeHot{failN: 2}
	cold := &fakeCold{}
	r := NewRecorder(hot, cold, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer cancel()

	r.Events() <- Event{Outcome: Outcome{SessionID: "s1"}}

	require.Eventually(t, func() bool { return len(hot.upserts) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, r.DroppedWrites())
}

func TestRecorder_DropsAfterRetryBudgetExhausted(t *testing.T) {
	hot := &fakeHot{failN: 999}
	cold := &fakeCold{}
	r := NewRecorder(hot, cold, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer cancel()

	r.Events() <- Event{Outcome: Outcome{SessionID: "s1"}}

	require.Eventually(t, func() bool { return r.DroppedWrites() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, hot.upserts)
}
