package shard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/identity"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/outcome"
	"github.com/sentientiq/pulse-engine/internal/pattern"
	"github.com/sentientiq/pulse-engine/internal/session"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

type fakeIdentityStore struct{}

func (fakeIdentityStore) Get(ctx context.Context, sessionID string) (identity.Identity, bool, error) {
	return identity.Identity{}, false, nil
}

type recordingEmotionSink struct {
	samples []emotion.Sample
}

func (s *recordingEmotionSink) EmitEmotion(sample emotion.Sample, tenantID string) {
	s.samples = append(s.samples, sample)
}

type recordingInterventionSink struct {
	records []intervention.Record
}

func (s *recordingInterventionSink) EmitIntervention(rec intervention.Record) {
	s.records = append(s.records, rec)
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, rec intervention.Record) error { return nil }

func TestPool_ProcessesEventsThroughFullPipeline(t *testing.T) {
	store := session.NewStore()
	emotionSink := &recordingEmotionSink{}
	interventionSink := &recordingInterventionSink{}

	pool := New(Config{
		Shards:           2,
		QueueSize:        8,
		Store:            store,
		Identity:         identity.NewResolver(fakeIdentityStore{}, nil),
		Classifier:       emotion.New(emotion.DefaultConfig()),
		Detector:         pattern.New(),
		Interventions:    intervention.New(noopDispatcher{}),
		EmotionSink:      emotionSink,
		InterventionSink: interventionSink,
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Run(ctx)
	defer cancel()

	ok := pool.Submit(telemetry.Event{
		SessionID: "s1", TenantID: "t1", Timestamp: time.Now(), Type: telemetry.EventMouseMove, Section: "home",
	})
	require.True(t, ok)

	require.Eventually(t, func() bool { return len(emotionSink.samples) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "s1", emotionSink.samples[0].SessionID)
}

func TestPool_ShardForIsStableForSameSession(t *testing.T) {
	pool := New(Config{Shards: 16, QueueSize: 1, Store: session.NewStore(),
		Identity: identity.NewResolver(fakeIdentityStore{}, nil), Classifier: emotion.New(emotion.DefaultConfig()),
		Detector: pattern.New(), Interventions: intervention.New(noopDispatcher{})})

	a := pool.shardFor("session-123")
	b := pool.shardFor("session-123")
	assert.Equal(t, a, b)
}

func TestPool_Submit_EvictsOldestWhenQueueFull(t *testing.T) {
	pool := New(Config{Shards: 1, QueueSize: 1, Store: session.NewStore(),
		Identity: identity.NewResolver(fakeIdentityStore{}, nil), Classifier: emotion.New(emotion.DefaultConfig()),
		Detector: pattern.New(), Interventions: intervention.New(noopDispatcher{})})
	// Do not Run the pool, so nothing drains the queue.
	oldest := telemetry.Event{SessionID: "s1", Target: "oldest", Timestamp: time.Now()}
	newest := telemetry.Event{SessionID: "s1", Target: "newest", Timestamp: time.Now()}

	assert.True(t, pool.Submit(oldest))
	assert.True(t, pool.Submit(newest))

	queued := <-pool.shards[pool.shardFor("s1")]
	assert.Equal(t, "newest", queued.Target)
}

func TestPool_Process_EmitsConversionOutcomeOnSuccessfulFormSubmit(t *testing.T) {
	store := session.NewStore()
	events := make(chan outcome.Event, 1)

	pool := New(Config{
		Shards: 1, QueueSize: 8, Store: store,
		Identity: identity.NewResolver(fakeIdentityStore{}, nil), Classifier: emotion.New(emotion.DefaultConfig()),
		Detector: pattern.New(), Interventions: intervention.New(noopDispatcher{}),
		OutcomeEvents: events,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Run(ctx)

	pool.Submit(telemetry.Event{
		SessionID: "s2", TenantID: "t1", Timestamp: time.Now(), Type: telemetry.EventMouseMove, Section: "checkout",
	})
	pool.Submit(telemetry.Event{
		SessionID: "s2", TenantID: "t1", Timestamp: time.Now(), Type: telemetry.EventFormSubmit, Section: "checkout",
		Context: map[string]string{"result": "success"},
	})

	select {
	case ev := <-events:
		assert.Equal(t, outcome.FinalOutcomeConversion, ev.Outcome.FinalOutcome)
		assert.Equal(t, "s2", ev.Outcome.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected a conversion outcome event")
	}

	_, ok := store.Get("s2")
	assert.False(t, ok, "terminated session should be removed from the store")
}
