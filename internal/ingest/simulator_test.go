package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentientiq/pulse-engine/internal/emotion"
	"github.com/sentientiq/pulse-engine/internal/identity"
	"github.com/sentientiq/pulse-engine/internal/intervention"
	"github.com/sentientiq/pulse-engine/internal/pattern"
	"github.com/sentientiq/pulse-engine/internal/session"
	"github.com/sentientiq/pulse-engine/internal/shard"
)

func TestSimulator_RunFeedsEventsThroughPool(t *testing.T) {
	store := session.NewStore()
	pool := shard.New(shard.Config{
		Shards: 4, QueueSize: 32, Store: store,
		Identity:      identity.NewResolver(identityStoreStub{}, nil),
		Classifier:    emotion.New(emotion.DefaultConfig()),
		Detector:      pattern.New(),
		Interventions: intervention.New(dispatcherStub{}),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	sim := NewSimulator(pool)
	sim.Run(ctx)

	assert.GreaterOrEqual(t, store.ActiveCount(), 1)
}
