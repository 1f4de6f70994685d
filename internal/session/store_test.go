package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

func TestStore_GetOrCreate_CreatesOnce(t *testing.T) {
	s := NewStore()
	st1, created1 := s.GetOrCreate("s1", "t1", time.Unix(0, 0))
	require.True(t, created1)

	st2, created2 := s.GetOrCreate("s1", "t1", time.Unix(100, 0))
	assert.False(t, created2)
	assert.Same(t, st1, st2)
}

func TestStore_AppendEvent_RoutesToCorrectSession(t *testing.T) {
	s := NewStore()
	now := time.Unix(0, 0)

	s.AppendEvent(telemetry.Event{SessionID: "s1", TenantID: "t1", Timestamp: now}, now)
	s.AppendEvent(telemetry.Event{SessionID: "s2", TenantID: "t1", Timestamp: now}, now)

	snap, ok := s.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", snap.ID)

	assert.Equal(t, 2, s.ActiveCount())
}

func TestStore_Get_ReturnsDefensiveSnapshot(t *testing.T) {
	s := NewStore()
	now := time.Unix(0, 0)
	st := s.AppendEvent(telemetry.Event{SessionID: "s1", TenantID: "t1", Timestamp: now}, now)

	snap, _ := s.Get("s1")
	st.AppendEvent(telemetry.Event{SessionID: "s1", Timestamp: now.Add(time.Second)})

	assert.Equal(t, now, snap.LastEventAt)
}

func TestStore_ExpireIdle_RemovesStaleSessions(t *testing.T) {
	s := NewStore()
	start := time.Unix(0, 0)
	s.AppendEvent(telemetry.Event{SessionID: "stale", TenantID: "t1", Timestamp: start}, start)
	s.AppendEvent(telemetry.Event{SessionID: "fresh", TenantID: "t1", Timestamp: start.Add(29 * time.Minute)}, start)

	expired := s.ExpireIdle(start.Add(30*time.Minute), 30*time.Minute)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].ID)

	_, ok := s.Get("stale")
	assert.False(t, ok)
	_, ok = s.Get("fresh")
	assert.True(t, ok)
}

func TestStore_Remove_DeletesSession(t *testing.T) {
	s := NewStore()
	now := time.Unix(0, 0)
	s.AppendEvent(telemetry.Event{SessionID: "s1", TenantID: "t1", Timestamp: now}, now)
	s.Remove("s1")
	_, ok := s.Get("s1")
	assert.False(t, ok)
}
