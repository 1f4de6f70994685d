package ws

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientiq/pulse-engine/internal/session"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

func dialWS(t *testing.T, handler http.HandlerFunc) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestBroadcaster_AddDashboardClient_SendsInitialSnapshot(t *testing.T) {
	store := session.NewStore()
	store.AppendEvent(telemetry.Event{SessionID: "s1", Timestamp: time.Now()}, time.Now())
	b := NewBroadcaster(store, time.Hour, 0, nil)
	defer b.Stop()

	conn, cleanup := dialWS(t, func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_, err = b.AddDashboardClient(c, SubscribeFrame{})
		require.NoError(t, err)
		select {}
	})
	defer cleanup()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"snapshot"`)
}

func TestBroadcaster_AddDashboardClient_RejectsOverCapacity(t *testing.T) {
	store := session.NewStore()
	b := NewBroadcaster(store, time.Hour, 1, nil)
	defer b.Stop()

	var rejectCount int
	conn, cleanup := dialWS(t, func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		if _, err := b.AddDashboardClient(c, SubscribeFrame{}); err != nil {
			rejectCount++
		}
		select {}
	})
	defer cleanup()
	conn.ReadMessage() // drain first client's snapshot

	conn2, cleanup2 := dialWS(t, func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		if _, err := b.AddDashboardClient(c, SubscribeFrame{}); err != nil {
			rejectCount++
		}
		select {}
	})
	defer cleanup2()

	require.Eventually(t, func() bool { return rejectCount == 1 }, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_BroadcastEmotion_RespectsFilter(t *testing.T) {
	store := session.NewStore()
	b := NewBroadcaster(store, time.Hour, 0, nil)
	defer b.Stop()

	conn, cleanup := dialWS(t, func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_, err = b.AddDashboardClient(c, SubscribeFrame{MinConfidence: 90})
		require.NoError(t, err)
		select {}
	})
	defer cleanup()
	conn.ReadMessage() // drain snapshot

	b.BroadcastEmotion(EmotionStatePayload{SessionID: "s1", Confidence: 50})
	b.BroadcastEmotion(EmotionStatePayload{SessionID: "s1", Confidence: 95})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `95`)
}

func TestBroadcaster_HasSessionClient(t *testing.T) {
	store := session.NewStore()
	b := NewBroadcaster(store, time.Hour, 0, nil)
	defer b.Stop()

	assert.False(t, b.HasSessionClient("s1"))

	conn, cleanup := dialWS(t, func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		b.AddSessionClient("s1", c)
		select {}
	})
	defer cleanup()
	_ = conn

	require.Eventually(t, func() bool { return b.HasSessionClient("s1") }, time.Second, 10*time.Millisecond)
	assert.False(t, b.HasSessionClient("s2"))
}
