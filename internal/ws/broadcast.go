package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sentientiq/pulse-engine/internal/pattern"
	"github.com/sentientiq/pulse-engine/internal/session"
)

// ErrTooManyConnections is returned by AddDashboardClient when maxConns is
// already reached.
var ErrTooManyConnections = errors.New("too many WebSocket connections")

// clientSendBuffer bounds a client's outgoing queue; once a client can't keep
// up and this would be exceeded, it is disconnected rather than let the
// buffer grow unbounded, expressed here as a bounded channel of
// pre-marshaled frames.
const clientSendBuffer = 256

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	filter SubscribeFrame
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() { close(c.send) }

// Broadcaster fans emotion/intervention/snapshot frames out to connected
// dashboard clients (filtered per-client) and routes intervention pushes
// to the single client subscribed to a given session, if any: a client
// map plus buffered send channel plus writePump goroutine plus
// non-blocking disconnect-on-full-buffer broadcast loop, extended with
// per-client filtering and a session routing table.
type Broadcaster struct {
	mu              sync.RWMutex
	dashboardClients map[*client]bool
	sessionClients  map[string]*client
	maxConns        int
	store           *session.Store
	snapshotTicker  *time.Ticker
	seq             atomic.Uint64
	log             *zap.Logger
}

// NewBroadcaster builds a Broadcaster reading session snapshots from store
// and emitting a full snapshot to every dashboard client every
// snapshotInterval, doubling as the connection's heartbeat cadence.
func NewBroadcaster(store *session.Store, snapshotInterval time.Duration, maxConns int, log *zap.Logger) *Broadcaster {
	b := &Broadcaster{
		dashboardClients: make(map[*client]bool),
		sessionClients:   make(map[string]*client),
		maxConns:         maxConns,
		store:            store,
		log:              log,
	}
	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()
	return b
}

// AddDashboardClient registers a new /ws/emotions subscriber and sends it
// an initial snapshot.
func (b *Broadcaster) AddDashboardClient(conn *websocket.Conn, filter SubscribeFrame) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.dashboardClients) >= b.maxConns {
		b.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn)
	c.filter = filter
	b.dashboardClients[c] = true
	b.mu.Unlock()

	b.sendSnapshot(c)
	return c, nil
}

// RemoveDashboardClient unregisters c.
func (b *Broadcaster) RemoveDashboardClient(c *client) {
	b.mu.Lock()
	if _, ok := b.dashboardClients[c]; ok {
		delete(b.dashboardClients, c)
		c.close()
	}
	b.mu.Unlock()
}

// AddSessionClient registers the single client allowed to receive targeted
// pushes for sessionID (/ws/session/{id}). A second connection for the
// same session replaces the first.
func (b *Broadcaster) AddSessionClient(sessionID string, conn *websocket.Conn) *client {
	c := newClient(conn)
	b.mu.Lock()
	if old, ok := b.sessionClients[sessionID]; ok {
		old.close()
	}
	b.sessionClients[sessionID] = c
	b.mu.Unlock()
	return c
}

// RemoveSessionClient unregisters the client for sessionID, if it is still c.
func (b *Broadcaster) RemoveSessionClient(sessionID string, c *client) {
	b.mu.Lock()
	if cur, ok := b.sessionClients[sessionID]; ok && cur == c {
		delete(b.sessionClients, sessionID)
		c.close()
	}
	b.mu.Unlock()
}

// BroadcastEmotion fans an emotion sample out to every dashboard client
// whose subscribe filter matches it.
func (b *Broadcaster) BroadcastEmotion(payload EmotionStatePayload) {
	msg := WSMessage{Type: MsgEmotionState, Seq: b.seq.Add(1), Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.dashboardClients {
		if !c.filter.Matches(payload) {
			continue
		}
		b.sendOrDisconnect(c, data)
	}
}

// BroadcastIntervention fans an intervention out to every dashboard client
// (subject to PriorityOnly filtering) and, if a session socket is
// subscribed, delivers it directly there too. Delivery is at-most-once: a
// disconnected session client simply does not receive it, and no
// retry/queue is attempted.
func (b *Broadcaster) BroadcastIntervention(payload InterventionPayload) {
	msg := WSMessage{Type: MsgIntervention, Seq: b.seq.Add(1), Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	b.mu.RLock()
	for c := range b.dashboardClients {
		if c.filter.PriorityOnly && payload.Priority < pattern.PriorityHigh {
			continue
		}
		b.sendOrDisconnect(c, data)
	}
	sessionClient, ok := b.sessionClients[payload.SessionID]
	b.mu.RUnlock()

	if ok {
		b.sendOrDisconnect(sessionClient, data)
	}
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcastSnapshot()
	}
}

func (b *Broadcaster) broadcastSnapshot() {
	msg := b.snapshotMessage()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.dashboardClients {
		b.sendOrDisconnect(c, data)
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	return WSMessage{
		Type:    MsgSnapshot,
		Seq:     b.seq.Add(1),
		Payload: SnapshotPayload{Sessions: b.store.Snapshot()},
	}
}

func (b *Broadcaster) sendSnapshot(c *client) {
	msg := b.snapshotMessage()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// sendOrDisconnect is the slow-client guard: a client whose send buffer is
// already full is disconnected rather than let broadcast block or grow the
// buffer unbounded.
func (b *Broadcaster) sendOrDisconnect(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		if b.log != nil {
			b.log.Warn("ws client too slow, disconnecting")
		}
		go b.disconnectAsync(c)
	}
}

// disconnectAsync removes c from whichever registry holds it, without
// requiring the caller to know which (dashboard vs per-session).
func (b *Broadcaster) disconnectAsync(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.dashboardClients[c]; ok {
		delete(b.dashboardClients, c)
		c.close()
		return
	}
	for id, sc := range b.sessionClients {
		if sc == c {
			delete(b.sessionClients, id)
			c.close()
			return
		}
	}
}

// Stop halts the snapshot ticker.
func (b *Broadcaster) Stop() { b.snapshotTicker.Stop() }

// DashboardClientCount returns the number of connected dashboard clients.
func (b *Broadcaster) DashboardClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.dashboardClients)
}

// HasSessionClient reports whether a client is currently subscribed to
// sessionID's targeted /ws/session/{id} socket.
func (b *Broadcaster) HasSessionClient(sessionID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.sessionClients[sessionID]
	return ok
}
