package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/interview-sentry/backend/internal/monitor"
	"github.com/interview-sentry/backend/internal/session"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
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

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans monitor activity out to admin dashboard clients: a
// snapshot on attach and on a fixed period, throttled deltas for session
// updates, and immediate alert / session-end notices. Implements
// monitor.Notifier.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	registry *session.Registry
	throttle time.Duration

	snapshotTicker *time.Ticker

	flushMu        sync.Mutex
	pendingUpdates []session.Session
	flushTimer     *time.Timer
}

func NewBroadcaster(registry *session.Registry, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		registry: registry,
		throttle: throttle,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	snapshot := AdminMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Sessions: b.registry.List(),
		},
	}
	data, _ := json.Marshal(snapshot)

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// SessionUpdated queues a throttled delta for the admin feed.
func (b *Broadcaster) SessionUpdated(s session.Session) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates = append(b.pendingUpdates, s)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// SessionEnded notifies admins immediately that a session is gone.
func (b *Broadcaster) SessionEnded(sessionID, reason string, duration time.Duration) {
	b.broadcast(AdminMessage{
		Type: MsgSessionEnd,
		Payload: SessionEndPayload{
			SessionID:       sessionID,
			Reason:          reason,
			DurationSeconds: duration.Seconds(),
		},
	})
}

// Alert pushes an escalation notice immediately; alerts are what the
// dashboard exists for, so they skip the delta throttle.
func (b *Broadcaster) Alert(a monitor.Alert) {
	b.broadcast(AdminMessage{
		Type:    MsgAlert,
		Payload: a,
	})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := b.pendingUpdates
	b.pendingUpdates = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 {
		return
	}

	b.broadcast(AdminMessage{
		Type:    MsgDelta,
		Payload: DeltaPayload{Updates: updates},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(AdminMessage{
			Type: MsgSnapshot,
			Payload: SnapshotPayload{
				Sessions: b.registry.List(),
			},
		})
	}
}

func (b *Broadcaster) broadcast(msg AdminMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("admin client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
