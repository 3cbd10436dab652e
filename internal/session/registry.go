package session

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"
)

var (
	// ErrInvalidIdentifier means a session or user id was missing or
	// malformed at connect time. Fatal to that connection attempt.
	ErrInvalidIdentifier = errors.New("invalid session or user identifier")

	// ErrNotFound means the operation referenced a session that is not
	// currently registered.
	ErrNotFound = errors.New("session not found")
)

// Conn is the live connection handle the registry holds for each session.
// Implementations must make WriteJSON safe for concurrent use and Close
// idempotent.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// entry pairs the session record with its connection handle and heartbeat
// watchdog. mu serializes all mutation of state for this session; the
// registry's own lock only guards the map.
type entry struct {
	mu    sync.Mutex
	state Session
	conn  Conn
	dog   *watchdog
}

// Registry is the ground truth for which sessions are currently connected.
// It exclusively owns the Session records and the per-session heartbeat
// watchdogs. All reads hand out value copies.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	checkInterval time.Duration
	timeout       time.Duration

	// onTimeout is invoked (from the watchdog goroutine) with the final
	// snapshot of a session that missed its heartbeat bound and has
	// already been removed. Set once during wiring, before any Register
	// call.
	onTimeout func(final Session)
}

func NewRegistry(checkInterval, timeout time.Duration) *Registry {
	return &Registry{
		entries:       make(map[string]*entry),
		checkInterval: checkInterval,
		timeout:       timeout,
		onTimeout:     func(Session) {},
	}
}

// OnHeartbeatTimeout installs the staleness handler. Must be called before
// the first Register.
func (r *Registry) OnHeartbeatTimeout(fn func(final Session)) {
	r.onTimeout = fn
}

// Register creates a Session for the given ids and connection handle and
// starts its heartbeat watchdog. A prior entry under the same session id is
// replaced last-writer-wins: its watchdog is cancelled and its handle
// closed. Returns the new session snapshot.
func (r *Registry) Register(sessionID, userID string, conn Conn) (Session, error) {
	if sessionID == "" || userID == "" {
		return Session{}, ErrInvalidIdentifier
	}

	now := time.Now()
	e := &entry{
		state: Session{
			SessionID:     sessionID,
			UserID:        userID,
			Status:        Active,
			ConnectedAt:   now,
			LastHeartbeat: now,
		},
		conn: conn,
	}
	e.dog = newWatchdog(r.checkInterval, r.timeout,
		func() time.Time {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.state.LastHeartbeat
		},
		func() { r.expire(e) },
	)

	r.mu.Lock()
	prev, replaced := r.entries[sessionID]
	r.entries[sessionID] = e
	r.mu.Unlock()

	if replaced {
		log.Printf("session %s: superseded by new connection", sessionID)
		prev.dog.Cancel()
		if prev.conn != nil {
			prev.conn.Close()
		}
	}
	return e.state, nil
}

// Lookup returns a snapshot of the session, or ErrNotFound.
func (r *Registry) Lookup(sessionID string) (Session, error) {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Remove drops the session from the registry, cancelling its watchdog and
// closing its handle. Idempotent: removing an absent session is a no-op.
// Returns the final snapshot and whether anything was removed.
func (r *Registry) Remove(sessionID string) (Session, bool) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	return r.teardown(e), true
}

// RemoveConn removes the session only if conn is still its live handle.
// A read pump whose connection was superseded by a reconnect must not
// evict the replacement entry.
func (r *Registry) RemoveConn(sessionID string, conn Conn) (Session, bool) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if !ok || e.conn != conn {
		r.mu.Unlock()
		return Session{}, false
	}
	delete(r.entries, sessionID)
	r.mu.Unlock()
	return r.teardown(e), true
}

// expire is the watchdog path: remove the entry only if it is still the
// current one for its session id, then report the timeout. A stale
// watchdog racing its own cancellation after a reconnect is a no-op.
func (r *Registry) expire(e *entry) {
	id := e.state.SessionID // immutable after Register
	r.mu.Lock()
	cur, ok := r.entries[id]
	if !ok || cur != e {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	r.mu.Unlock()
	r.onTimeout(r.teardown(e))
}

func (r *Registry) teardown(e *entry) Session {
	e.dog.Cancel()
	if e.conn != nil {
		e.conn.Close()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Update runs fn against the live record under the session's lock and
// returns the resulting snapshot. This is the serialization point for all
// per-session state changes: no two updates for the same session run
// concurrently.
func (r *Registry) Update(sessionID string, fn func(s *Session)) (Session, error) {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	return e.state, nil
}

// Send pushes a message to the session's live connection.
func (r *Registry) Send(sessionID string, v any) error {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return e.conn.WriteJSON(v)
}

// List returns snapshots of all tracked sessions, ordered by session id so
// the admin surface gets stable output.
func (r *Registry) List() []Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	result := make([]Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		result = append(result, e.state)
		e.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SessionID < result[j].SessionID
	})
	return result
}

// Count reports how many sessions are currently registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
