// Package monitor orchestrates the session integrity core: it composes the
// connection registry, the suspicion policy, and the anomaly bridge, and
// owns the public contract used by the WebSocket transport and the admin
// control surface.
package monitor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/interview-sentry/backend/internal/anomaly"
	"github.com/interview-sentry/backend/internal/metrics"
	"github.com/interview-sentry/backend/internal/policy"
	"github.com/interview-sentry/backend/internal/session"
)

// Push is the envelope for messages pushed to a candidate connection.
type Push struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

const (
	PushLocked     = "session_locked"
	PushTerminated = "session_terminated"
	PushAlert      = "security_alert"
)

// Alert is surfaced to the admin feed when an event escalates.
type Alert struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	EventType string    `json:"eventType,omitempty"`
	Reason    string    `json:"reason"`
	Level     string    `json:"level"`
	At        time.Time `json:"at"`
}

// Notifier is the admin surface's view of monitor activity. The ws
// broadcaster implements it.
type Notifier interface {
	SessionUpdated(s session.Session)
	SessionEnded(sessionID, reason string, duration time.Duration)
	Alert(a Alert)
}

// NopNotifier discards all notifications. Used when no admin feed is wired.
type NopNotifier struct{}

func (NopNotifier) SessionUpdated(session.Session) {}

func (NopNotifier) SessionEnded(string, string, time.Duration) {}

func (NopNotifier) Alert(Alert) {}

type Monitor struct {
	registry   *session.Registry
	classifier *policy.Classifier
	bridge     *anomaly.Client
	notifier   Notifier
}

func New(registry *session.Registry, classifier *policy.Classifier, bridge *anomaly.Client, notifier Notifier) *Monitor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	m := &Monitor{
		registry:   registry,
		classifier: classifier,
		bridge:     bridge,
		notifier:   notifier,
	}
	registry.OnHeartbeatTimeout(m.handleHeartbeatTimeout)
	return m
}

// OnConnect registers the session, which also starts its heartbeat
// watchdog, and announces session_start to the anomaly service.
func (m *Monitor) OnConnect(sessionID, userID string, conn session.Conn) (session.Session, error) {
	s, err := m.registry.Register(sessionID, userID, conn)
	if err != nil {
		return session.Session{}, err
	}
	log.Printf("session %s: connected (user %s)", sessionID, userID)
	m.forward(anomaly.Event{
		UserID:    userID,
		SessionID: sessionID,
		EventType: "session_start",
	})
	m.notifier.SessionUpdated(s)
	return s, nil
}

// OnMessage classifies one behavior event for a registered session. Events
// for unknown sessions are logged and dropped; they never crash the
// connection. The classification and any state effect run under the
// session's lock, so per-session handling is serialized.
func (m *Monitor) OnMessage(sessionID string, evt policy.EventType, data map[string]any) {
	metrics.EventsProcessed.WithLabelValues(string(evt)).Inc()

	var verdict policy.Verdict
	snap, err := m.registry.Update(sessionID, func(s *session.Session) {
		verdict = m.classifier.Classify(s, evt, data)
	})
	if err != nil {
		log.Printf("session %s: dropping %s event, session not registered", sessionID, evt)
		return
	}

	m.forward(anomaly.Event{
		UserID:    snap.UserID,
		SessionID: sessionID,
		EventType: string(evt),
		Metadata:  data,
	})

	switch verdict.Action {
	case policy.Escalate:
		metrics.Escalations.Inc()
		log.Printf("session %s: escalation (%s): %s", sessionID, evt, verdict.Reason)
		m.notifier.Alert(Alert{
			SessionID: sessionID,
			UserID:    snap.UserID,
			EventType: string(evt),
			Reason:    verdict.Reason,
			Level:     "medium",
			At:        time.Now(),
		})
	case policy.EscalateAndLock:
		metrics.Escalations.Inc()
		if _, err := m.LockSession(sessionID, verdict.Reason); err != nil {
			log.Printf("session %s: auto-lock failed: %v", sessionID, err)
		}
	}
}

// OnDisconnect removes the session, cancels its watchdog, closes its
// handle, and emits a session_end notification. Idempotent: a second
// disconnect for the same session is a no-op, so a termination-driven
// close racing the read pump's own disconnect emits session_end once.
func (m *Monitor) OnDisconnect(sessionID, reason string) {
	final, ok := m.registry.Remove(sessionID)
	if !ok {
		return
	}
	m.finishSession(final, reason)
}

// OnConnClosed is the transport's disconnect path: it removes the session
// only if conn is still its live handle, so a superseded connection's read
// pump cannot evict the replacement registered by a reconnect.
func (m *Monitor) OnConnClosed(sessionID string, conn session.Conn, reason string) {
	final, ok := m.registry.RemoveConn(sessionID, conn)
	if !ok {
		return
	}
	m.finishSession(final, reason)
}

func (m *Monitor) handleHeartbeatTimeout(final session.Session) {
	metrics.HeartbeatTimeouts.Inc()
	log.Printf("session %s: heartbeat timeout", final.SessionID)
	m.finishSession(final, "timeout")
}

func (m *Monitor) finishSession(final session.Session, reason string) {
	duration := time.Since(final.ConnectedAt)
	log.Printf("session %s: ended after %s (%s)", final.SessionID, duration.Round(time.Second), reason)
	m.forward(anomaly.Event{
		UserID:    final.UserID,
		SessionID: final.SessionID,
		EventType: "session_end",
		Metadata: map[string]any{
			"duration_seconds": duration.Seconds(),
			"reason":           reason,
		},
	})
	m.notifier.SessionEnded(final.SessionID, reason, duration)
}

// LockSession moves an active session to locked and pushes session_locked
// to the candidate. Locking an already locked or terminated session is a
// no-op returning the current snapshot, so retried admin commands are
// harmless. Unknown sessions return session.ErrNotFound.
func (m *Monitor) LockSession(sessionID, reason string) (session.Session, error) {
	changed := false
	snap, err := m.registry.Update(sessionID, func(s *session.Session) {
		if s.Status.CanTransition(session.Locked) {
			s.Status = session.Locked
			changed = true
		}
	})
	if err != nil {
		return session.Session{}, err
	}
	if !changed {
		return snap, nil
	}

	metrics.SessionLocks.Inc()
	log.Printf("session %s: locked: %s", sessionID, reason)
	if err := m.registry.Send(sessionID, Push{
		Type: PushLocked,
		Data: map[string]any{"reason": reason},
	}); err != nil {
		log.Printf("session %s: lock push failed: %v", sessionID, err)
	}
	m.notifier.Alert(Alert{
		SessionID: sessionID,
		UserID:    snap.UserID,
		Reason:    reason,
		Level:     "high",
		At:        time.Now(),
	})
	m.notifier.SessionUpdated(snap)
	return snap, nil
}

// TerminateSession moves any non-terminal session to terminated, pushes
// session_terminated, then closes the connection and removes the session.
// Terminating an already terminated session is a no-op. Unknown sessions
// return session.ErrNotFound.
func (m *Monitor) TerminateSession(sessionID, reason string) (session.Session, error) {
	changed := false
	snap, err := m.registry.Update(sessionID, func(s *session.Session) {
		if s.Status.CanTransition(session.Terminated) {
			s.Status = session.Terminated
			changed = true
		}
	})
	if err != nil {
		return session.Session{}, err
	}
	if !changed {
		return snap, nil
	}

	metrics.SessionTerminations.Inc()
	log.Printf("session %s: terminated: %s", sessionID, reason)

	// Push before removal: Remove closes the handle, and the client must
	// see session_terminated before the socket drops.
	if err := m.registry.Send(sessionID, Push{
		Type: PushTerminated,
		Data: map[string]any{"reason": reason},
	}); err != nil {
		log.Printf("session %s: terminate push failed: %v", sessionID, err)
	}
	m.notifier.SessionUpdated(snap)
	if final, ok := m.registry.Remove(sessionID); ok {
		m.finishSession(final, reason)
	}
	return snap, nil
}

// ListSessions returns snapshots of every tracked session.
func (m *Monitor) ListSessions() []session.Session {
	return m.registry.List()
}

// GetSession returns one session snapshot.
func (m *Monitor) GetSession(sessionID string) (session.Session, error) {
	return m.registry.Lookup(sessionID)
}

// HandleSecurityAlert implements anomaly.Handler: externally raised alerts
// are relayed to the affected connection as-is, with no state change.
func (m *Monitor) HandleSecurityAlert(sessionID string, data map[string]any) {
	if err := m.registry.Send(sessionID, Push{Type: PushAlert, Data: data}); err != nil {
		log.Printf("session %s: alert push failed: %v", sessionID, err)
	}
}

// HandleTermination implements anomaly.Handler: the scoring service can
// order immediate eviction.
func (m *Monitor) HandleTermination(sessionID, reason string) {
	if _, err := m.TerminateSession(sessionID, reason); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			log.Printf("session %s: termination order for unknown session", sessionID)
			return
		}
		log.Printf("session %s: termination order failed: %v", sessionID, err)
	}
}

// forward delivers an event to the anomaly service off the critical path.
// Failures are counted and logged, never surfaced: local enforcement must
// work with the scoring service completely unavailable.
func (m *Monitor) forward(ev anomaly.Event) {
	if m.bridge == nil || !m.bridge.Enabled() {
		return
	}
	go func() {
		if err := m.bridge.Forward(context.Background(), ev); err != nil {
			metrics.ForwardFailures.Inc()
			log.Printf("session %s: anomaly forward failed: %v", ev.SessionID, err)
		}
	}()
}
