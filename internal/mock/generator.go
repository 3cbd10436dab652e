// Package mock drives synthetic candidate traffic against the monitor so
// the admin feed and policy behavior can be exercised without real
// clients. Enabled by the -mock flag.
package mock

import (
	"context"
	"log"
	"time"

	"github.com/interview-sentry/backend/internal/monitor"
	"github.com/interview-sentry/backend/internal/policy"
)

// loopbackConn stands in for a candidate socket: pushes are logged instead
// of delivered.
type loopbackConn struct {
	sessionID string
}

func (c *loopbackConn) WriteJSON(v any) error {
	log.Printf("mock session %s: received push %+v", c.sessionID, v)
	return nil
}

func (c *loopbackConn) Close() error { return nil }

type scenario struct {
	sessionID string
	userID    string
	// script runs after connect; each step is an event plus a delay.
	script []step
}

type step struct {
	delay time.Duration
	event policy.EventType
	data  map[string]any
}

type Generator struct {
	mon *monitor.Monitor
}

func NewGenerator(mon *monitor.Monitor) *Generator {
	return &Generator{mon: mon}
}

// Start launches one goroutine per synthetic candidate. The clean candidate
// heartbeats forever; the restless one trips the tab-switch policy; the
// cheater pastes and gets locked.
func (g *Generator) Start(ctx context.Context) {
	scenarios := []scenario{
		{
			sessionID: "mock-clean",
			userID:    "user-clean",
			script: []step{
				{delay: 2 * time.Second, event: policy.EventHeartbeat},
				{delay: 2 * time.Second, event: policy.EventHeartbeat},
				{delay: 2 * time.Second, event: policy.EventScreenLock},
				{delay: 2 * time.Second, event: policy.EventHeartbeat},
			},
		},
		{
			sessionID: "mock-restless",
			userID:    "user-restless",
			script: []step{
				{delay: time.Second, event: policy.EventHeartbeat},
				{delay: 500 * time.Millisecond, event: policy.EventTabSwitch},
				{delay: 500 * time.Millisecond, event: policy.EventTabSwitch},
				{delay: 500 * time.Millisecond, event: policy.EventTabSwitch},
				{delay: 500 * time.Millisecond, event: policy.EventTabSwitch},
			},
		},
		{
			sessionID: "mock-cheater",
			userID:    "user-cheater",
			script: []step{
				{delay: time.Second, event: policy.EventHeartbeat},
				{delay: 3 * time.Second, event: policy.EventInactivity, data: map[string]any{"duration": float64(45)}},
				{delay: 2 * time.Second, event: policy.EventCopyPaste},
			},
		},
	}

	for _, sc := range scenarios {
		go g.run(ctx, sc)
	}
}

func (g *Generator) run(ctx context.Context, sc scenario) {
	if _, err := g.mon.OnConnect(sc.sessionID, sc.userID, &loopbackConn{sessionID: sc.sessionID}); err != nil {
		log.Printf("mock session %s: connect failed: %v", sc.sessionID, err)
		return
	}

	for _, st := range sc.script {
		select {
		case <-ctx.Done():
			g.mon.OnDisconnect(sc.sessionID, "shutdown")
			return
		case <-time.After(st.delay):
		}
		g.mon.OnMessage(sc.sessionID, st.event, st.data)
	}

	// Keep heartbeating so the watchdog leaves the session alone until
	// shutdown.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.mon.OnDisconnect(sc.sessionID, "shutdown")
			return
		case <-ticker.C:
			g.mon.OnMessage(sc.sessionID, policy.EventHeartbeat, nil)
		}
	}
}
