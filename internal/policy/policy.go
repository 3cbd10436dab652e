// Package policy maps candidate behavior events to suspicion verdicts.
// The policy is a declarative rule table; dispatch never branches on the
// event type outside the table lookup.
package policy

import (
	"fmt"
	"time"

	"github.com/interview-sentry/backend/internal/session"
)

// EventType identifies a behavior signal reported by the candidate client.
type EventType string

const (
	EventHeartbeat        EventType = "heartbeat"
	EventTabSwitch        EventType = "tab_switch"
	EventInactivity       EventType = "inactivity"
	EventScreenLock       EventType = "screen_lock"
	EventCopyPaste        EventType = "copy_paste"
	EventRightClick       EventType = "right_click"
	EventKeyboardShortcut EventType = "keyboard_shortcut"
	EventDeviceChange     EventType = "device_change"
)

// Known reports whether t is part of the inbound message contract.
func Known(t EventType) bool {
	_, ok := defaultRules[t]
	return ok
}

// Action is the enforcement tier of a verdict.
type Action int

const (
	LogOnly Action = iota
	Escalate
	EscalateAndLock
)

func (a Action) String() string {
	switch a {
	case Escalate:
		return "escalate"
	case EscalateAndLock:
		return "escalate_and_lock"
	default:
		return "log_only"
	}
}

// Verdict is the classification outcome for a single event.
type Verdict struct {
	Action Action
	Reason string
}

// Limits holds the tunable thresholds consulted by gated rules.
type Limits struct {
	TabSwitchLimit  int           // escalate when the rolling count exceeds this
	TabSwitchWindow time.Duration // rolling window; counter resets after a gap this long
	InactivityLimit time.Duration // escalate when reported inactivity exceeds this
}

// Rule describes how one event type is handled. Apply mutates session
// state per the policy table (heartbeat bookkeeping, tab-switch counter);
// Gate, when set, downgrades the rule's action to LogOnly unless it fires.
type Rule struct {
	Action Action
	Apply  func(l Limits, s *session.Session, now time.Time)
	Gate   func(l Limits, s *session.Session, data map[string]any) bool
	Reason func(l Limits, s *session.Session, data map[string]any) string
}

// The suspicion policy. Clipboard use, blocked shortcuts, and device
// changes are treated as high-confidence violations and lock immediately;
// tab switching and inactivity are frequency/duration gated to tolerate
// brief distractions.
var defaultRules = map[EventType]Rule{
	EventHeartbeat: {
		Action: LogOnly,
		Apply: func(_ Limits, s *session.Session, now time.Time) {
			s.LastHeartbeat = now
		},
	},
	EventTabSwitch: {
		Action: EscalateAndLock,
		Apply:  recordTabSwitch,
		Gate: func(l Limits, s *session.Session, _ map[string]any) bool {
			return s.TabSwitchCount > l.TabSwitchLimit
		},
		Reason: func(l Limits, s *session.Session, _ map[string]any) string {
			return fmt.Sprintf("excessive tab switching: %d switches within %s",
				s.TabSwitchCount, l.TabSwitchWindow)
		},
	},
	EventInactivity: {
		Action: Escalate,
		Gate: func(l Limits, _ *session.Session, data map[string]any) bool {
			return inactivityDuration(data) > l.InactivityLimit.Seconds()
		},
		Reason: func(_ Limits, _ *session.Session, data map[string]any) string {
			return fmt.Sprintf("candidate inactive for %.0f seconds", inactivityDuration(data))
		},
	},
	EventCopyPaste: {
		Action: EscalateAndLock,
		Reason: staticReason("clipboard use during interview"),
	},
	EventKeyboardShortcut: {
		Action: EscalateAndLock,
		Reason: staticReason("blocked keyboard shortcut used"),
	},
	EventDeviceChange: {
		Action: EscalateAndLock,
		Reason: staticReason("device change mid-session"),
	},
	EventScreenLock: {Action: LogOnly},
	EventRightClick: {Action: LogOnly},
}

func staticReason(msg string) func(Limits, *session.Session, map[string]any) string {
	return func(Limits, *session.Session, map[string]any) string { return msg }
}

func recordTabSwitch(l Limits, s *session.Session, now time.Time) {
	if !s.LastTabSwitchAt.IsZero() && now.Sub(s.LastTabSwitchAt) > l.TabSwitchWindow {
		s.TabSwitchCount = 0
	}
	s.TabSwitchCount++
	s.LastTabSwitchAt = now
}

// inactivityDuration pulls the reported duration (seconds) out of the event
// payload. JSON numbers arrive as float64; anything else counts as zero.
func inactivityDuration(data map[string]any) float64 {
	if data == nil {
		return 0
	}
	if d, ok := data["duration"].(float64); ok {
		return d
	}
	return 0
}

// Classifier evaluates events against the rule table with configured
// thresholds.
type Classifier struct {
	limits Limits
	rules  map[EventType]Rule
}

func NewClassifier(limits Limits) *Classifier {
	return &Classifier{limits: limits, rules: defaultRules}
}

// Classify applies the matching rule's state effect to s and returns the
// verdict. The caller must hold the session's lock; classification for a
// single session is never concurrent. Unknown event types are log-only.
func (c *Classifier) Classify(s *session.Session, evt EventType, data map[string]any) Verdict {
	rule, ok := c.rules[evt]
	if !ok {
		return Verdict{Action: LogOnly}
	}
	if rule.Apply != nil {
		rule.Apply(c.limits, s, time.Now())
	}
	action := rule.Action
	if rule.Gate != nil && !rule.Gate(c.limits, s, data) {
		action = LogOnly
	}
	v := Verdict{Action: action}
	if action != LogOnly && rule.Reason != nil {
		v.Reason = rule.Reason(c.limits, s, data)
	}
	return v
}
