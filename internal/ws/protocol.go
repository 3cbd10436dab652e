package ws

import (
	"github.com/interview-sentry/backend/internal/monitor"
	"github.com/interview-sentry/backend/internal/session"
)

// ClientMessage is the inbound envelope from a candidate connection.
type ClientMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Admin feed message types.
type MessageType string

const (
	MsgSnapshot   MessageType = "snapshot"
	MsgDelta      MessageType = "delta"
	MsgAlert      MessageType = "alert"
	MsgSessionEnd MessageType = "session_end"
)

type AdminMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []session.Session `json:"sessions"`
}

type DeltaPayload struct {
	Updates []session.Session `json:"updates"`
}

type SessionEndPayload struct {
	SessionID       string  `json:"sessionId"`
	Reason          string  `json:"reason"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// AlertPayload mirrors monitor.Alert for the admin feed.
type AlertPayload = monitor.Alert

// lockRequest is the body of POST /api/admin/sessions/{id}/lock and
// /terminate.
type lockRequest struct {
	Reason string `json:"reason"`
}
