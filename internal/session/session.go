package session

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an interview session. Transitions are
// one-way: active -> locked, active -> terminated, locked -> terminated.
// A locked session is never reactivated by this service; unlocking is an
// administrative concern handled outside the integrity monitor.
type Status int

const (
	Active Status = iota
	Locked
	Terminated
)

var statusNames = map[Status]string{
	Active:     "active",
	Locked:     "locked",
	Terminated: "terminated",
}

var statusFromName = map[string]Status{
	"active":     Active,
	"locked":     Locked,
	"terminated": Terminated,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. Self-transitions and anything out of Terminated are not.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case Active:
		return next == Locked || next == Terminated
	case Locked:
		return next == Terminated
	default:
		return false
	}
}

// Session is the in-memory record for one candidate's live connection.
// The registry hands out value copies; callers never see the live record.
type Session struct {
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	Status          Status    `json:"status"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastHeartbeat   time.Time `json:"lastHeartbeat"`
	TabSwitchCount  int       `json:"tabSwitchCount"`
	LastTabSwitchAt time.Time `json:"lastTabSwitchAt,omitempty"`
}

func (s *Session) IsTerminal() bool {
	return s.Status == Terminated
}
