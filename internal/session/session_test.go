package session

import (
	"encoding/json"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{Active, Locked, true},
		{Active, Terminated, true},
		{Locked, Terminated, true},
		{Locked, Active, false},
		{Terminated, Active, false},
		{Terminated, Locked, false},
		{Active, Active, false},
		{Locked, Locked, false},
		{Terminated, Terminated, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{Active, "active"},
		{Locked, "locked"},
		{Terminated, "terminated"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Locked)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"locked"` {
		t.Errorf("marshal = %s, want %q", data, `"locked"`)
	}

	var s Status
	if err := json.Unmarshal([]byte(`"terminated"`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s != Terminated {
		t.Errorf("unmarshal = %v, want Terminated", s)
	}
}

func TestIsTerminal(t *testing.T) {
	s := &Session{Status: Active}
	if s.IsTerminal() {
		t.Error("active session reported terminal")
	}
	s.Status = Locked
	if s.IsTerminal() {
		t.Error("locked session reported terminal")
	}
	s.Status = Terminated
	if !s.IsTerminal() {
		t.Error("terminated session not reported terminal")
	}
}
