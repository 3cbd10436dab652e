package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubConn counts writes and closes. Safe for concurrent use.
type stubConn struct {
	mu     sync.Mutex
	writes []any
	closed int
}

func (c *stubConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *stubConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// newTestRegistry uses watchdog timings long enough to never fire during a
// test that isn't about timeouts.
func newTestRegistry() *Registry {
	return NewRegistry(time.Minute, time.Hour)
}

func TestRegisterRequiresIdentifiers(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.Register("", "u1", &stubConn{}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("empty session id: err = %v, want ErrInvalidIdentifier", err)
	}
	if _, err := r.Register("s1", "", &stubConn{}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("empty user id: err = %v, want ErrInvalidIdentifier", err)
	}
	if r.Count() != 0 {
		t.Errorf("registry has %d entries after failed registers, want 0", r.Count())
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := newTestRegistry()

	s, err := r.Register("s1", "u1", &stubConn{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if s.SessionID != "s1" || s.UserID != "u1" || s.Status != Active {
		t.Errorf("registered session = %+v", s)
	}
	if s.ConnectedAt.IsZero() || s.LastHeartbeat.IsZero() {
		t.Error("timestamps not set at registration")
	}

	got, err := r.Lookup("s1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.SessionID != "s1" {
		t.Errorf("Lookup returned %+v", got)
	}

	if _, err := r.Lookup("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(missing): err = %v, want ErrNotFound", err)
	}
}

func TestRegisterReplacesPriorEntry(t *testing.T) {
	r := newTestRegistry()
	old := &stubConn{}
	if _, err := r.Register("s1", "u1", old); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Register("s1", "u1", &stubConn{}); err != nil {
		t.Fatal(err)
	}

	if r.Count() != 1 {
		t.Errorf("registry has %d entries after duplicate register, want 1", r.Count())
	}
	if old.closeCount() != 1 {
		t.Errorf("superseded handle closed %d times, want 1", old.closeCount())
	}
}

// A superseded entry's watchdog must be cancelled: its staleness must never
// evict the replacement.
func TestSupersededWatchdogIsCancelled(t *testing.T) {
	r := NewRegistry(10*time.Millisecond, 30*time.Millisecond)
	var timeouts atomic.Int32
	r.OnHeartbeatTimeout(func(Session) { timeouts.Add(1) })

	if _, err := r.Register("s1", "u1", &stubConn{}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("s1", "u1", &stubConn{}); err != nil {
		t.Fatal(err)
	}

	// Keep the live entry fresh while the superseded watchdog's bound
	// comes and goes.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := r.Update("s1", func(s *Session) { s.LastHeartbeat = time.Now() }); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := timeouts.Load(); n != 0 {
		t.Errorf("timeout handler fired %d times for a fresh session", n)
	}
	if _, err := r.Lookup("s1"); err != nil {
		t.Errorf("live session missing after supersede: %v", err)
	}
}

func TestRemoveConnRespectsIdentity(t *testing.T) {
	r := newTestRegistry()
	old := &stubConn{}
	if _, err := r.Register("s1", "u1", old); err != nil {
		t.Fatal(err)
	}
	fresh := &stubConn{}
	if _, err := r.Register("s1", "u1", fresh); err != nil {
		t.Fatal(err)
	}

	// The superseded connection cannot evict the replacement.
	if _, ok := r.RemoveConn("s1", old); ok {
		t.Error("RemoveConn with a superseded handle removed the entry")
	}
	if _, err := r.Lookup("s1"); err != nil {
		t.Fatalf("entry missing after stale RemoveConn: %v", err)
	}

	if _, ok := r.RemoveConn("s1", fresh); !ok {
		t.Error("RemoveConn with the live handle did not remove the entry")
	}
	if _, err := r.Lookup("s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("entry still present after RemoveConn: %v", err)
	}
}

func TestHeartbeatTimeoutExpiresEntry(t *testing.T) {
	r := NewRegistry(10*time.Millisecond, 30*time.Millisecond)

	var mu sync.Mutex
	var finals []Session
	r.OnHeartbeatTimeout(func(final Session) {
		mu.Lock()
		finals = append(finals, final)
		mu.Unlock()
	})

	if _, err := r.Register("s1", "u1", &stubConn{}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Count() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if r.Count() != 0 {
		t.Fatal("stale session never expired")
	}

	time.Sleep(100 * time.Millisecond) // room for a stray second firing
	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 {
		t.Fatalf("timeout handler fired %d times, want 1", len(finals))
	}
	if finals[0].SessionID != "s1" {
		t.Errorf("timeout reported session %q", finals[0].SessionID)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	c := &stubConn{}
	if _, err := r.Register("s1", "u1", c); err != nil {
		t.Fatal(err)
	}

	final, ok := r.Remove("s1")
	if !ok {
		t.Fatal("first Remove returned ok=false")
	}
	if final.SessionID != "s1" {
		t.Errorf("Remove returned %+v", final)
	}
	if c.closeCount() != 1 {
		t.Errorf("handle closed %d times, want 1", c.closeCount())
	}

	if _, ok := r.Remove("s1"); ok {
		t.Error("second Remove returned ok=true")
	}
	if _, ok := r.Remove("never-registered"); ok {
		t.Error("Remove of unknown session returned ok=true")
	}
}

func TestUpdateReturnsSnapshot(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Register("s1", "u1", &stubConn{}); err != nil {
		t.Fatal(err)
	}

	snap, err := r.Update("s1", func(s *Session) { s.TabSwitchCount = 7 })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if snap.TabSwitchCount != 7 {
		t.Errorf("snapshot TabSwitchCount = %d, want 7", snap.TabSwitchCount)
	}

	// Mutating the snapshot must not leak into the registry.
	snap.TabSwitchCount = 99
	got, _ := r.Lookup("s1")
	if got.TabSwitchCount != 7 {
		t.Errorf("stored TabSwitchCount = %d, want 7", got.TabSwitchCount)
	}

	if _, err := r.Update("missing", func(*Session) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing): err = %v, want ErrNotFound", err)
	}
}

func TestListReturnsSortedSnapshots(t *testing.T) {
	r := newTestRegistry()
	for _, id := range []string{"s3", "s1", "s2"} {
		if _, err := r.Register(id, "u", &stubConn{}); err != nil {
			t.Fatal(err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d sessions, want 3", len(list))
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if list[i].SessionID != want {
			t.Errorf("list[%d] = %s, want %s", i, list[i].SessionID, want)
		}
	}

	// Snapshots, not live records.
	list[0].Status = Terminated
	got, _ := r.Lookup("s1")
	if got.Status != Active {
		t.Error("List leaked a mutable record")
	}
}

func TestSendWritesToHandle(t *testing.T) {
	r := newTestRegistry()
	c := &stubConn{}
	if _, err := r.Register("s1", "u1", c); err != nil {
		t.Fatal(err)
	}

	if err := r.Send("s1", "ping"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.mu.Lock()
	n := len(c.writes)
	c.mu.Unlock()
	if n != 1 {
		t.Errorf("handle received %d writes, want 1", n)
	}

	if err := r.Send("missing", "ping"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Send(missing): err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Register("s1", "u1", &stubConn{}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Update("s1", func(s *Session) { s.TabSwitchCount++ })
				r.List()
				r.Lookup("s1")
			}
		}()
	}
	wg.Wait()

	got, _ := r.Lookup("s1")
	if got.TabSwitchCount != 800 {
		t.Errorf("TabSwitchCount = %d after 800 serialized updates, want 800", got.TabSwitchCount)
	}
}
