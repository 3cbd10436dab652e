package session

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchdogFiresOnceOnTimeout(t *testing.T) {
	var fired atomic.Int32
	stale := time.Now().Add(-time.Minute)

	w := newWatchdog(5*time.Millisecond, 20*time.Millisecond,
		func() time.Time { return stale },
		func() { fired.Add(1) },
	)
	defer w.Cancel()

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("watchdog never fired for a stale heartbeat")
	}

	// The watchdog stops itself after firing.
	time.Sleep(50 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("watchdog fired %d times, want 1", n)
	}
}

func TestWatchdogStaysQuietWhileFresh(t *testing.T) {
	var fired atomic.Int32

	w := newWatchdog(5*time.Millisecond, 50*time.Millisecond,
		time.Now, // always fresh
		func() { fired.Add(1) },
	)
	defer w.Cancel()

	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("watchdog fired %d times for a fresh session", n)
	}
}

func TestWatchdogCancel(t *testing.T) {
	var fired atomic.Int32
	stale := time.Now().Add(-time.Minute)

	w := newWatchdog(20*time.Millisecond, 10*time.Millisecond,
		func() time.Time { return stale },
		func() { fired.Add(1) },
	)
	w.Cancel()

	time.Sleep(80 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("cancelled watchdog fired %d times", n)
	}
}

func TestWatchdogDoubleCancelIsSafe(t *testing.T) {
	w := newWatchdog(time.Minute, time.Hour, time.Now, func() {})
	w.Cancel()
	w.Cancel() // must not panic
}
