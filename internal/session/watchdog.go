package session

import (
	"sync"
	"time"
)

// watchdog detects silent disconnection for a single session. It checks the
// session's last heartbeat on a fixed period and fires expired exactly once
// when the timeout bound is exceeded, then stops itself.
type watchdog struct {
	interval time.Duration
	timeout  time.Duration
	lastBeat func() time.Time
	expired  func()

	stop     chan struct{}
	stopOnce sync.Once
}

func newWatchdog(interval, timeout time.Duration, lastBeat func() time.Time, expired func()) *watchdog {
	w := &watchdog{
		interval: interval,
		timeout:  timeout,
		lastBeat: lastBeat,
		expired:  expired,
		stop:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *watchdog) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if time.Since(w.lastBeat()) > w.timeout {
				w.expired()
				return
			}
		}
	}
}

// Cancel stops the watchdog. Safe to call more than once, including after
// the watchdog has already fired.
func (w *watchdog) Cancel() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}
