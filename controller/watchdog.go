package controller

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Watchdog restarts the process when the control loop stops beating.
type Watchdog struct {
	mu       sync.Mutex
	last     time.Time
	notified time.Time
	fired    bool

	timeout time.Duration
	check   time.Duration
	expire  func()
	notify  func(state string)
	log     *slog.Logger
	quit    chan struct{}
}

// NewWatchdog arms a watchdog that calls expire once, from its own
// goroutine, after timeout without a beat.
func NewWatchdog(cfg WatchdogConfig, log *slog.Logger, expire func()) *Watchdog {
	return &Watchdog{
		timeout: cfg.Timeout,
		check:   cfg.Check,
		expire:  expire,
		notify:  sdNotify(log),
		log:     log,
	}
}

func sdNotify(log *slog.Logger) func(string) {
	return func(state string) {
		if _, err := daemon.SdNotify(false, state); err != nil {
			log.Debug("sd_notify", "state", state, "error", err)
		}
	}
}

// Beat records liveness. systemd is told at most once a second.
func (w *Watchdog) Beat(now time.Time) {
	w.mu.Lock()
	w.last = now
	send := now.Sub(w.notified) >= time.Second
	if send {
		w.notified = now
	}
	w.mu.Unlock()
	if send {
		w.notify(daemon.SdNotifyWatchdog)
	}
}

// LastBeat returns the time of the most recent heartbeat.
func (w *Watchdog) LastBeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Start begins checking. The first window counts from now.
func (w *Watchdog) Start(now time.Time) {
	w.mu.Lock()
	if w.last.IsZero() {
		w.last = now
	}
	w.quit = make(chan struct{})
	quit := w.quit
	w.mu.Unlock()
	w.notify(daemon.SdNotifyReady)

	go func() {
		ticker := time.NewTicker(w.check)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				w.Check(now)
			case <-quit:
				return
			}
		}
	}()
}

// Check fires the expire callback when the last beat is older than the
// timeout. It reports whether it fired.
func (w *Watchdog) Check(now time.Time) bool {
	w.mu.Lock()
	stale := now.Sub(w.last) > w.timeout
	fire := stale && !w.fired
	if fire {
		w.fired = true
	}
	last := w.last
	w.mu.Unlock()
	if !fire {
		return false
	}
	w.log.Error("control loop stalled", "last_beat", last, "timeout", w.timeout)
	w.expire()
	return true
}

// Stop ends the check loop and tells systemd the service is stopping.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	w.notify(daemon.SdNotifyStopping)
}
