// Package safety implements the pH drift interlock. A pH change larger than
// the allowed hourly or daily delta latches a lockout that blocks automatic
// and manual pH correction.
package safety

import (
	"math"
	"time"
)

type Config struct {
	HourlyDelta float64       `yaml:"hourly_delta" json:"hourly_delta"`
	DailyDelta  float64       `yaml:"daily_delta" json:"daily_delta"`
	Hour        time.Duration `yaml:"hour" json:"hour"`
	Day         time.Duration `yaml:"day" json:"day"`
}

func DefaultConfig() Config {
	return Config{
		HourlyDelta: 0.10,
		DailyDelta:  0.50,
		Hour:        time.Hour,
		Day:         24 * time.Hour,
	}
}

type window struct {
	length time.Duration
	delta  float64
	ph     float64
	since  time.Time
}

// check compares ph against the baseline once the window has elapsed and
// rebases it. It reports the observed drift and whether it exceeded delta.
func (w *window) check(ph float64, now time.Time) (float64, bool) {
	if now.Sub(w.since) < w.length {
		return 0, false
	}
	drift := math.Abs(ph - w.ph)
	w.ph, w.since = ph, now
	return drift, drift > w.delta
}

// Trip describes why the lockout latched.
type Trip struct {
	Window string
	Drift  float64
	Limit  float64
}

// Interlock tracks hourly and daily pH baselines.
type Interlock struct {
	hourly, daily window
	started       bool
	locked        bool
}

// New returns an unlocked interlock. Baselines are taken from the first reading.
func New(cfg Config) *Interlock {
	return &Interlock{
		hourly: window{length: cfg.Hour, delta: cfg.HourlyDelta},
		daily:  window{length: cfg.Day, delta: cfg.DailyDelta},
	}
}

// Observe feeds the current pH. The first call only records the baselines.
// It returns a non-nil Trip on the call that latches the lockout; the caller
// must then pause pH control.
func (l *Interlock) Observe(ph float64, now time.Time) *Trip {
	if !l.started {
		l.hourly.ph, l.hourly.since = ph, now
		l.daily.ph, l.daily.since = ph, now
		l.started = true
		return nil
	}
	var trip *Trip
	if drift, over := l.hourly.check(ph, now); over && !l.locked {
		l.locked = true
		trip = &Trip{Window: "hourly", Drift: drift, Limit: l.hourly.delta}
	}
	if drift, over := l.daily.check(ph, now); over && !l.locked {
		l.locked = true
		trip = &Trip{Window: "daily", Drift: drift, Limit: l.daily.delta}
	}
	return trip
}

// Locked reports the latched lockout. It is never cleared by the interlock
// itself.
func (l *Interlock) Locked() bool { return l.locked }
