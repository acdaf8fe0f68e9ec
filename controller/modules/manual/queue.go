package manual

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pond-pi/pond-pi/controller/modules/actuator"
	"github.com/rs/xid"
)

var (
	ErrLineBusy = errors.New("line already has an active task")
	ErrCooldown = errors.New("pH dosing cooldown active")
	ErrLockout  = errors.New("pH safety lockout active")
	ErrPreset   = errors.New("preset out of range")
)

type Kind string

const (
	RunO2  Kind = "O2"
	DoseUp Kind = "pH_up"
	DoseDn Kind = "pH_down"
)

func (k Kind) line() actuator.Role {
	switch k {
	case DoseUp:
		return actuator.PHUp
	case DoseDn:
		return actuator.PHDown
	default:
		return actuator.O2
	}
}

// Task is a time bounded override that owns one line.
type Task struct {
	ID      string        `json:"id"`
	Kind    Kind          `json:"kind"`
	Line    actuator.Role `json:"line"`
	Expires time.Time     `json:"expires"`
}

// Outputs is the part of the actuator driver the scheduler needs.
type Outputs interface {
	Set(r actuator.Role, on bool) error
	State(r actuator.Role) bool
}

// storeIface is the minimal subset of the controller store we need.
type storeIface interface {
	CreateBucket(bucket string) error
	Get(bucket, id string, v interface{}) error
	Update(bucket, id string, v interface{}) error
}

// Scheduler owns the manual task list and the cooldown ledger. It is not
// safe for concurrent use; only the control loop calls it.
type Scheduler struct {
	cfg    Config
	out    Outputs
	store  storeIface
	log    *slog.Logger
	tasks  []Task
	ledger Ledger
}

// New returns a scheduler with the cooldown ledger loaded from store.
func New(cfg Config, out Outputs, store storeIface, log *slog.Logger) (*Scheduler, error) {
	if err := store.CreateBucket(Bucket); err != nil {
		return nil, err
	}
	s := &Scheduler{cfg: cfg, out: out, store: store, log: log}
	var l Ledger
	if err := store.Get(Bucket, ledgerKey, &l); err == nil {
		s.ledger = l
	}
	return s, nil
}

// Owns reports whether a task currently owns line r.
func (s *Scheduler) Owns(r actuator.Role) bool {
	for _, t := range s.tasks {
		if t.Line == r {
			return true
		}
	}
	return false
}

// Tasks returns a copy of the active tasks in admission order.
func (s *Scheduler) Tasks() []Task {
	return append([]Task{}, s.tasks...)
}

func (s *Scheduler) Ledger() Ledger { return s.ledger }

func (s *Scheduler) add(k Kind, d time.Duration, now time.Time) Task {
	t := Task{ID: xid.New().String(), Kind: k, Line: k.line(), Expires: now.Add(d)}
	s.tasks = append(s.tasks, t)
	return t
}

// RunO2 admits a manual aerator run, clamped to [0, O2Max].
func (s *Scheduler) RunO2(seconds float64, now time.Time) (Task, error) {
	if s.Owns(actuator.O2) {
		return Task{}, ErrLineBusy
	}
	secs := math.Min(math.Max(seconds, 0), s.cfg.O2Max.Seconds())
	d := time.Duration(secs * float64(time.Second))
	t := s.add(RunO2, d, now)
	s.log.Info("aerator run admitted", "task", t.ID, "duration", d)
	return t, nil
}

// Dose admits a pH dose from the preset table. Nothing changes unless the
// dose is admitted.
func (s *Scheduler) Dose(k Kind, preset int, locked bool, now time.Time) (Task, error) {
	if locked {
		return Task{}, ErrLockout
	}
	presets := s.cfg.PresetUp
	if k == DoseDn {
		presets = s.cfg.PresetDn
	}
	if preset < 0 || preset >= len(presets) {
		return Task{}, fmt.Errorf("%w: %d of %d", ErrPreset, preset, len(presets))
	}
	if err := s.ledger.check(now, s.cfg.Cooldown); err != nil {
		return Task{}, err
	}
	if s.Owns(k.line()) {
		return Task{}, ErrLineBusy
	}

	next := s.ledger.record(k, now)
	if err := s.store.Update(Bucket, ledgerKey, &next); err != nil {
		return Task{}, fmt.Errorf("persist cooldown ledger: %w", err)
	}
	s.ledger = next
	ml := presets[preset]
	t := s.add(k, s.cfg.DoseDuration(ml), now)
	s.log.Info("dose admitted", "task", t.ID, "kind", k, "ml", ml, "until", t.Expires.Format(time.TimeOnly))
	return t, nil
}

// Process drives owned lines high and releases expired tasks. A task whose
// line cannot be released stays active and is retried next cycle.
func (s *Scheduler) Process(now time.Time) error {
	var errs []error
	active := s.tasks[:0]
	for _, t := range s.tasks {
		if !s.out.State(t.Line) {
			if err := s.out.Set(t.Line, true); err != nil {
				errs = append(errs, err)
			} else {
				s.log.Info("manual task started", "kind", t.Kind, "task", t.ID)
			}
		}
		if now.Before(t.Expires) {
			active = append(active, t)
			continue
		}
		if err := s.out.Set(t.Line, false); err != nil {
			errs = append(errs, err)
			active = append(active, t)
			continue
		}
		s.log.Info("manual task finished", "kind", t.Kind, "task", t.ID)
	}
	s.tasks = active
	return errors.Join(errs...)
}

// Cancel drops every task on line r without touching the line.
func (s *Scheduler) Cancel(r actuator.Role) {
	active := s.tasks[:0]
	for _, t := range s.tasks {
		if t.Line != r {
			active = append(active, t)
		}
	}
	s.tasks = active
}

// Clear drops all tasks.
func (s *Scheduler) Clear() {
	s.tasks = nil
}

// describe renders how long ago a dose happened.
func describe(last, now time.Time) string {
	return humanize.RelTime(last, now, "ago", "from now")
}
