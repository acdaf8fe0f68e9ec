// Package actuator drives the relay lines: time proportioned control of the
// dosing pumps and aerator, and the auxiliary pulses for the external timer
// that follows the pH pumps.
package actuator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/pond-pi/pond-pi/controller/modules/pid"
	"github.com/reef-pi/hal"
)

// OnTimes of the last Drive call.
type OnTimes struct {
	Down time.Duration `json:"ph_down"`
	Up   time.Duration `json:"ph_up"`
	O2   time.Duration `json:"o2"`
}

// Driver is safe for concurrent use so teardown paths can force the lines
// safe while the control loop is running.
type Driver struct {
	mu     sync.Mutex
	pins   map[Role]hal.DigitalOutputPin
	props  map[Role]*Proportioner
	pulser *Pulser
}

// Open requests every configured line from the selected backend.
func Open(cfg Config, now time.Time) (*Driver, error) {
	pins := make(map[Role]hal.DigitalOutputPin)
	for _, r := range []Role{PHUp, PHDown, O2, Trigger, Reset} {
		num, ok := cfg.Lines[r]
		if !ok {
			closeAll(pins)
			return nil, fmt.Errorf("no line configured for %s", r)
		}
		initial := r == Trigger || r == Reset
		switch cfg.Backend {
		case "memory":
			pins[r] = NewMemPin(string(r), num, initial)
		case "gpiocdev", "":
			p, err := openCdev(cfg.Chip, string(r), num, initial)
			if err != nil {
				closeAll(pins)
				return nil, err
			}
			pins[r] = p
		default:
			closeAll(pins)
			return nil, fmt.Errorf("unknown gpio backend: %s", cfg.Backend)
		}
	}
	return NewDriver(pins, cfg, now)
}

func closeAll(pins map[Role]hal.DigitalOutputPin) {
	for _, p := range pins {
		p.Close()
	}
}

// NewDriver drives the given pins. Every role in cfg must have a pin.
func NewDriver(pins map[Role]hal.DigitalOutputPin, cfg Config, now time.Time) (*Driver, error) {
	for _, r := range []Role{PHUp, PHDown, O2, Trigger, Reset} {
		if pins[r] == nil {
			return nil, fmt.Errorf("missing pin for %s", r)
		}
	}
	d := &Driver{
		pins:   pins,
		props:  make(map[Role]*Proportioner),
		pulser: NewPulser(pins[Trigger], pins[Reset], cfg.Pulse),
	}
	for _, r := range Relays {
		d.props[r] = NewProportioner(cfg.Cycle, cfg.MinOn, now)
	}
	return d, nil
}

// SetSleep replaces the function used to time auxiliary pulses.
func (d *Driver) SetSleep(fn func(time.Duration)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pulser.sleep = fn
}

// Init puts every line in its rest state and re-arms the timer.
func (d *Driver) Init() error {
	return errors.Join(d.Safe(), d.ResetPulser())
}

func (d *Driver) write(r Role, on bool) error {
	p := d.pins[r]
	if p.LastState() == on {
		return nil
	}
	if err := p.Write(on); err != nil {
		return fmt.Errorf("%s line %d: %w", r, p.Number(), err)
	}
	return nil
}

// Drive applies the control outputs. Lines owned by a manual task are left
// untouched and report zero on-time. The auxiliary pulser always sees the
// actual state of both pH relays afterwards.
func (d *Driver) Drive(out pid.Outputs, owned func(Role) bool, now time.Time) (OnTimes, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var on OnTimes
	var errs []error
	levels := map[Role]float64{PHUp: out.Up, PHDown: out.Down, O2: out.O2}
	times := map[Role]*time.Duration{PHUp: &on.Up, PHDown: &on.Down, O2: &on.O2}
	for _, r := range []Role{PHUp, PHDown, O2} {
		if owned(r) {
			continue
		}
		t, high := d.props[r].Step(levels[r], now)
		if err := d.write(r, high); err != nil {
			errs = append(errs, err)
			continue
		}
		*times[r] = t
	}
	if err := d.pulser.Update(d.pins[PHUp].LastState(), d.pins[PHDown].LastState()); err != nil {
		errs = append(errs, err)
	}
	return on, faults.Wrap(faults.GPIO, errors.Join(errs...))
}

// Set drives one line directly.
func (d *Driver) Set(r Role, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return faults.Wrap(faults.GPIO, d.write(r, on))
}

// State returns the last written level of r.
func (d *Driver) State(r Role) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pins[r].LastState()
}

func (d *Driver) Number(r Role) int {
	return d.pins[r].Number()
}

// ResetPulser returns the auxiliary timer to idle.
func (d *Driver) ResetPulser() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return faults.Wrap(faults.GPIO, d.pulser.Idle())
}

// Safe de-energizes all relays and releases both auxiliary inputs.
func (d *Driver) Safe() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.safe()
}

func (d *Driver) safe() error {
	var errs []error
	for _, r := range Relays {
		errs = append(errs, d.write(r, false))
	}
	errs = append(errs, d.write(Trigger, true), d.write(Reset, true))
	return faults.Wrap(faults.GPIO, errors.Join(errs...))
}

// Close forces the lines safe and releases them.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.safe()
	for _, p := range d.pins {
		err = errors.Join(err, p.Close())
	}
	return err
}
