package actuator

import (
	"errors"
	"time"

	"github.com/reef-pi/hal"
)

// Pulser keeps an external monostable timer in step with the pH relays.
// A rising edge on either relay re-arms it with a reset pulse, a falling edge
// fires it with a trigger pulse. Both control inputs are active low.
type Pulser struct {
	trigger, reset hal.DigitalOutputPin
	width          time.Duration
	sleep          func(time.Duration)

	prevUp, prevDown bool
}

// NewPulser returns a pulser that has seen no edges yet.
func NewPulser(trigger, reset hal.DigitalOutputPin, width time.Duration) *Pulser {
	return &Pulser{trigger: trigger, reset: reset, width: width, sleep: time.Sleep}
}

func (p *Pulser) pulse(pin hal.DigitalOutputPin) error {
	if err := pin.Write(false); err != nil {
		return err
	}
	p.sleep(p.width)
	return pin.Write(true)
}

// Update feeds the actual relay states of this cycle.
func (p *Pulser) Update(up, down bool) error {
	var errs []error
	if up && !p.prevUp {
		errs = append(errs, p.pulse(p.reset))
	}
	if down && !p.prevDown {
		errs = append(errs, p.pulse(p.reset))
	}
	if p.prevUp && !up {
		errs = append(errs, p.pulse(p.trigger))
	}
	if p.prevDown && !down {
		errs = append(errs, p.pulse(p.trigger))
	}
	p.prevUp, p.prevDown = up, down
	return errors.Join(errs...)
}

// Idle releases the trigger, re-arms the timer and forgets the previous
// relay states.
func (p *Pulser) Idle() error {
	p.prevUp, p.prevDown = false, false
	return errors.Join(p.trigger.Write(true), p.pulse(p.reset))
}

// Edges returns the remembered relay states.
func (p *Pulser) Edges() (up, down bool) {
	return p.prevUp, p.prevDown
}
