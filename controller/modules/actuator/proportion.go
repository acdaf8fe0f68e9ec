package actuator

import "time"

// Proportioner turns a 0-100 output into on-time within a fixed cycle.
type Proportioner struct {
	cycle time.Duration
	minOn time.Duration
	start time.Time
}

// NewProportioner starts the first cycle at now.
func NewProportioner(cycle, minOn time.Duration, now time.Time) *Proportioner {
	return &Proportioner{cycle: cycle, minOn: minOn, start: now}
}

// OnTime is the share of the cycle the line is held high for output, or zero
// when that share is shorter than the minimum actuation time.
func (p *Proportioner) OnTime(output float64) time.Duration {
	on := time.Duration(output / 100 * float64(p.cycle))
	if on < p.minOn {
		return 0
	}
	return on
}

// Step returns the on-time and the level the line should have at now. When
// a cycle has elapsed the start advances by exactly one cycle length so the
// duty cycle does not drift.
func (p *Proportioner) Step(output float64, now time.Time) (time.Duration, bool) {
	on := p.OnTime(output)
	elapsed := now.Sub(p.start)
	if elapsed >= p.cycle {
		p.start = p.start.Add(p.cycle)
		elapsed -= p.cycle
	}
	return on, elapsed < on
}

func (p *Proportioner) Start() time.Time { return p.start }
