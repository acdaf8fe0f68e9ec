package pid

import (
	"math"
	"time"
)

// Gains of one controller.
type Gains struct {
	Kp float64 `yaml:"kp" json:"kp"`
	Ki float64 `yaml:"ki" json:"ki"`
	Kd float64 `yaml:"kd" json:"kd"`
}

// Controller is a bounded PID with proportional on error, derivative on
// measurement and an integral clamped to the output limits.
type Controller struct {
	Gains
	Setpoint   float64
	Min, Max   float64
	SampleTime time.Duration

	auto bool

	p, i, d float64

	lastTime   time.Time
	lastOutput float64
	hasOutput  bool
	lastInput  float64
	hasInput   bool
}

// New returns a controller in automatic mode, bounded to [min, max].
func New(g Gains, setpoint, min, max float64, now time.Time) *Controller {
	return &Controller{
		Gains:      g,
		Setpoint:   setpoint,
		Min:        min,
		Max:        max,
		SampleTime: 10 * time.Millisecond,
		auto:       true,
		lastTime:   now,
	}
}

func (c *Controller) clamp(v float64) float64 {
	return math.Min(math.Max(v, c.Min), c.Max)
}

// Update computes a new output for input. In manual mode the last output is
// returned unchanged, as is a call that comes before SampleTime has passed.
func (c *Controller) Update(input float64, now time.Time) float64 {
	if !c.auto {
		return c.lastOutput
	}
	dt := now.Sub(c.lastTime).Seconds()
	if dt <= 0 {
		dt = 1e-16
	}
	if c.SampleTime > 0 && dt < c.SampleTime.Seconds() && c.hasOutput {
		return c.lastOutput
	}

	err := c.Setpoint - input
	dInput := 0.0
	if c.hasInput {
		dInput = input - c.lastInput
	}

	c.p = c.Kp * err
	c.i = c.clamp(c.i + c.Ki*err*dt)
	c.d = -c.Kd * dInput / dt

	out := c.clamp(c.p + c.i + c.d)

	c.lastOutput, c.hasOutput = out, true
	c.lastInput, c.hasInput = input, true
	c.lastTime = now
	return out
}

// SetAuto switches between automatic and manual mode. Entering automatic mode
// from manual starts from clean terms.
func (c *Controller) SetAuto(enabled bool, now time.Time) {
	if enabled && !c.auto {
		c.Reset(now)
	}
	c.auto = enabled
}

func (c *Controller) Auto() bool { return c.auto }

// Reset clears all terms and history.
func (c *Controller) Reset(now time.Time) {
	c.p, c.i, c.d = 0, 0, 0
	c.i = c.clamp(c.i)
	c.lastTime = now
	c.lastOutput, c.hasOutput = 0, false
	c.lastInput, c.hasInput = 0, false
}

// Components returns the P, I and D terms of the last computation.
func (c *Controller) Components() (p, i, d float64) {
	return c.p, c.i, c.d
}
