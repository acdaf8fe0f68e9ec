package pid

import (
	"math"
	"time"
)

type Config struct {
	O2   Gains `yaml:"o2" json:"o2"`
	Up   Gains `yaml:"ph_up" json:"ph_up"`
	Down Gains `yaml:"ph_down" json:"ph_down"`

	PHSetpoint float64 `yaml:"ph_setpoint" json:"ph_setpoint"`
	O2Setpoint float64 `yaml:"o2_setpoint" json:"o2_setpoint"`
	PHDeadband float64 `yaml:"ph_deadband" json:"ph_deadband"`
	O2Deadband float64 `yaml:"o2_deadband" json:"o2_deadband"`

	OutputMin float64 `yaml:"output_min" json:"output_min"`
	OutputMax float64 `yaml:"output_max" json:"output_max"`
}

func DefaultConfig() Config {
	return Config{
		O2:         Gains{Kp: 2.0, Ki: 0.5, Kd: 0.1},
		Up:         Gains{Kp: 1.5, Ki: 0.5, Kd: 0.7},
		Down:       Gains{Kp: -2.0, Ki: -0.5, Kd: -0.7},
		PHSetpoint: 7.5,
		O2Setpoint: 5.0,
		PHDeadband: 0.4,
		O2Deadband: 0.5,
		OutputMin:  0,
		OutputMax:  100,
	}
}

// Errors this close to the deadband edge count as inside it, so a reading
// exactly on the boundary never actuates through float rounding.
const edge = 1e-9

func inside(err, band float64) bool {
	return math.Abs(err) <= band+edge
}

// Dual runs the two opposite pH controllers and the aeration controller.
// At most one pH direction is in automatic mode at any time.
type Dual struct {
	Up, Down, O2 *Controller

	phDeadband, o2Deadband float64
}

// NewDual builds the three controllers from cfg.
func NewDual(cfg Config, now time.Time) *Dual {
	return &Dual{
		Up:         New(cfg.Up, cfg.PHSetpoint, cfg.OutputMin, cfg.OutputMax, now),
		Down:       New(cfg.Down, cfg.PHSetpoint, cfg.OutputMin, cfg.OutputMax, now),
		O2:         New(cfg.O2, cfg.O2Setpoint, cfg.OutputMin, cfg.OutputMax, now),
		phDeadband: cfg.PHDeadband,
		o2Deadband: cfg.O2Deadband,
	}
}

// Outputs of one control step, in percent.
type Outputs struct {
	Down float64 `json:"ph_down"`
	Up   float64 `json:"ph_up"`
	O2   float64 `json:"o2"`
}

// Update computes the outputs. A paused loop, or one whose error is inside
// its deadband, is forced to manual with a zero output.
func (d *Dual) Update(ph, do float64, pausePH, pauseO2 bool, now time.Time) Outputs {
	var out Outputs

	errUp := d.Up.Setpoint - ph
	switch {
	case pausePH, inside(errUp, d.phDeadband), errUp <= 0:
		d.Up.SetAuto(false, now)
	default:
		d.Up.SetAuto(true, now)
		d.Down.SetAuto(false, now)
		out.Up = d.Up.Update(ph, now)
	}

	errDown := ph - d.Down.Setpoint
	switch {
	case pausePH, inside(errDown, d.phDeadband), errDown <= 0:
		d.Down.SetAuto(false, now)
	default:
		d.Down.SetAuto(true, now)
		d.Up.SetAuto(false, now)
		out.Down = d.Down.Update(ph, now)
	}

	if pauseO2 || inside(do-d.O2.Setpoint, d.o2Deadband) {
		d.O2.SetAuto(false, now)
	} else {
		d.O2.SetAuto(true, now)
		out.O2 = d.O2.Update(do, now)
	}
	return out
}

// ManualPH forces both pH controllers to manual.
func (d *Dual) ManualPH(now time.Time) {
	d.Up.SetAuto(false, now)
	d.Down.SetAuto(false, now)
}

// ManualO2 forces the aeration controller to manual.
func (d *Dual) ManualO2(now time.Time) {
	d.O2.SetAuto(false, now)
}
