// Package acquisition turns raw ADC frames from the sensor board into
// compensated pH, dissolved oxygen and temperature readings.
//
// Raw counts are averaged over N frames, scaled to volts, exponentially
// smoothed, then converted:
//
//	DO  = mV * sat(T) / Vsat(T) / 1000        (two point calibration + table)
//	pH  = a25 * (T_K / 298.15) * V + b        (Nernst slope correction)
package acquisition

import "math"

// Channel indexes inside a frame.
const (
	Reference = 0 // pH probe, "A0"
	Working   = 1 // DO probe, "A1"
	Channels  = 2
)

// Calibration holds the fixed conversion constants.
type Calibration struct {
	Scale [Channels]float64 `yaml:"scale" json:"scale"`
	Alpha float64           `yaml:"alpha" json:"alpha"`

	// Two point DO calibration, saturation voltage (mV) at temperature (°C).
	Cal1MV float64 `yaml:"cal1_mv" json:"cal1_mv"`
	Cal1T  float64 `yaml:"cal1_t" json:"cal1_t"`
	Cal2MV float64 `yaml:"cal2_mv" json:"cal2_mv"`
	Cal2T  float64 `yaml:"cal2_t" json:"cal2_t"`

	A25 float64 `yaml:"a25" json:"a25"`
	B   float64 `yaml:"b" json:"b"`
}

func DefaultCalibration() Calibration {
	return Calibration{
		Scale:  [Channels]float64{0.0001875, 0.000125}, // ±6.144V and ±4.096V ranges
		Alpha:  0.8,
		Cal1MV: 1600, Cal1T: 25,
		Cal2MV: 1300, Cal2T: 15,
		A25: -5.7,
		B:   21.34,
	}
}

// saturation is the DO saturation concentration of fresh water in µg/L for
// 0..40 °C in one degree steps.
var saturation = [41]float64{
	14460, 14220, 13820, 13440, 13090, 12740, 12420, 12110, 11810, 11530,
	11260, 11010, 10770, 10530, 10300, 10080, 9860, 9660, 9460, 9270,
	9080, 8900, 8730, 8570, 8410, 8250, 8110, 7960, 7820, 7690,
	7560, 7430, 7300, 7180, 7070, 6950, 6840, 6730, 6630, 6530, 6410,
}

func clampTemp(t float64) float64 {
	return math.Min(math.Max(t, 0), 40)
}

// Saturation returns the table value interpolated at t, in µg/L.
func Saturation(t float64) float64 {
	t = clampTemp(t)
	lo := int(t)
	hi := lo + 1
	if hi > 40 {
		hi = 40
	}
	frac := t - float64(lo)
	return saturation[lo] + (saturation[hi]-saturation[lo])*frac
}

// SaturationVoltage returns the probe voltage (mV) expected in air saturated
// water at t.
func (c Calibration) SaturationVoltage(t float64) float64 {
	t = clampTemp(t)
	return (t-c.Cal2T)*(c.Cal1MV-c.Cal2MV)/(c.Cal1T-c.Cal2T) + c.Cal2MV
}

// DO converts a working channel voltage in mV to mg/L.
func (c Calibration) DO(mv, t float64) float64 {
	return mv * Saturation(t) / c.SaturationVoltage(t) / 1000.0
}

// PH converts a reference channel voltage in volts to pH. The slope uses the
// temperature rounded to a whole degree.
func (c Calibration) PH(v, t float64) float64 {
	kelvin := math.RoundToEven(clampTemp(t)) + 273.15
	return c.A25*(kelvin/298.15)*v + c.B
}

// Smoother is a per channel exponential filter.
type Smoother struct {
	alpha  float64
	last   [Channels]float64
	primed [Channels]bool
}

func NewSmoother(alpha float64) *Smoother {
	return &Smoother{alpha: alpha}
}

// Apply filters v for channel ch. The first value passes through.
func (s *Smoother) Apply(ch int, v float64) float64 {
	if !s.primed[ch] {
		s.primed[ch] = true
		s.last[ch] = v
		return v
	}
	s.last[ch] = s.alpha*v + (1-s.alpha)*s.last[ch]
	return s.last[ch]
}

// Sample is one compensated reading.
type Sample struct {
	VRef  float64 `json:"a0"`
	VWork float64 `json:"a1"`
	PH    float64 `json:"ph"`
	DO    float64 `json:"do"`
	Temp  float64 `json:"temp"`
}

// Compensator converts averaged counts into a Sample.
type Compensator struct {
	cal      Calibration
	smoother *Smoother
}

// NewCompensator returns a compensator with fresh smoothing state.
func NewCompensator(cal Calibration) *Compensator {
	return &Compensator{cal: cal, smoother: NewSmoother(cal.Alpha)}
}

// Compensate turns averaged counts into smoothed voltages, pH and DO at temp.
func (c *Compensator) Compensate(avg [Channels]float64, temp float64) Sample {
	vRef := c.smoother.Apply(Reference, avg[Reference]*c.cal.Scale[Reference])
	vWork := c.smoother.Apply(Working, avg[Working]*c.cal.Scale[Working])
	return Sample{
		VRef:  vRef,
		VWork: vWork,
		PH:    c.cal.PH(vRef, temp),
		DO:    c.cal.DO(vWork*1000, temp),
		Temp:  temp,
	}
}
