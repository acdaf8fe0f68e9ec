package faults

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DetectorConfig holds the thresholds of the sensor fault checks.
type DetectorConfig struct {
	PHMin   float64 `yaml:"ph_min" json:"ph_min"`
	PHMax   float64 `yaml:"ph_max" json:"ph_max"`
	DOMin   float64 `yaml:"do_min" json:"do_min"`
	DOMax   float64 `yaml:"do_max" json:"do_max"`
	TempMin float64 `yaml:"temp_min" json:"temp_min"`
	TempMax float64 `yaml:"temp_max" json:"temp_max"`

	MaxInvalid     int     `yaml:"max_invalid" json:"max_invalid"`
	History        int     `yaml:"history" json:"history"`
	TempHistory    int     `yaml:"temp_history" json:"temp_history"`
	FrozenEpsilon  float64 `yaml:"frozen_epsilon" json:"frozen_epsilon"`
	FluctMinWindow int     `yaml:"fluct_min_window" json:"fluct_min_window"`
	FluctPH        float64 `yaml:"fluct_ph" json:"fluct_ph"`
	FluctDO        float64 `yaml:"fluct_do" json:"fluct_do"`
	CoherenceRatio float64 `yaml:"coherence_ratio" json:"coherence_ratio"`

	// Stable water legitimately holds its temperature for a long time, so the
	// frozen check on temperature is off unless asked for.
	FreezeCheckTemperature bool `yaml:"freeze_check_temperature" json:"freeze_check_temperature"`
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		PHMin: 0, PHMax: 14,
		DOMin: 0, DOMax: 20,
		TempMin: 0, TempMax: 40,
		MaxInvalid:     4,
		History:        50,
		TempHistory:    200,
		FrozenEpsilon:  0.001,
		FluctMinWindow: 10,
		FluctPH:        1.2,
		FluctDO:        1.2,
		CoherenceRatio: 1.10,
	}
}

// ring is a bounded FIFO of the most recent samples.
type ring struct {
	buf  []float64
	size int
}

func newRing(size int) *ring {
	return &ring{buf: make([]float64, 0, size), size: size}
}

func (r *ring) push(v float64) {
	if len(r.buf) == r.size {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:r.size-1]
	}
	r.buf = append(r.buf, v)
}

func (r *ring) full() bool { return len(r.buf) == r.size }
func (r *ring) len() int   { return len(r.buf) }

// prev returns the sample before the latest one.
func (r *ring) prev() float64 { return r.buf[len(r.buf)-2] }

func (r *ring) spread() float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range r.buf {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo
}

func (r *ring) stddev() float64 {
	return stat.PopStdDev(r.buf, nil)
}

// Detector classifies compensated readings into fault codes. It keeps its own
// history and consecutive-invalid counters between calls; nothing else persists
// from one cycle to the next.
type Detector struct {
	cfg DetectorConfig

	ph, do, temp *ring

	badPH, badDO, badTemp int
}

// NewDetector returns a detector with empty histories.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		cfg:  cfg,
		ph:   newRing(cfg.History),
		do:   newRing(cfg.History),
		temp: newRing(cfg.TempHistory),
	}
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func count(counter *int, v float64) {
	if valid(v) {
		*counter = 0
		return
	}
	*counter++
}

// Check evaluates every mechanism against one compensated sample. Missing
// readings are passed as NaN. The result is never empty: {0} means healthy.
func (d *Detector) Check(ph, do, temp float64) Set {
	errs := Set{}

	count(&d.badPH, ph)
	count(&d.badDO, do)
	count(&d.badTemp, temp)
	if d.badPH >= d.cfg.MaxInvalid {
		errs.Add(PHInvalid)
	}
	if d.badDO >= d.cfg.MaxInvalid {
		errs.Add(DOInvalid)
	}
	if d.badTemp >= d.cfg.MaxInvalid {
		errs.Add(TempInvalid)
	}

	if !valid(ph) || !valid(do) || !valid(temp) {
		if !valid(ph) {
			errs.Add(PHInvalid)
		}
		if !valid(do) {
			errs.Add(DOInvalid)
		}
		if !valid(temp) {
			errs.Add(TempInvalid)
		}
		return errs
	}

	if ph < d.cfg.PHMin || ph > d.cfg.PHMax {
		errs.Add(PHRange)
	}
	if do < d.cfg.DOMin || do > d.cfg.DOMax {
		errs.Add(DORange)
	}
	if temp < d.cfg.TempMin || temp > d.cfg.TempMax {
		errs.Add(TempRange)
	}

	d.ph.push(ph)
	d.do.push(do)
	d.temp.push(temp)

	if d.ph.full() && d.ph.spread() < d.cfg.FrozenEpsilon {
		errs.Add(PHFrozen)
	}
	if d.do.full() && d.do.spread() < d.cfg.FrozenEpsilon {
		errs.Add(DOFrozen)
	}
	if d.cfg.FreezeCheckTemperature && d.temp.full() && d.temp.spread() < d.cfg.FrozenEpsilon {
		errs.Add(TempFrozen)
	}

	if d.ph.len() >= d.cfg.FluctMinWindow && d.ph.stddev() > d.cfg.FluctPH {
		errs.Add(PHFluctuation)
	}
	if d.do.len() >= d.cfg.FluctMinWindow && d.do.stddev() > d.cfg.FluctDO {
		errs.Add(DOFluctuation)
	}

	// Warmer water holds less oxygen.
	if d.temp.len() >= 2 && d.do.len() >= 2 {
		if temp > d.temp.prev() && do > d.do.prev()*d.cfg.CoherenceRatio {
			errs.Add(TempDOIncoherent)
		}
	}

	if errs.Empty() {
		errs.Add(None)
	}
	return errs
}
