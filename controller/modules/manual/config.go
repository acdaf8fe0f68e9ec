// Package manual schedules operator-issued overrides: timed aerator runs and
// pH doses that own their relay line until they expire.
package manual

import "time"

// Bucket holds the cooldown ledger.
const Bucket = "manual"

type Config struct {
	Flow     float64       `yaml:"flow" json:"flow"` // ml/min of the dosing pumps
	O2Max    time.Duration `yaml:"o2_max" json:"o2_max"`
	PresetUp []float64     `yaml:"presets_up" json:"presets_up"`
	PresetDn []float64     `yaml:"presets_down" json:"presets_down"`
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

func DefaultConfig() Config {
	return Config{
		Flow:     70,
		O2Max:    300 * time.Second,
		PresetUp: []float64{10, 20, 40},
		PresetDn: []float64{10, 20, 40},
		Cooldown: time.Hour,
	}
}

// DoseDuration converts a volume in ml to pump run time.
func (c Config) DoseDuration(ml float64) time.Duration {
	return time.Duration(ml / c.Flow * 60 * float64(time.Second))
}
