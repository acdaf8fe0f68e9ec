package acquisition

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Thermometer reads water temperature in °C.
type Thermometer interface {
	Temperature() (float64, error)
}

type TemperatureConfig struct {
	Device   string        `yaml:"device" json:"device"`
	Root     string        `yaml:"root" json:"root"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Fallback float64       `yaml:"fallback" json:"fallback"`
}

func DefaultTemperatureConfig() TemperatureConfig {
	return TemperatureConfig{
		Root:     "/sys/bus/w1/devices",
		Interval: 5 * time.Second,
		Fallback: 25.0,
	}
}

// DS18B20 reads a one-wire probe through the w1-therm sysfs interface.
type DS18B20 struct {
	path string
}

// NewDS18B20 locates the probe. With an empty device id the first 28-*
// device under root is used.
func NewDS18B20(root, device string) (*DS18B20, error) {
	if device == "" {
		matches, err := filepath.Glob(filepath.Join(root, "28-*"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no DS18B20 found under %s", root)
		}
		return &DS18B20{path: filepath.Join(matches[0], "w1_slave")}, nil
	}
	return &DS18B20{path: filepath.Join(root, device, "w1_slave")}, nil
}

func (d *DS18B20) Temperature() (float64, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return 0, err
	}
	return parseW1(string(data))
}

func parseW1(data string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("short w1 read: %q", data)
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("w1 crc check failed")
	}
	i := strings.Index(lines[1], "t=")
	if i < 0 {
		return 0, fmt.Errorf("no temperature in %q", lines[1])
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, err
	}
	return float64(milli) / 1000.0, nil
}

// FixedThermometer always reports the same value.
type FixedThermometer float64

func (f FixedThermometer) Temperature() (float64, error) { return float64(f), nil }

// TempCache limits how often the probe is read. A probe conversion takes
// most of a second and must not run every cycle.
type TempCache struct {
	th       Thermometer
	interval time.Duration
	fallback float64

	read   time.Time
	value  float64
	failed bool
	err    error
}

// NewTempCache returns a cache that starts at the fallback value.
func NewTempCache(th Thermometer, interval time.Duration, fallback float64) *TempCache {
	return &TempCache{th: th, interval: interval, fallback: fallback, value: fallback}
}

// Get returns the cached temperature, re-reading the probe when the interval
// has elapsed. On failure the fallback value is cached and Failed reports true
// until the next successful read.
func (c *TempCache) Get(now time.Time) float64 {
	if !c.read.IsZero() && now.Sub(c.read) < c.interval {
		return c.value
	}
	c.read = now
	t, err := c.th.Temperature()
	if err != nil {
		c.value = c.fallback
		c.failed = true
		c.err = err
		return c.value
	}
	c.value = t
	c.failed = false
	c.err = nil
	return c.value
}

// Failed reports whether the last probe read failed.
func (c *TempCache) Failed() bool { return c.failed }
func (c *TempCache) Err() error   { return c.err }
