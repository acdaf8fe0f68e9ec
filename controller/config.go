package controller

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pond-pi/pond-pi/controller/modules/acquisition"
	"github.com/pond-pi/pond-pi/controller/modules/actuator"
	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/pond-pi/pond-pi/controller/modules/gateway"
	"github.com/pond-pi/pond-pi/controller/modules/manual"
	"github.com/pond-pi/pond-pi/controller/modules/pid"
	"github.com/pond-pi/pond-pi/controller/modules/recorder"
	"github.com/pond-pi/pond-pi/controller/modules/safety"
	"gopkg.in/yaml.v2"
)

// Bucket holds controller records such as the event journal.
const Bucket = "controller"

type SamplingConfig struct {
	Tick    time.Duration `yaml:"tick" json:"tick"`
	Samples int           `yaml:"samples" json:"samples"`
}

type WatchdogConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Check   time.Duration `yaml:"check" json:"check"`
	Reexec  bool          `yaml:"reexec" json:"reexec"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config holds every tunable of the controller. Zero sections are filled
// from DefaultConfig before a file is decoded over it.
type Config struct {
	DevMode          bool                          `yaml:"dev_mode" json:"dev_mode"`
	Serial           acquisition.SerialConfig      `yaml:"serial" json:"serial"`
	Sampling         SamplingConfig                `yaml:"sampling" json:"sampling"`
	Temperature      acquisition.TemperatureConfig `yaml:"temperature" json:"temperature"`
	Calibration      acquisition.Calibration       `yaml:"calibration" json:"calibration"`
	PID              pid.Config                    `yaml:"pid" json:"pid"`
	Actuator         actuator.Config               `yaml:"actuator" json:"actuator"`
	Manual           manual.Config                 `yaml:"manual" json:"manual"`
	Safety           safety.Config                 `yaml:"safety" json:"safety"`
	Detector         faults.DetectorConfig         `yaml:"detector" json:"detector"`
	Network          gateway.Config                `yaml:"network" json:"network"`
	Recorder         recorder.Config               `yaml:"recorder" json:"recorder"`
	Watchdog         WatchdogConfig                `yaml:"watchdog" json:"watchdog"`
	Store            string                        `yaml:"store" json:"store"`
	HTTP             string                        `yaml:"http" json:"http"`
	Auth             AuthConfig                    `yaml:"auth" json:"auth"`
	Log              LogConfig                     `yaml:"log" json:"log"`
	ReconnectBackoff time.Duration                 `yaml:"reconnect_backoff" json:"reconnect_backoff"`
	ErrorPause       time.Duration                 `yaml:"error_pause" json:"error_pause"`
}

// DefaultConfig returns the settings of a stock installation.
func DefaultConfig() Config {
	return Config{
		Serial:      acquisition.DefaultSerialConfig(),
		Sampling:    SamplingConfig{Tick: 50 * time.Millisecond, Samples: 5},
		Temperature: acquisition.DefaultTemperatureConfig(),
		Calibration: acquisition.DefaultCalibration(),
		PID:         pid.DefaultConfig(),
		Actuator:    actuator.DefaultConfig(),
		Manual:      manual.DefaultConfig(),
		Safety:      safety.DefaultConfig(),
		Detector:    faults.DefaultDetectorConfig(),
		Network:     gateway.DefaultConfig(),
		Recorder:    recorder.DefaultConfig(),
		Watchdog: WatchdogConfig{
			Timeout: 20 * time.Second,
			Check:   time.Second,
			Reexec:  true,
		},
		Store:            "pond-pi.db",
		HTTP:             "127.0.0.1:8080",
		Log:              LogConfig{Level: "info", Format: "json"},
		ReconnectBackoff: 2 * time.Second,
		ErrorPause:       500 * time.Millisecond,
	}
}

// LoadConfig reads an optional .env file, decodes path (when given) over the
// defaults and applies POND_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("POND_SERIAL_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("POND_DB"); v != "" {
		c.Store = v
	}
	if v := os.Getenv("POND_HTTP"); v != "" {
		c.HTTP = v
	}
	if v := os.Getenv("POND_MQTT_BROKER"); v != "" {
		c.Network.MQTT.Broker = v
		c.Network.MQTT.Enable = true
	}
	if v := os.Getenv("POND_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("POND_DEV_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("POND_DEV_MODE: %w", err)
		}
		c.DevMode = b
	}
	return nil
}

func validPresets(ml []float64) bool {
	if len(ml) == 0 {
		return false
	}
	for _, v := range ml {
		if !(v > 0) {
			return false
		}
	}
	return true
}

// Validate rejects settings the control loop cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Sampling.Tick <= 0:
		return fmt.Errorf("sampling tick must be positive")
	case c.Sampling.Samples <= 0:
		return fmt.Errorf("sampling samples must be positive")
	case c.Actuator.Cycle <= 0:
		return fmt.Errorf("actuator cycle must be positive")
	case c.Actuator.MinOn < 0 || c.Actuator.MinOn > c.Actuator.Cycle:
		return fmt.Errorf("actuator min_on must be within the cycle")
	case c.Calibration.Alpha <= 0 || c.Calibration.Alpha > 1:
		return fmt.Errorf("calibration alpha must be in (0,1]")
	case c.Calibration.Cal1T == c.Calibration.Cal2T:
		return fmt.Errorf("calibration points need distinct temperatures")
	case c.Manual.Flow <= 0:
		return fmt.Errorf("manual flow must be positive")
	case c.Manual.O2Max <= 0:
		return fmt.Errorf("manual o2_max must be positive")
	case c.Manual.Cooldown < 0:
		return fmt.Errorf("manual cooldown must not be negative")
	case !validPresets(c.Manual.PresetUp) || !validPresets(c.Manual.PresetDn):
		return fmt.Errorf("manual presets must be non-empty and positive")
	case c.Network.QueueSize <= 0:
		return fmt.Errorf("network queue_size must be positive")
	case c.Watchdog.Timeout <= 0 || c.Watchdog.Check <= 0:
		return fmt.Errorf("watchdog timeout and check must be positive")
	case c.Detector.History <= 0 || c.Detector.TempHistory <= 0:
		return fmt.Errorf("detector history must be positive")
	case c.Auth.Enabled() && (c.Auth.PasswordHash == "" || len(c.Auth.SessionKey) < 32):
		return fmt.Errorf("auth needs a password_hash and a session_key of at least 32 bytes")
	}
	return nil
}
