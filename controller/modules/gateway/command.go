// Package gateway is the controller's edge: the TCP command channel, the
// UDP telemetry and state broadcasts, and an optional MQTT mirror.
package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformed = errors.New("malformed command")
	ErrUnknown   = errors.New("unknown command")
)

// Command codes accepted on the command channel.
const (
	ResumePH = 1
	ResumeO2 = 2
	Resume   = 3
	PausePH  = 4
	PauseO2  = 5
	Stop     = 6
	RunO2    = 7
	DoseUp   = 8
	DoseDown = 9
)

// Stop modes for code 6.
const (
	StopAll       = 0
	StopAeration  = 1
	StopEmergency = 2
)

type Command struct {
	Code int
	// Seconds for RunO2, preset for the doses, mode for Stop.
	Arg    float64
	HasArg bool
	Raw    string
}

func (c Command) Preset() int { return int(c.Arg) }

func (c Command) String() string { return c.Raw }

// ParseCommand decodes "<code> [arg]". Unknown codes return ErrUnknown and
// bad arguments ErrMalformed; neither must have any effect.
func ParseCommand(s string) (Command, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Fields(raw)
	if len(parts) == 0 || len(parts) > 2 {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	code, err := strconv.Atoi(parts[0])
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	c := Command{Code: code, Raw: raw}
	var arg string
	if len(parts) == 2 {
		arg = parts[1]
		c.HasArg = true
	}

	switch code {
	case ResumePH, ResumeO2, Resume, PausePH, PauseO2:
		return c, nil
	case Stop:
		if !c.HasArg {
			return c, nil
		}
		mode, err := strconv.Atoi(arg)
		if err != nil {
			return Command{}, fmt.Errorf("%w: stop mode %q", ErrMalformed, arg)
		}
		c.Arg = float64(mode)
	case RunO2:
		if !c.HasArg {
			return Command{}, fmt.Errorf("%w: %d needs a duration", ErrMalformed, code)
		}
		// Infinite durations are accepted and clamped by the scheduler.
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || v != v {
			return Command{}, fmt.Errorf("%w: duration %q", ErrMalformed, arg)
		}
		c.Arg = v
	case DoseUp, DoseDown:
		if !c.HasArg {
			return Command{}, fmt.Errorf("%w: %d needs a preset", ErrMalformed, code)
		}
		v, err := strconv.Atoi(arg)
		if err != nil {
			return Command{}, fmt.Errorf("%w: preset %q", ErrMalformed, arg)
		}
		c.Arg = float64(v)
	default:
		return Command{}, fmt.Errorf("%w: %d", ErrUnknown, code)
	}
	return c, nil
}
