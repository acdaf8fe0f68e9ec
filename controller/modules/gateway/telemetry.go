package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/faults"
)

// Fields is the number of comma separated fields in a telemetry record.
const Fields = 21

// Terms are the P, I and D contributions of one controller.
type Terms struct {
	P, I, D float64
}

// Record is one telemetry line.
type Record struct {
	VRef, PH, VWork, DO float64
	Down, Up, O2        float64
	TDown, TUp, TO2     Terms
	Temp                float64
	OnDown, OnUp, OnO2  time.Duration
	Errors              faults.Set
}

// Format renders the record in wire order.
func (r Record) Format() string {
	errs := "0"
	if r.Errors != nil {
		errs = r.Errors.String()
	}
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f,%.2f,%.2f,%.2f,"+
		"%.4f,%.4f,%.4f,%.4f,%.4f,%.4f,%.4f,%.4f,%.4f,"+
		"%.2f,%.3f,%.3f,%.3f,%s",
		r.VRef, r.PH, r.VWork, r.DO, r.Down, r.Up, r.O2,
		r.TDown.P, r.TDown.I, r.TDown.D,
		r.TUp.P, r.TUp.I, r.TUp.D,
		r.TO2.P, r.TO2.I, r.TO2.D,
		r.Temp, r.OnDown.Seconds(), r.OnUp.Seconds(), r.OnO2.Seconds(), errs)
}

// ParseRecord decodes a telemetry line.
func ParseRecord(line string) (Record, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != Fields {
		return Record{}, fmt.Errorf("%w: %d fields, want %d", ErrMalformed, len(parts), Fields)
	}
	v := make([]float64, Fields-1)
	for i := range v {
		f, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, i, err)
		}
		v[i] = f
	}
	errs := faults.ParseSet(parts[Fields-1])
	secs := func(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
	return Record{
		VRef: v[0], PH: v[1], VWork: v[2], DO: v[3],
		Down: v[4], Up: v[5], O2: v[6],
		TDown:  Terms{v[7], v[8], v[9]},
		TUp:    Terms{v[10], v[11], v[12]},
		TO2:    Terms{v[13], v[14], v[15]},
		Temp:   v[16],
		OnDown: secs(v[17]), OnUp: secs(v[18]), OnO2: secs(v[19]),
		Errors: errs,
	}, nil
}

// TaskState is a manual task as broadcast in the state blob.
type TaskState struct {
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	Line    int     `json:"line"`
	Expires float64 `json:"expires"`
}

// State is the structured status broadcast after every cycle.
type State struct {
	PHPaused  bool        `json:"ph_paused"`
	O2Paused  bool        `json:"o2_paused"`
	PHLockout bool        `json:"ph_lockout"`
	LastPHUp  float64     `json:"last_ph_up"`
	LastPHDn  float64     `json:"last_ph_down"`
	Cooldown  float64     `json:"cooldown"`
	Tasks     []TaskState `json:"tasks"`
	Timestamp float64     `json:"timestamp"`
}

// Unix renders t as float seconds, zero for the zero time.
func Unix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
