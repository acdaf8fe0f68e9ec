package controller

import (
	"sync"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/acquisition"
	"github.com/pond-pi/pond-pi/controller/modules/actuator"
	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/pond-pi/pond-pi/controller/modules/gateway"
	"github.com/pond-pi/pond-pi/controller/modules/pid"
)

// ControlState is the mutable state of one control cycle. Only the loop
// goroutine touches it.
type ControlState struct {
	PausePH bool
	PauseO2 bool

	Connected bool
	Sample    acquisition.Sample
	Raw       faults.Set
	Filtered  faults.Set
	Current   faults.Code
	Outputs   pid.Outputs
	OnTimes   actuator.OnTimes
}

// Snapshot is the copy of the last cycle served to readers outside the
// loop.
type Snapshot struct {
	Time      time.Time          `json:"time"`
	Connected bool               `json:"connected"`
	Sample    acquisition.Sample `json:"sample"`
	Outputs   pid.Outputs        `json:"outputs"`
	OnTimes   OnTimes            `json:"on_times"`
	Errors    []faults.Code      `json:"errors"`
	Current   faults.Code        `json:"current"`
	State     gateway.State      `json:"state"`
}

// OnTimes in seconds.
type OnTimes struct {
	Down float64 `json:"ph_down"`
	Up   float64 `json:"ph_up"`
	O2   float64 `json:"o2"`
}

type snapshots struct {
	mu   sync.RWMutex
	last Snapshot
}

func (s *snapshots) set(v Snapshot) {
	s.mu.Lock()
	s.last = v
	s.mu.Unlock()
}

func (s *snapshots) get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
