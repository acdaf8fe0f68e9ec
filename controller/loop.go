package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/acquisition"
	"github.com/pond-pi/pond-pi/controller/modules/actuator"
	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/pond-pi/pond-pi/controller/modules/gateway"
	"github.com/pond-pi/pond-pi/controller/modules/manual"
	"github.com/pond-pi/pond-pi/controller/modules/pid"
	"github.com/pond-pi/pond-pi/controller/modules/safety"
)

// Dialer opens the sensor link.
type Dialer func() (acquisition.Link, error)

type publisher interface {
	Telemetry(gateway.Record) error
	State(gateway.State) error
}

// storeIface is the part of Store the loop and the API need.
type storeIface interface {
	CreateBucket(bucket string) error
	Get(bucket, id string, v interface{}) error
	List(bucket string, fn func(string, []byte) error) error
	Create(bucket string, fn func(string) interface{}) error
	Update(bucket, id string, v interface{}) error
	Delete(bucket, id string) error
}

// Event is a journal entry kept for the operator.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Loop runs the control cycle. Everything it holds is owned by the goroutine
// calling Step; other goroutines talk to it through the intake and read the
// published snapshot.
type Loop struct {
	cfg Config
	log *slog.Logger

	dial     Dialer
	link     acquisition.Link
	nextDial time.Time

	acc       *acquisition.Accumulator
	comp      *acquisition.Compensator
	temp      *acquisition.TempCache
	detector  *faults.Detector
	incidents *faults.Incidents
	interlock *safety.Interlock
	pids      *pid.Dual
	sched     *manual.Scheduler
	driver    *actuator.Driver
	pub       publisher
	intake    *gateway.Intake
	store     storeIface
	metrics   *metrics
	snaps     *snapshots

	state ControlState

	beat     func(time.Time)
	activity func(string)
}

func newLoop(cfg Config, log *slog.Logger, dial Dialer, th acquisition.Thermometer, driver *actuator.Driver,
	store storeIface, pub publisher, intake *gateway.Intake, now time.Time) (*Loop, error) {
	if err := store.CreateBucket(Bucket); err != nil {
		return nil, err
	}
	sched, err := manual.New(cfg.Manual, driver, store, log.With("module", "manual"))
	if err != nil {
		return nil, fmt.Errorf("manual scheduler: %w", err)
	}
	return &Loop{
		cfg:       cfg,
		log:       log,
		dial:      dial,
		acc:       acquisition.NewAccumulator(cfg.Sampling.Samples),
		comp:      acquisition.NewCompensator(cfg.Calibration),
		temp:      acquisition.NewTempCache(th, cfg.Temperature.Interval, cfg.Temperature.Fallback),
		detector:  faults.NewDetector(cfg.Detector),
		incidents: faults.NewIncidents(),
		interlock: safety.New(cfg.Safety),
		pids:      pid.NewDual(cfg.PID, now),
		sched:     sched,
		driver:    driver,
		pub:       pub,
		intake:    intake,
		store:     store,
		metrics:   newMetrics(),
		snaps:     &snapshots{},
		state:     ControlState{Raw: faults.NewSet(faults.None), Filtered: faults.NewSet(faults.None)},
		beat:      func(time.Time) {},
		activity:  func(string) {},
	}, nil
}

// Run steps the loop on every tick until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Sampling.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := l.Step(now); err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(l.cfg.ErrorPause):
				}
			}
		}
	}
}

// Step runs one iteration. It returns an error only when the iteration was
// abandoned; the failure is already reported as a supervisory fault.
func (l *Loop) Step(now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle aborted: %v", r)
			l.incidents.Raise(faults.Supervisory)
			l.metrics.failure(faults.Supervisory)
			l.log.Error("control cycle failed", "error", err)
		}
	}()

	l.applyCommands(now)

	if l.link == nil {
		if now.Before(l.nextDial) {
			return nil
		}
		link, err := l.dial()
		if err != nil {
			l.nextDial = now.Add(l.cfg.ReconnectBackoff)
			l.linkFailure(faults.LinkOpen, err, now)
			return nil
		}
		l.link = link
		l.acc.Reset()
		l.incidents.Clear()
		l.state.Connected = true
		l.log.Info("sensor link connected")
		l.activity("sensor link connected")
	}

	frame, ok, err := l.link.Poll()
	if errors.Is(err, acquisition.ErrDecode) {
		l.fail(faults.LinkDecode, err)
		return nil
	}
	if err != nil {
		l.dropLink()
		l.nextDial = now.Add(l.cfg.ReconnectBackoff)
		l.linkFailure(faults.LinkRead, err, now)
		return nil
	}
	if !ok {
		return nil
	}
	avg, ready := l.acc.Add(frame)
	if !ready {
		return nil
	}
	l.cycle(avg, now)
	return nil
}

func (l *Loop) cycle(avg [acquisition.Channels]float64, now time.Time) {
	s := l.comp.Compensate(avg, l.temp.Get(now))
	l.state.Sample = s

	if trip := l.interlock.Observe(s.PH, now); trip != nil {
		l.state.PausePH = true
		msg := fmt.Sprintf("pH drift %.3f over %s exceeds %.2f, pH control locked", trip.Drift, trip.Window, trip.Limit)
		l.log.Warn("safety interlock tripped", "window", trip.Window, "drift", trip.Drift, "limit", trip.Limit)
		l.event("interlock", msg, now)
	}

	raw := l.detector.Check(s.PH, s.DO, s.Temp).Union(l.incidents.Take())
	if l.temp.Failed() {
		raw.Add(faults.TempProbe)
	}
	if len(raw) > 1 {
		raw.Remove(faults.None)
	}
	filtered := faults.Prioritize(raw)
	l.gate(filtered, now)
	l.state.Raw = raw
	l.state.Filtered = filtered
	l.state.Current = faults.Current(filtered)

	l.state.Outputs = l.pids.Update(s.PH, s.DO, l.state.PausePH, l.state.PauseO2, now)

	if err := l.sched.Process(now); err != nil {
		l.fail(faults.GPIO, err)
	}
	on, err := l.driver.Drive(l.state.Outputs, l.sched.Owns, now)
	if err != nil {
		l.fail(faults.CodeOf(err), err)
	}
	l.state.OnTimes = on

	l.publish(now)
	l.log.Debug("cycle",
		"ph", s.PH, "do", s.DO, "temp", s.Temp,
		"down", l.state.Outputs.Down, "up", l.state.Outputs.Up, "o2", l.state.Outputs.O2,
		"errors", filtered.String())
	l.finish(now)
}

// gate suspends the loops whose sensors are in fault. A pause set here is
// only cleared by a resume command. Lines owned by a manual task are left to
// the task.
func (l *Loop) gate(filtered faults.Set, now time.Time) {
	ph := filtered.Intersects(faults.PHCodes)
	o2 := filtered.Intersects(faults.O2Codes)
	if filtered.Intersects(faults.TempCodes) {
		ph, o2 = true, true
	}
	if ph {
		l.pids.ManualPH(now)
		l.state.PausePH = true
		for _, r := range []actuator.Role{actuator.PHUp, actuator.PHDown} {
			if !l.sched.Owns(r) {
				l.set(r, false)
			}
		}
		if err := l.driver.ResetPulser(); err != nil {
			l.fail(faults.GPIO, err)
		}
	}
	if o2 {
		l.pids.ManualO2(now)
		l.state.PauseO2 = true
		if !l.sched.Owns(actuator.O2) {
			l.set(actuator.O2, false)
		}
	}
}

func (l *Loop) set(r actuator.Role, on bool) {
	if err := l.driver.Set(r, on); err != nil {
		l.fail(faults.GPIO, err)
	}
}

// fail reports a stage failure in the next cycle's fault set.
func (l *Loop) fail(c faults.Code, err error) {
	l.incidents.Raise(c)
	l.metrics.failure(c)
	l.log.Warn("stage failure", "code", int(c), "error", err)
}

func (l *Loop) dropLink() {
	if l.link == nil {
		return
	}
	if err := l.link.Close(); err != nil {
		l.log.Warn("close sensor link", "error", err)
	}
	l.link = nil
}

// linkFailure puts every output in its safe state and broadcasts a zeroed
// record carrying the link fault.
func (l *Loop) linkFailure(c faults.Code, err error, now time.Time) {
	l.log.Error("sensor link failure", "code", int(c), "error", err)
	l.metrics.failure(c)
	if l.state.Connected {
		l.activity(fmt.Sprintf("sensor link lost: %v", err))
	}
	l.state.Connected = false

	l.pids.ManualPH(now)
	l.pids.ManualO2(now)
	if err := l.driver.Safe(); err != nil {
		l.log.Error("force outputs safe", "error", err)
	}
	if err := l.driver.ResetPulser(); err != nil {
		l.log.Error("reset pulser", "error", err)
	}

	raw := faults.NewSet(c)
	l.state.Sample = acquisition.Sample{Temp: l.cfg.Temperature.Fallback}
	l.state.Outputs = pid.Outputs{}
	l.state.OnTimes = actuator.OnTimes{}
	l.state.Raw = raw
	l.state.Filtered = faults.Prioritize(raw)
	l.state.Current = faults.Current(l.state.Filtered)

	l.publish(now)
	l.finish(now)
}

func terms(c *pid.Controller) gateway.Terms {
	p, i, d := c.Components()
	return gateway.Terms{P: p, I: i, D: d}
}

func (l *Loop) record() gateway.Record {
	s := l.state.Sample
	return gateway.Record{
		VRef: s.VRef, PH: s.PH, VWork: s.VWork, DO: s.DO,
		Down: l.state.Outputs.Down, Up: l.state.Outputs.Up, O2: l.state.Outputs.O2,
		TDown:  terms(l.pids.Down),
		TUp:    terms(l.pids.Up),
		TO2:    terms(l.pids.O2),
		Temp:   s.Temp,
		OnDown: l.state.OnTimes.Down, OnUp: l.state.OnTimes.Up, OnO2: l.state.OnTimes.O2,
		Errors: l.state.Filtered,
	}
}

func (l *Loop) stateBlob(now time.Time) gateway.State {
	ledger := l.sched.Ledger()
	st := gateway.State{
		PHPaused:  l.state.PausePH,
		O2Paused:  l.state.PauseO2,
		PHLockout: l.interlock.Locked(),
		LastPHUp:  gateway.Unix(ledger.LastUp),
		LastPHDn:  gateway.Unix(ledger.LastDown),
		Cooldown:  l.cfg.Manual.Cooldown.Seconds(),
		Tasks:     []gateway.TaskState{},
		Timestamp: gateway.Unix(now),
	}
	for _, t := range l.sched.Tasks() {
		st.Tasks = append(st.Tasks, gateway.TaskState{
			ID:      t.ID,
			Kind:    string(t.Kind),
			Line:    l.driver.Number(t.Line),
			Expires: gateway.Unix(t.Expires),
		})
	}
	return st
}

func (l *Loop) publish(now time.Time) {
	if err := l.pub.Telemetry(l.record()); err != nil {
		l.fail(faults.CodeOf(err), err)
	}
	if err := l.pub.State(l.stateBlob(now)); err != nil {
		l.fail(faults.CodeOf(err), err)
	}
}

// finish publishes the snapshot and signals liveness.
func (l *Loop) finish(now time.Time) {
	l.metrics.observe(&l.state)
	l.metrics.cycles.Inc()
	l.metrics.heartbeat.Set(float64(now.Unix()))
	l.snaps.set(l.snapshot(now))
	l.beat(now)
}

func (l *Loop) snapshot(now time.Time) Snapshot {
	errs := l.state.Filtered.Without(faults.NewSet(faults.None)).Sorted()
	s := l.state.Sample
	return Snapshot{
		Time:      now,
		Connected: l.state.Connected,
		Sample: acquisition.Sample{
			VRef:  finite(s.VRef),
			VWork: finite(s.VWork),
			PH:    finite(s.PH),
			DO:    finite(s.DO),
			Temp:  finite(s.Temp),
		},
		Outputs:   l.state.Outputs,
		OnTimes: OnTimes{
			Down: l.state.OnTimes.Down.Seconds(),
			Up:   l.state.OnTimes.Up.Seconds(),
			O2:   l.state.OnTimes.O2.Seconds(),
		},
		Errors:  errs,
		Current: l.state.Current,
		State:   l.stateBlob(now),
	}
}

func (l *Loop) event(kind, msg string, now time.Time) {
	l.activity(msg)
	fn := func(id string) interface{} {
		return &Event{ID: id, Time: now, Kind: kind, Message: msg}
	}
	if err := l.store.Create(Bucket, fn); err != nil {
		l.log.Error("journal event", "kind", kind, "error", err)
	}
}

// Close releases the sensor link. Call it once Run has returned.
func (l *Loop) Close() {
	l.dropLink()
}

// finite guards values headed for JSON, which has no NaN.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
