package controller

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/actuator"
	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/pond-pi/pond-pi/controller/modules/gateway"
	"github.com/pond-pi/pond-pi/controller/modules/manual"
)

// applyCommands drains the intake. Commands take effect in arrival order
// before anything else in the cycle.
func (l *Loop) applyCommands(now time.Time) {
	for _, raw := range l.intake.Drain() {
		l.apply(raw, now)
	}
}

func (l *Loop) apply(raw string, now time.Time) {
	cmd, err := gateway.ParseCommand(raw)
	if err != nil {
		label := "invalid"
		if errors.Is(err, gateway.ErrUnknown) {
			label = "unknown"
		}
		l.metrics.command(label, "rejected")
		l.log.Warn("command ignored", "command", raw, "error", err)
		l.activity(fmt.Sprintf("command %q ignored: %v", raw, err))
		return
	}
	code := strconv.Itoa(cmd.Code)
	if err := l.execute(cmd, now); err != nil {
		l.metrics.command(code, "rejected")
		l.log.Warn("command rejected", "command", cmd.Raw, "error", err)
		l.activity(fmt.Sprintf("command %q rejected: %v", cmd.Raw, err))
		return
	}
	l.metrics.command(code, "applied")
	l.log.Info("command applied", "command", cmd.Raw)
	l.activity(fmt.Sprintf("command %q applied", cmd.Raw))
}

func (l *Loop) execute(cmd gateway.Command, now time.Time) error {
	switch cmd.Code {
	case gateway.ResumePH:
		l.state.PausePH = false
	case gateway.ResumeO2:
		l.state.PauseO2 = false
	case gateway.Resume:
		l.state.PausePH = false
		l.state.PauseO2 = false
	case gateway.PausePH:
		l.pids.ManualPH(now)
		l.state.PausePH = true
	case gateway.PauseO2:
		l.pids.ManualO2(now)
		l.state.PauseO2 = true
	case gateway.Stop:
		if cmd.HasArg && cmd.Preset() == gateway.StopAeration {
			l.sched.Cancel(actuator.O2)
			l.set(actuator.O2, false)
			return nil
		}
		l.stopAll(now)
	case gateway.RunO2:
		if _, err := l.sched.RunO2(cmd.Arg, now); err != nil {
			return err
		}
		l.pids.ManualO2(now)
		l.state.PauseO2 = true
	case gateway.DoseUp, gateway.DoseDown:
		kind := manual.DoseUp
		if cmd.Code == gateway.DoseDown {
			kind = manual.DoseDn
		}
		if _, err := l.sched.Dose(kind, cmd.Preset(), l.interlock.Locked(), now); err != nil {
			return err
		}
		l.pids.ManualPH(now)
		l.state.PausePH = true
	default:
		return fmt.Errorf("%w: %d", gateway.ErrUnknown, cmd.Code)
	}
	return nil
}

// stopAll is the total and emergency stop: every relay low, the pulser
// idle, manual tasks dropped and both loops paused.
func (l *Loop) stopAll(now time.Time) {
	for _, r := range actuator.Relays {
		l.set(r, false)
	}
	if err := l.driver.ResetPulser(); err != nil {
		l.fail(faults.GPIO, err)
	}
	l.sched.Clear()
	l.pids.ManualPH(now)
	l.pids.ManualO2(now)
	l.state.PausePH = true
	l.state.PauseO2 = true
}
