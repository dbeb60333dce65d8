package control

import (
	"context"
	"time"

	"stagectl/pkg/config"
	"stagectl/pkg/errors"
	"stagectl/pkg/metrics"
	"stagectl/pkg/stage"
)

// AdcBackend reads both input voltages.
type AdcBackend interface {
	ReadVoltage() ([2]float64, error)
}

// ErrModeChanged ends a run whose control mode no longer matches the
// configuration. The supervisor reopens the backends for the new mode.
var ErrModeChanged = errors.New(errors.ErrRuntime, "control mode changed")

// ComputeCycle runs one control cycle: read the voltages and positions,
// compute both targets, update exec.Shared and start a move on every axis
// whose target lies within limits and differs from its position. A target
// the controller rejects as out of limits is skipped; any other failure
// is returned.
func ComputeCycle(exec *ExecState, axes stage.AxisBackend, adcs AdcBackend, conv Conversion, limits [2]config.Limit, m *metrics.StageMetrics) error {
	voltage, err := adcs.ReadVoltage()
	if err != nil {
		return err
	}
	busy, pos, err := axes.GetPos()
	if err != nil {
		return err
	}

	var targets [2]uint32
	for axis := range targets {
		if targets[axis], err = conv.Target(axis, voltage); err != nil {
			return err
		}
	}

	exec.Shared.Voltage = voltage
	exec.Shared.IsBusy = busy
	exec.Shared.Position = pos
	exec.Shared.Target = targets
	m.SetVoltages(voltage)
	m.SetAxes(pos, targets)

	for axis, target := range targets {
		if !limits[axis].Contains(target) {
			logger.Debug("%s target %d outside [%d, %d], skipped",
				stage.AxisName(axis), target, limits[axis].Min, limits[axis].Max)
			m.RecordLimitRejection(axis)
			continue
		}
		if target == pos[axis] {
			continue
		}
		if err := axes.MoveAxis(axis, target); err != nil {
			if errors.Is(err, errors.ErrLimitRejected) {
				logger.Debug("%s move to %d rejected: %v", stage.AxisName(axis), target, err)
				m.RecordLimitRejection(axis)
				continue
			}
			return err
		}
		m.RecordMove(axis)
	}
	return nil
}

// RunControlLoop repeats ComputeCycle every cycle period until a stop is
// requested, the control mode changes or a cycle fails. cfg is the
// configuration the backends and conv were built from; its limits, cycle
// period and mode hold for the whole run. On stop the final snapshot is
// published as Stopped and nil is returned.
func RunControlLoop(ctx context.Context, exec *ExecState, cfg config.Config, axes stage.AxisBackend, adcs AdcBackend, conv Conversion, m *metrics.StageMetrics) error {
	limits := cfg.Limits()
	cycle := cfg.CycleTime()

	exec.SetState(Running, nil)
	m.SetControlState(Running.String())
	exec.Publish()
	logger.Info("control loop running in %s mode, cycle %v", cfg.ControlMode, cycle)

	for {
		start := time.Now()
		if err := ComputeCycle(exec, axes, adcs, conv, limits, m); err != nil {
			return err
		}
		m.ObserveCycle(time.Since(start))
		exec.TryPublish()

		timer := time.NewTimer(cycle)
		select {
		case <-ctx.Done():
			timer.Stop()
			exec.SetState(Stopped, nil)
			m.SetControlState(Stopped.String())
			exec.Publish()
			return ctx.Err()
		case <-timer.C:
		}

		if exec.StopRequested() {
			logger.Info("control loop stopped")
			exec.SetState(Stopped, nil)
			m.SetControlState(Stopped.String())
			exec.Publish()
			return nil
		}
		if mode := exec.Config.Mode(); mode != cfg.ControlMode {
			logger.Info("control mode changed from %s to %s", cfg.ControlMode, mode)
			return ErrModeChanged
		}
	}
}
