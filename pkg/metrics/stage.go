// Stage controller metrics definitions
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import "time"

// ControlStates lists the values SetControlState reports, one series each.
var ControlStates = []string{"Stopped", "Init", "Running", "Error"}

var axisNames = [2]string{"coax", "cross"}

// StageMetrics holds the controller metrics. A nil *StageMetrics accepts
// every call and records nothing.
type StageMetrics struct {
	registry *Registry

	CycleDuration   *Histogram
	Cycles          *Counter
	Moves           *Counter
	LimitRejections *Counter
	Errors          *Counter
	Restarts        *Counter
	ConfigChanges   *Counter
	Position        *Gauge
	Target          *Gauge
	Voltage         *Gauge
	ControlState    *Gauge
}

// NewStageMetrics creates and registers the controller metrics.
func NewStageMetrics() *StageMetrics {
	m := &StageMetrics{
		registry:        NewRegistry(),
		CycleDuration:   NewHistogram("stage_cycle_duration_seconds", "Time spent computing one control cycle", DefaultBuckets()),
		Cycles:          NewCounter("stage_cycles_total", "Completed control cycles"),
		Moves:           NewCounter("stage_moves_total", "Move commands issued per axis"),
		LimitRejections: NewCounter("stage_limit_rejections_total", "Targets skipped or rejected for lying outside the axis limits"),
		Errors:          NewCounter("stage_errors_total", "Control runs ended by an error, by error code"),
		Restarts:        NewCounter("stage_restarts_total", "Control runs started by the supervisor"),
		ConfigChanges:   NewCounter("stage_config_changes_total", "Configuration keys changed at runtime, by key"),
		Position:        NewGauge("stage_position_steps", "Last reported axis position in microsteps"),
		Target:          NewGauge("stage_target_steps", "Last computed axis target in microsteps"),
		Voltage:         NewGauge("stage_voltage_volts", "Last measured input voltage"),
		ControlState:    NewGauge("stage_control_state", "1 for the current control state, 0 otherwise"),
	}
	m.registry.MustRegister(
		m.CycleDuration, m.Cycles, m.Moves, m.LimitRejections, m.Errors,
		m.Restarts, m.ConfigChanges, m.Position, m.Target, m.Voltage, m.ControlState,
	)
	return m
}

// Registry returns the registry holding the controller metrics.
func (m *StageMetrics) Registry() *Registry {
	if m == nil {
		return NewRegistry()
	}
	return m.registry
}

// Gather renders all metrics in Prometheus text format.
func (m *StageMetrics) Gather() string {
	return m.Registry().Gather()
}

// ObserveCycle records one completed cycle.
func (m *StageMetrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.ObserveDuration(nil, d)
	m.Cycles.Inc(nil)
}

// RecordMove counts a move command on axis.
func (m *StageMetrics) RecordMove(axis int) {
	if m == nil {
		return
	}
	m.Moves.Inc(Labels{"axis": axisNames[axis]})
}

// RecordLimitRejection counts a target outside the limits of axis.
func (m *StageMetrics) RecordLimitRejection(axis int) {
	if m == nil {
		return
	}
	m.LimitRejections.Inc(Labels{"axis": axisNames[axis]})
}

// RecordError counts a failed run by error code.
func (m *StageMetrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.Errors.Inc(Labels{"code": code})
}

// RecordRestart counts a run start.
func (m *StageMetrics) RecordRestart() {
	if m == nil {
		return
	}
	m.Restarts.Inc(nil)
}

// RecordConfigChange counts one changed configuration key.
func (m *StageMetrics) RecordConfigChange(key string) {
	if m == nil {
		return
	}
	m.ConfigChanges.Inc(Labels{"key": key})
}

// SetAxes records positions and targets of both axes.
func (m *StageMetrics) SetAxes(position, target [2]uint32) {
	if m == nil {
		return
	}
	for i, name := range axisNames {
		m.Position.Set(Labels{"axis": name}, float64(position[i]))
		m.Target.Set(Labels{"axis": name}, float64(target[i]))
	}
}

// SetVoltages records both input voltages.
func (m *StageMetrics) SetVoltages(v [2]float64) {
	if m == nil {
		return
	}
	m.Voltage.Set(Labels{"channel": "1"}, v[0])
	m.Voltage.Set(Labels{"channel": "2"}, v[1])
}

// SetControlState marks state as current.
func (m *StageMetrics) SetControlState(state string) {
	if m == nil {
		return
	}
	for _, s := range ControlStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ControlState.Set(Labels{"state": s}, v)
	}
}

// CurrentControlState returns the state whose series is 1, or "".
func (m *StageMetrics) CurrentControlState() string {
	if m == nil {
		return ""
	}
	for _, s := range ControlStates {
		if m.ControlState.Get(Labels{"state": s}) == 1 {
			return s
		}
	}
	return ""
}
