// Package control runs the stage control loop and the supervisor that
// starts, stops and restarts it.
package control

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"stagectl/pkg/config"
	"stagectl/pkg/log"
)

var logger = log.GetLogger("control")

// ControlState is the lifecycle state published with every snapshot.
type ControlState int

const (
	Stopped ControlState = iota
	Init
	Running
	Error
)

var controlStateNames = [...]string{"Stopped", "Init", "Running", "Error"}

func (s ControlState) String() string {
	if s < 0 || int(s) >= len(controlStateNames) {
		return fmt.Sprintf("ControlState(%d)", int(s))
	}
	return controlStateNames[s]
}

// MarshalText encodes the state by name.
func (s ControlState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *ControlState) UnmarshalText(text []byte) error {
	for i, name := range controlStateNames {
		if name == string(text) {
			*s = ControlState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown control state %q", text)
}

// SharedState is the snapshot published to readers. Index 0 is coax,
// index 1 is cross.
type SharedState struct {
	Target       [2]uint32    `json:"target"`
	Position     [2]uint32    `json:"position"`
	Voltage      [2]float64   `json:"voltage"`
	IsBusy       [2]bool      `json:"is_busy"`
	ControlState ControlState `json:"control_state"`
	Error        *string      `json:"error,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// ErrorText returns the error message or "".
func (s SharedState) ErrorText() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// String renders the snapshot as JSON.
func (s SharedState) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "control_state=" + s.ControlState.String()
	}
	return string(b)
}

// StateChannel holds the published snapshot behind a single-writer,
// multi-reader lock.
type StateChannel struct {
	mu    sync.RWMutex
	state SharedState
}

// Publish replaces the snapshot, waiting for readers to finish.
func (c *StateChannel) Publish(s SharedState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// TryPublish replaces the snapshot unless the lock is held. It reports
// whether the snapshot was written.
func (c *StateChannel) TryPublish(s SharedState) bool {
	if !c.mu.TryLock() {
		return false
	}
	c.state = s
	c.mu.Unlock()
	return true
}

// Snapshot returns a copy of the published state.
func (c *StateChannel) Snapshot() SharedState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ManualTargets is the operator-set target cell read in manual mode.
type ManualTargets struct {
	mu      sync.RWMutex
	targets [2]uint32
}

// Set stores the target of axis.
func (m *ManualTargets) Set(axis int, target uint32) {
	m.mu.Lock()
	m.targets[axis] = target
	m.mu.Unlock()
}

// TryGet returns both targets unless a Set holds the lock.
func (m *ManualTargets) TryGet() ([2]uint32, bool) {
	if !m.mu.TryRLock() {
		return [2]uint32{}, false
	}
	defer m.mu.RUnlock()
	return m.targets, true
}

// ExecState is owned by the goroutine running the control loop. Other
// goroutines only touch Out, Manual, Config and the stop signal.
type ExecState struct {
	Shared SharedState
	Out    *StateChannel
	Manual *ManualTargets
	Config *config.Store

	stop chan struct{}
}

// NewExecState creates the execution state around store.
func NewExecState(store *config.Store) *ExecState {
	return &ExecState{
		Out:    &StateChannel{},
		Manual: &ManualTargets{},
		Config: store,
		stop:   make(chan struct{}, 1),
	}
}

// Stop requests the current run to end. Repeated requests collapse into one.
func (e *ExecState) Stop() {
	select {
	case e.stop <- struct{}{}:
	default:
	}
}

// StopRequested consumes a pending stop request.
func (e *ExecState) StopRequested() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// DrainStop discards stop requests left over from an earlier run.
func (e *ExecState) DrainStop() {
	for e.StopRequested() {
	}
}

// SetState changes the control state and records err as the error text.
// A nil err clears the text.
func (e *ExecState) SetState(state ControlState, err error) {
	e.Shared.ControlState = state
	e.Shared.Error = nil
	if err != nil {
		msg := err.Error()
		e.Shared.Error = &msg
	}
}

// Publish stamps and publishes the local snapshot, blocking for readers.
func (e *ExecState) Publish() {
	e.Shared.Timestamp = time.Now()
	e.Out.Publish(e.Shared)
}

// TryPublish stamps and publishes the local snapshot if the lock is free.
func (e *ExecState) TryPublish() bool {
	e.Shared.Timestamp = time.Now()
	if !e.Out.TryPublish(e.Shared) {
		logger.Debug("snapshot busy, publish skipped")
		return false
	}
	return true
}
