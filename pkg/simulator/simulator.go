// Motion controller simulator
//
// Emulates two daisy-chained controllers speaking the ASCII protocol:
// device 1 drives the coax motors (axes 1 and 2, lockstep capable),
// device 2 drives the cross motor (axis 1). Motion is integrated from the
// wall clock before each command is interpreted.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package simulator

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"stagectl/pkg/ascii"
	"stagectl/pkg/errors"
	"stagectl/pkg/log"
	"stagectl/pkg/serial"
	"stagectl/pkg/units"
)

var logger = log.GetLogger("simulator")

// DefaultVelocity is the factory velocity limit in steps per second.
const DefaultVelocity = 23000.0

const (
	numDevices = 2
	maxAxes    = 2
)

// axisCount returns the number of motors behind a device address.
func axisCount(device int) int {
	switch device {
	case 1:
		return 2
	case 2:
		return 1
	}
	return 0
}

type cell struct {
	pos      float64
	target   uint32
	velocity float64
	limitMin uint32
	limitMax uint32
}

func (c *cell) position() uint32 { return uint32(c.pos) }
func (c *cell) busy() bool       { return float64(c.target) != c.pos }

func defaultCell() cell {
	return cell{velocity: DefaultVelocity, limitMax: units.MaxPos}
}

// Simulator is an in-memory motion controller. It implements
// io.ReadWriter: Write submits command lines, Read drains replies.
type Simulator struct {
	mu sync.Mutex

	cells [numDevices + 1][maxAxes + 1]cell

	// offset is axis 2 minus axis 1 of device 1, set by lockstep setup.
	offset *int64

	now  func() time.Time
	last time.Time

	buf         bytes.Buffer
	readTimeout time.Duration
}

// New creates a simulator in factory state using the wall clock.
func New() *Simulator {
	return NewWithClock(time.Now)
}

// NewWithClock creates a simulator integrating motion against now.
func NewWithClock(now func() time.Time) *Simulator {
	s := &Simulator{now: now}
	s.reset()
	return s
}

func (s *Simulator) reset() {
	for d := 1; d <= numDevices; d++ {
		for a := 1; a <= maxAxes; a++ {
			s.cells[d][a] = defaultCell()
		}
	}
	s.offset = nil
	s.last = s.now()
}

// Read drains reply bytes. An empty buffer yields serial.ErrTimeout,
// the same error a real port reports when the controller stays silent.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		return 0, serial.ErrTimeout
	}
	return s.buf.Read(p)
}

// Write clears unread replies, integrates motion up to now and executes
// every newline-terminated command in p.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.run(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// exchange runs the commands in p and takes every reply byte they produced.
func (s *Simulator) exchange(p []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.run(p); err != nil {
		return nil, err
	}
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	s.buf.Reset()
	return out, nil
}

// run must be called with mu held.
func (s *Simulator) run(p []byte) error {
	s.buf.Reset()
	s.integrate()

	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if err := s.execute(line); err != nil {
			return err
		}
	}
	return nil
}

// SetReadTimeout is accepted for interface parity with serial ports;
// reads never block.
func (s *Simulator) SetReadTimeout(d time.Duration) {
	s.mu.Lock()
	s.readTimeout = d
	s.mu.Unlock()
}

// Flush drops unread reply bytes.
func (s *Simulator) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	return nil
}

// Step advances simulated motion by dt without consulting the clock.
func (s *Simulator) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step(dt)
	s.last = s.last.Add(dt)
}

func (s *Simulator) integrate() {
	now := s.now()
	if dt := now.Sub(s.last); dt > 0 {
		s.step(dt)
	}
	s.last = now
}

func (s *Simulator) step(dt time.Duration) {
	for d := 1; d <= numDevices; d++ {
		for a := 1; a <= axisCount(d); a++ {
			c := &s.cells[d][a]
			c.pos = moveExact(c.pos, c.target, c.velocity, dt)
		}
	}
}

// SetPosition places a motor at pos with no motion pending.
func (s *Simulator) SetPosition(device, axis int, pos uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &s.cells[device][axis]
	c.pos = float64(pos)
	c.target = pos
}

// SetTarget commands a motor without limit checks.
func (s *Simulator) SetTarget(device, axis int, target uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[device][axis].target = target
}

// EnableLockstep records the current coax offset as lockstep setup does.
func (s *Simulator) EnableLockstep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enableLockstep()
}

// AxisState is a read-only view of one motor.
type AxisState struct {
	Position uint32
	Target   uint32
	Velocity float64
	Busy     bool
	LimitMin uint32
	LimitMax uint32
}

// Axis returns the state of one motor.
func (s *Simulator) Axis(device, axis int) AxisState {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cells[device][axis]
	return AxisState{
		Position: c.position(),
		Target:   c.target,
		Velocity: c.velocity,
		Busy:     c.busy(),
		LimitMin: c.limitMin,
		LimitMax: c.limitMax,
	}
}

// LockstepOffset returns the recorded offset, if lockstep is enabled.
func (s *Simulator) LockstepOffset() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offset == nil {
		return 0, false
	}
	return *s.offset, true
}

func (s *Simulator) enableLockstep() {
	off := int64(s.cells[1][2].position()) - int64(s.cells[1][1].position())
	s.offset = &off
}

func (s *Simulator) deviceBusy(device int) bool {
	for a := 1; a <= axisCount(device); a++ {
		if s.cells[device][a].busy() {
			return true
		}
	}
	return false
}

func (s *Simulator) status(device, axis int) ascii.Status {
	busy := false
	if axis == 0 {
		busy = s.deviceBusy(device)
	} else {
		busy = s.cells[device][axis].busy()
	}
	if busy {
		return ascii.StatusBusy
	}
	return ascii.StatusIdle
}

func (s *Simulator) reply(device, axis int, data string) {
	r := ascii.Reply{
		Device:  device,
		Axis:    axis,
		Flag:    ascii.FlagOK,
		Status:  s.status(device, axis),
		Warning: ascii.NoWarning,
		Data:    data,
	}
	s.buf.Write(r.Encode())
}

func (s *Simulator) reject(device, axis int, status ascii.Status, reason string) {
	r := ascii.Reply{
		Device:  device,
		Axis:    axis,
		Flag:    ascii.FlagRJ,
		Status:  status,
		Warning: "WR",
		Data:    reason,
	}
	s.buf.Write(r.Encode())
}

// checkReady enforces the lockstep readiness gate for whole-device
// position queries and moves on device 1.
func (s *Simulator) checkReady(device, axis int, op string) error {
	if (device == 1 || device == 0) && axis == 0 && s.offset == nil {
		logger.Warn("%s on device 1 before lockstep setup", op)
		return errors.NotReady(1, op)
	}
	return nil
}
