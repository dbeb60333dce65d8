// Package stage drives the two-axis stage: the coax pair on device 1,
// moved in lockstep, and the cross axis on device 2.
package stage

import (
	"context"

	"stagectl/pkg/config"
)

// Axis indices.
const (
	Coax  = config.AxisCoax
	Cross = config.AxisCross
)

// AxisBackend reads and moves the two stage axes.
type AxisBackend interface {
	// GetPos returns the busy flag and position of coax and cross.
	GetPos() (busy [2]bool, pos [2]uint32, err error)
	// MoveAxis starts an absolute move. A target outside the controller's
	// limits yields an errors.ErrLimitRejected error.
	MoveAxis(axis int, target uint32) error
}

// Device is an initialisable AxisBackend that owns its transport.
type Device interface {
	AxisBackend
	Init(ctx context.Context, cfg config.Config) error
	Halt() error
	Close() error
}

// AxisName returns "coax" or "cross".
func AxisName(axis int) string {
	switch axis {
	case Coax:
		return "coax"
	case Cross:
		return "cross"
	}
	return "unknown"
}
