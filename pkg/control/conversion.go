package control

import (
	"stagectl/pkg/config"
	"stagectl/pkg/errors"
	"stagectl/pkg/formula"
	"stagectl/pkg/units"
)

// Conversion turns the measured voltages into an axis target in microsteps.
type Conversion interface {
	Target(axis int, v [2]float64) (uint32, error)
}

// Manual returns the operator-set targets. The cell is read once per cycle,
// on the coax axis, so both axes see the same write. When the cell is busy
// the last value read is used and the write shows up on a later cycle.
type Manual struct {
	cell *ManualTargets
	last [2]uint32
}

// NewManual reads targets from cell.
func NewManual(cell *ManualTargets) *Manual {
	return &Manual{cell: cell}
}

func (m *Manual) Target(axis int, _ [2]float64) (uint32, error) {
	if axis == 0 {
		if targets, ok := m.cell.TryGet(); ok {
			m.last = targets
		}
	}
	return m.last[axis], nil
}

// Tracking evaluates one formula per axis over v1 and v2. The result is in
// millimeters.
type Tracking struct {
	exprs [2]*formula.Expression
}

var axisOptions = [2]string{"formula_coax", "formula_cross"}

// NewTracking compiles the coax and cross formulas.
func NewTracking(sources [2]string) (*Tracking, error) {
	t := &Tracking{}
	for i, src := range sources {
		e, err := formula.Compile(src)
		if err != nil {
			return nil, errors.FormulaError(axisOptions[i], err)
		}
		t.exprs[i] = e
	}
	return t, nil
}

func (t *Tracking) Target(axis int, v [2]float64) (uint32, error) {
	mm, err := t.exprs[axis].Eval(v[0], v[1])
	if err != nil {
		return 0, errors.FormulaError(axisOptions[axis], err)
	}
	return units.MMToSteps(mm), nil
}

// NewConversion builds the conversion for the mode in cfg.
func NewConversion(cfg config.Config, manual *ManualTargets) (Conversion, error) {
	switch cfg.ControlMode {
	case config.ModeManual:
		return NewManual(manual), nil
	case config.ModeTracking:
		return NewTracking(cfg.Formulas())
	}
	return nil, errors.ConfigValidationError("control_mode", "unknown mode "+string(cfg.ControlMode))
}
