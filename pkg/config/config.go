// Package config holds the stage controller settings, their defaults,
// validation, file persistence and the shared Store the runtime reads.
package config

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"stagectl/pkg/errors"
	"stagectl/pkg/formula"
	"stagectl/pkg/log"
	"stagectl/pkg/units"
)

var logger = log.GetLogger("config")

// Mode selects how targets are produced.
type Mode string

const (
	// ModeManual moves to operator-set targets.
	ModeManual Mode = "Manual"
	// ModeTracking evaluates the formulas over the measured voltages.
	ModeTracking Mode = "Tracking"
)

// ParseMode accepts a mode name regardless of case.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "Manual", "manual", "MANUAL":
		return ModeManual, nil
	case "Tracking", "tracking", "TRACKING":
		return ModeTracking, nil
	}
	return "", fmt.Errorf("unknown control mode %q (valid: Manual, Tracking)", s)
}

// Axis indices used by Limits and the control loop.
const (
	AxisCoax  = 0
	AxisCross = 1
)

// Limit is an inclusive travel window in microsteps.
type Limit struct {
	Min uint32
	Max uint32
}

// Contains reports whether min <= target <= max.
func (l Limit) Contains(target uint32) bool {
	return target >= l.Min && target <= l.Max
}

// Config is the full controller configuration. The same keys are used in
// TOML and YAML files.
type Config struct {
	CycleTimeMS    int `toml:"cycle_time_ms" yaml:"cycle_time_ms"`
	ErrorTimeoutMS int `toml:"error_timeout_ms" yaml:"error_timeout_ms"`

	SerialDevice        string `toml:"serial_device" yaml:"serial_device"`
	SerialBaud          int    `toml:"serial_baud" yaml:"serial_baud"`
	SerialReadTimeoutMS int    `toml:"serial_read_timeout_ms" yaml:"serial_read_timeout_ms"`
	SerialUSBSerial     string `toml:"serial_usb_serial" yaml:"serial_usb_serial"`

	ControlMode Mode `toml:"control_mode" yaml:"control_mode"`

	LimitMinCoax  uint32 `toml:"limit_min_coax" yaml:"limit_min_coax"`
	LimitMaxCoax  uint32 `toml:"limit_max_coax" yaml:"limit_max_coax"`
	LimitMinCross uint32 `toml:"limit_min_cross" yaml:"limit_min_cross"`
	LimitMaxCross uint32 `toml:"limit_max_cross" yaml:"limit_max_cross"`

	MaxspeedCoax  uint32 `toml:"maxspeed_coax" yaml:"maxspeed_coax"`
	MaxspeedCross uint32 `toml:"maxspeed_cross" yaml:"maxspeed_cross"`
	AccelCoax     uint32 `toml:"accel_coax" yaml:"accel_coax"`
	AccelCross    uint32 `toml:"accel_cross" yaml:"accel_cross"`

	// OffsetCoax is the mounting offset between the two coax motors in
	// microsteps; positive moves axis 1, negative moves axis 2.
	OffsetCoax int64 `toml:"offset_coax" yaml:"offset_coax"`

	MockZaber bool `toml:"mock_zaber" yaml:"mock_zaber"`
	MockADC   bool `toml:"mock_adc" yaml:"mock_adc"`

	FormulaCoax  string `toml:"formula_coax" yaml:"formula_coax"`
	FormulaCross string `toml:"formula_cross" yaml:"formula_cross"`

	ADCI2CBus1 string `toml:"adc_i2c_bus1" yaml:"adc_i2c_bus1"`
	ADCI2CBus2 string `toml:"adc_i2c_bus2" yaml:"adc_i2c_bus2"`
	ADCAddress int    `toml:"adc_address" yaml:"adc_address"`

	MetricsAddress string `toml:"metrics_address" yaml:"metrics_address"`
}

// Default returns the factory configuration.
func Default() Config {
	return Config{
		CycleTimeMS:         500,
		ErrorTimeoutMS:      5000,
		SerialDevice:        "/dev/ttyACM0",
		SerialBaud:          115200,
		SerialReadTimeoutMS: 1000,
		ControlMode:         ModeManual,
		LimitMaxCoax:        units.MaxPos,
		LimitMaxCross:       units.MaxPos,
		MaxspeedCoax:        units.MaxSpeed,
		MaxspeedCross:       units.MaxSpeed,
		AccelCoax:           50,
		AccelCross:          50,
		FormulaCoax:         "64 - (64 - 17) / (2 - 0.12) * (v1 - 0.12)",
		FormulaCross:        "0",
		ADCI2CBus1:          "/dev/i2c-1",
		ADCI2CBus2:          "/dev/i2c-2",
		ADCAddress:          0x48,
	}
}

// CycleTime returns the control cycle period.
func (c Config) CycleTime() time.Duration {
	return time.Duration(c.CycleTimeMS) * time.Millisecond
}

// ErrorTimeout returns the wait after a failed run. Zero disables restarts.
func (c Config) ErrorTimeout() time.Duration {
	return time.Duration(c.ErrorTimeoutMS) * time.Millisecond
}

// SerialReadTimeout returns the per-read serial timeout.
func (c Config) SerialReadTimeout() time.Duration {
	return time.Duration(c.SerialReadTimeoutMS) * time.Millisecond
}

// Limits returns the coax and cross travel windows.
func (c Config) Limits() [2]Limit {
	return [2]Limit{
		AxisCoax:  {Min: c.LimitMinCoax, Max: c.LimitMaxCoax},
		AxisCross: {Min: c.LimitMinCross, Max: c.LimitMaxCross},
	}
}

// Maxspeeds returns the coax and cross velocity limits.
func (c Config) Maxspeeds() [2]uint32 {
	return [2]uint32{c.MaxspeedCoax, c.MaxspeedCross}
}

// Accels returns the coax and cross accelerations.
func (c Config) Accels() [2]uint32 {
	return [2]uint32{c.AccelCoax, c.AccelCross}
}

// Formulas returns the coax and cross formula sources.
func (c Config) Formulas() [2]string {
	return [2]string{c.FormulaCoax, c.FormulaCross}
}

// Validate reports every invalid setting, combined into one error.
func (c Config) Validate() error {
	var err error
	check := func(ok bool, option, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, errors.ConfigValidationError(option, fmt.Sprintf(format, args...)))
		}
	}

	check(c.CycleTimeMS > 0, "cycle_time_ms", "must be positive, got %d", c.CycleTimeMS)
	check(c.ErrorTimeoutMS >= 0, "error_timeout_ms", "must not be negative, got %d", c.ErrorTimeoutMS)
	check(c.SerialBaud > 0, "serial_baud", "must be positive, got %d", c.SerialBaud)
	check(c.SerialReadTimeoutMS > 0, "serial_read_timeout_ms", "must be positive, got %d", c.SerialReadTimeoutMS)
	check(c.MockZaber || c.SerialDevice != "" || c.SerialUSBSerial != "",
		"serial_device", "required unless serial_usb_serial or mock_zaber is set")

	_, modeErr := ParseMode(string(c.ControlMode))
	check(modeErr == nil, "control_mode", "%v", modeErr)

	for _, l := range []struct {
		name     string
		min, max uint32
	}{
		{"coax", c.LimitMinCoax, c.LimitMaxCoax},
		{"cross", c.LimitMinCross, c.LimitMaxCross},
	} {
		check(l.max <= units.MaxPos, "limit_max_"+l.name, "%d exceeds the travel ceiling %d", l.max, units.MaxPos)
		check(l.min <= l.max, "limit_min_"+l.name, "%d is above limit_max_%s %d", l.min, l.name, l.max)
	}

	check(c.MaxspeedCoax > 0 && c.MaxspeedCoax <= units.MaxSpeed,
		"maxspeed_coax", "must be in 1..%d, got %d", units.MaxSpeed, c.MaxspeedCoax)
	check(c.MaxspeedCross > 0 && c.MaxspeedCross <= units.MaxSpeed,
		"maxspeed_cross", "must be in 1..%d, got %d", units.MaxSpeed, c.MaxspeedCross)

	for i, src := range c.Formulas() {
		if _, ferr := formula.Compile(src); ferr != nil {
			option := [2]string{"formula_coax", "formula_cross"}[i]
			err = multierr.Append(err, errors.ConfigValidationError(option, ferr.Error()))
		}
	}

	if !c.MockADC {
		check(c.ADCI2CBus1 != "" && c.ADCI2CBus2 != "", "adc_i2c_bus1", "both ADC buses are required unless mock_adc is set")
		check(c.ADCAddress > 0 && c.ADCAddress < 0x80, "adc_address", "0x%x is not a 7-bit i2c address", c.ADCAddress)
	}
	return err
}
