// Unified error handling for the stage controller
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Transport: open/read/write failure, timeout.
	ErrTransport ErrorCode = "TRANSPORT"

	// Protocol: malformed reply, unexpected device or axis, RJ flag.
	ErrProtocol ErrorCode = "PROTOCOL"

	// LimitRejected is not fatal; the controller refused an out-of-range move.
	ErrLimitRejected ErrorCode = "LIMIT_REJECTED"

	// Formula: tracking expression failed to compile or evaluate.
	ErrFormula ErrorCode = "FORMULA"

	// NotReady: device 1 addressed before lockstep was enabled.
	ErrNotReady ErrorCode = "NOT_READY"

	ErrConfigParse      ErrorCode = "CONFIG_PARSE"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	ErrADC         ErrorCode = "ADC"
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// StageError is the error type shared by all stage packages.
type StageError struct {
	Code    ErrorCode
	Message string

	// Device and Axis address the sub-axis involved, 0 if none.
	Device int
	Axis   int

	// Option names the config key for config errors.
	Option string

	Err     error
	Context map[string]interface{}
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Device != 0 {
		msg = fmt.Sprintf("[%s:%d/%d] %s", e.Code, e.Device, e.Axis, e.Message)
	} else if e.Option != "" {
		msg = fmt.Sprintf("[%s:%s] %s", e.Code, e.Option, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	return e.Err
}

// SetAddress records the device and axis the error refers to.
func (e *StageError) SetAddress(device, axis int) *StageError {
	e.Device = device
	e.Axis = axis
	return e
}

func (e *StageError) SetOption(option string) *StageError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *StageError) SetContext(key string, value interface{}) *StageError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code ErrorCode, message string) *StageError {
	return &StageError{Code: code, Message: message, Err: err}
}

func New(code ErrorCode, message string) *StageError {
	return &StageError{Code: code, Message: message}
}

// TransportError reports a failed transport operation.
func TransportError(op string, err error) *StageError {
	return Wrap(err, ErrTransport, op)
}

// ProtocolError reports a reply that violates the wire contract.
func ProtocolError(format string, args ...interface{}) *StageError {
	return New(ErrProtocol, fmt.Sprintf(format, args...))
}

// LimitRejected reports a move the controller refused as out of range.
func LimitRejected(device int, target uint32) *StageError {
	return New(ErrLimitRejected, fmt.Sprintf("move to %d rejected", target)).
		SetAddress(device, 0).
		SetContext("target", target)
}

// FormulaError wraps a compile or evaluation failure for a named formula.
func FormulaError(name string, err error) *StageError {
	return Wrap(err, ErrFormula, fmt.Sprintf("formula %s", name))
}

// NotReady reports an operation on device 1 before lockstep was enabled.
func NotReady(device int, op string) *StageError {
	return New(ErrNotReady, fmt.Sprintf("%s before lockstep setup", op)).SetAddress(device, 0)
}

func ConfigValidationError(option, reason string) *StageError {
	return New(ErrConfigValidation, reason).SetOption(option)
}

func ConfigParseError(path string, err error) *StageError {
	return Wrap(err, ErrConfigParse, fmt.Sprintf("parse %s", path))
}

func ADCError(channel int, err error) *StageError {
	return Wrap(err, ErrADC, fmt.Sprintf("adc channel %d", channel))
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, err error) *StageError {
	return Wrap(err, ErrRuntimeInit, fmt.Sprintf("failed to initialize %s", component))
}

// RecoverPanic converts a recovered panic value into an error.
// Call as: defer func() { err = errors.RecoverPanic(recover(), err) }()
func RecoverPanic(r interface{}, err error) error {
	if r == nil {
		return err
	}
	switch x := r.(type) {
	case error:
		return Wrap(x, ErrRuntime, "panic")
	default:
		return New(ErrRuntime, fmt.Sprintf("panic: %v", x))
	}
}

// Is reports whether any error in err's chain is a StageError with code.
func Is(err error, code ErrorCode) bool {
	var se *StageError
	for err != nil {
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Err
	}
	return false
}

// CodeOf returns the code of the outermost StageError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StageError
	if stderrors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}

// IsFatal reports whether err must end a control run. Limit rejections
// are the only non-fatal errors.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !Is(err, ErrLimitRejected)
}
