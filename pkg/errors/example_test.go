// Examples of the stage error helpers
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors_test

import (
	"fmt"

	"stagectl/pkg/errors"
)

func ExampleLimitRejected() {
	err := errors.LimitRejected(1, 250000)
	fmt.Println(err)
	fmt.Println("fatal:", errors.IsFatal(err))
	// Output:
	// [LIMIT_REJECTED:1/0] move to 250000 rejected
	// fatal: false
}

func ExampleIs() {
	cause := errors.NotReady(1, "move")
	err := fmt.Errorf("cycle: %w", errors.TransportError("move coax", cause))

	fmt.Println(errors.Is(err, errors.ErrTransport), errors.Is(err, errors.ErrNotReady))
	code, _ := errors.CodeOf(err)
	fmt.Println(code)
	// Output:
	// true true
	// TRANSPORT
}

func ExampleRecoverPanic() {
	run := func() (err error) {
		defer func() { err = errors.RecoverPanic(recover(), err) }()
		panic("lost axis")
	}
	fmt.Println(run())
	// Output:
	// [RUNTIME] panic: lost axis
}
