// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageErrorFormatting(t *testing.T) {
	err := LimitRejected(2, 250000)
	assert.Equal(t, "[LIMIT_REJECTED:2/0] move to 250000 rejected", err.Error())

	cfg := ConfigValidationError("limit_max_coax", "exceeds travel")
	assert.Equal(t, "[CONFIG_VALIDATION:limit_max_coax] exceeds travel", cfg.Error())

	tr := TransportError("read reply", stderrors.New("timed out"))
	assert.Equal(t, "[TRANSPORT] read reply: timed out", tr.Error())
}

func TestIsFollowsWrapping(t *testing.T) {
	inner := NotReady(1, "get pos")
	outer := fmt.Errorf("cycle: %w", TransportError("get pos", inner))

	assert.True(t, Is(outer, ErrTransport))
	assert.True(t, Is(outer, ErrNotReady))
	assert.False(t, Is(outer, ErrFormula))

	code, ok := CodeOf(outer)
	assert.True(t, ok)
	assert.Equal(t, ErrTransport, code)
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(LimitRejected(1, 5)))
	assert.False(t, IsFatal(fmt.Errorf("move: %w", LimitRejected(1, 5))))
	assert.True(t, IsFatal(ProtocolError("unexpected device %d", 7)))
	assert.True(t, IsFatal(stderrors.New("plain")))
}

func TestRecoverPanic(t *testing.T) {
	run := func() (err error) {
		defer func() { err = RecoverPanic(recover(), err) }()
		panic("lockstep offset missing")
	}
	err := run()
	assert.True(t, Is(err, ErrRuntime))
	assert.Contains(t, err.Error(), "lockstep offset missing")

	assert.NoError(t, RecoverPanic(nil, nil))
}
