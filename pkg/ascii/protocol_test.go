package ascii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagectl/pkg/errors"
)

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Cmd("get pos"), "/get pos"},
		{Cmd(""), "/"},
		{DeviceCmd(1, ""), "/1"},
		{DeviceCmd(2, "move abs 3000"), "/2 move abs 3000"},
		{AxisCmd(1, 2, "move rel 40"), "/1 2 move rel 40"},
		{AxisCmd(1, 1, ""), "/1 1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cmd.String())
		assert.Equal(t, tt.want+"\n", string(tt.cmd.Encode()))
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"/get pos\n", Command{Data: "get pos"}},
		{"/1", Command{Device: 1}},
		{"/2 move abs 3000\r\n", Command{Device: 2, Data: "move abs 3000"}},
		{"/1 2 move rel -40", Command{Device: 1, Axis: 2, Data: "move rel -40"}},
		{"/1 lockstep 1 move abs 5", Command{Device: 1, Data: "lockstep 1 move abs 5"}},
		{"/  2   home", Command{Device: 2, Data: "home"}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}

	_, err := ParseCommand("get pos")
	assert.Error(t, err)
	_, err = ParseCommand("/-1 home")
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	r, err := ParseReply("@02 0 OK BUSY -- 0\r\n")
	require.NoError(t, err)
	assert.Equal(t, Reply{Device: 2, Flag: FlagOK, Status: StatusBusy, Warning: NoWarning, Data: "0"}, r)
	assert.True(t, r.Busy())
	assert.False(t, r.Rejected())
	assert.NoError(t, r.CheckOK())
	assert.Equal(t, "@02 0 OK BUSY -- 0", r.String())

	r, err = ParseReply("@01 0 OK IDLE -- 5000 5200")
	require.NoError(t, err)
	assert.Equal(t, "5000 5200", r.Data)
	v, err := r.Uint()
	require.NoError(t, err)
	assert.Equal(t, uint32(5000), v)

	r, err = ParseReply("@01 0 RJ BUSY WR BADDATA")
	require.NoError(t, err)
	assert.True(t, r.Rejected())
	err = r.CheckOK()
	assert.True(t, errors.Is(err, errors.ErrProtocol))
	assert.Contains(t, err.Error(), "BADDATA")
}

func TestParseReplyErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"02 0 OK IDLE -- 0",
		"@02 0 OK IDLE --",
		"@x 0 OK IDLE -- 0",
		"@02 y OK IDLE -- 0",
		"@02 0 NO IDLE -- 0",
		"@02 0 OK DONE -- 0",
	} {
		_, err := ParseReply(line)
		assert.True(t, errors.Is(err, errors.ErrProtocol), "line %q: %v", line, err)
	}
}

func TestReplyUintErrors(t *testing.T) {
	_, err := Reply{Device: 1, Data: ""}.Uint()
	assert.True(t, errors.Is(err, errors.ErrProtocol))

	_, err = Reply{Device: 1, Data: "-5"}.Uint()
	assert.True(t, errors.Is(err, errors.ErrProtocol))
}
