package ascii_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagectl/pkg/ascii"
	"stagectl/pkg/errors"
	"stagectl/pkg/serial"
	"stagectl/pkg/simulator"
)

// scripted answers every write with a fixed reply text.
type scripted struct {
	reply   string
	written bytes.Buffer
	out     bytes.Buffer
}

func (s *scripted) Write(p []byte) (int, error) {
	s.written.Write(p)
	s.out.Reset()
	s.out.WriteString(s.reply)
	return len(p), nil
}

func (s *scripted) Read(p []byte) (int, error) {
	if s.out.Len() == 0 {
		return 0, serial.ErrTimeout
	}
	return s.out.Read(p)
}

type failingWriter struct{ io.Reader }

func (failingWriter) Write([]byte) (int, error) { return 0, serial.ErrClosed }

// flushable counts flushes and fails them on demand.
type flushable struct {
	scripted
	flushes int
	err     error
}

func (f *flushable) Flush() error {
	f.flushes++
	f.out.Reset()
	return f.err
}

func TestPortFlush(t *testing.T) {
	f := &flushable{scripted: scripted{reply: "@01 0 OK IDLE -- 0\r\n"}}
	p := ascii.NewPort(f)
	require.NoError(t, p.Command(ascii.DeviceCmd(1, "")))

	require.NoError(t, p.Flush())
	assert.Equal(t, 1, f.flushes)
	_, err := f.Read(make([]byte, 8))
	assert.True(t, serial.IsTimeout(err))

	f.err = serial.ErrClosed
	err = p.Flush()
	assert.True(t, errors.Is(err, errors.ErrTransport))

	// Transports without Flush are left alone.
	assert.NoError(t, ascii.NewPort(&scripted{}).Flush())
}

func TestPortCommandReplyAgainstSimulator(t *testing.T) {
	sim := simulator.New()
	sim.EnableLockstep()
	p := ascii.NewPort(sim)

	var traced []string
	p.SetTrace(func(dir, line string) { traced = append(traced, dir+line) })

	replies, err := p.CommandReplyN(ascii.Cmd("get pos"), 2)
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, 1, replies[0].Device)
	assert.Equal(t, 2, replies[1].Device)
	assert.Equal(t, []string{">/get pos", "<@01 0 OK IDLE -- 0", "<@02 0 OK IDLE -- 0"}, traced)
}

func TestPortSkipsUnsolicitedMessages(t *testing.T) {
	tr := &scripted{reply: "!02 1 IDLE --\r\n#02 0 info\r\n@02 0 OK IDLE -- 17\r\n"}
	p := ascii.NewPort(tr)

	reply, err := p.CommandReply(ascii.DeviceCmd(2, "get pos"))
	require.NoError(t, err)
	assert.Equal(t, "17", reply.Data)
	assert.Equal(t, "/2 get pos\n", tr.written.String())
}

func TestPortRejectsWrongDevice(t *testing.T) {
	p := ascii.NewPort(&scripted{reply: "@01 0 OK IDLE -- 0\r\n"})
	_, err := p.CommandReply(ascii.DeviceCmd(2, ""))
	assert.True(t, errors.Is(err, errors.ErrProtocol))

	p = ascii.NewPort(&scripted{reply: "@00 0 OK IDLE -- 0\r\n"})
	_, err = p.CommandReply(ascii.Cmd(""))
	assert.True(t, errors.Is(err, errors.ErrProtocol))
}

func TestPortTimeoutIsTransportError(t *testing.T) {
	p := ascii.NewPort(&scripted{})
	_, err := p.CommandReply(ascii.DeviceCmd(1, ""))
	assert.True(t, errors.Is(err, errors.ErrTransport))
	assert.True(t, serial.IsTimeout(err))

	// Only one of two replies arrives.
	p = ascii.NewPort(&scripted{reply: "@01 0 OK IDLE -- 0\r\n"})
	replies, err := p.CommandReplyN(ascii.Cmd("home"), 2)
	assert.Len(t, replies, 1)
	assert.True(t, serial.IsTimeout(err))
}

func TestPortWriteFailure(t *testing.T) {
	p := ascii.NewPort(failingWriter{bytes.NewReader(nil)})
	err := p.Command(ascii.Cmd("stop"))
	assert.True(t, errors.Is(err, errors.ErrTransport))
}

func TestPollUntilIdle(t *testing.T) {
	sim := simulator.New()
	p := ascii.NewPort(sim)
	p.SetPollInterval(time.Millisecond)

	sim.SetTarget(2, 1, 230)
	start := time.Now()
	require.NoError(t, p.PollUntilIdle(context.Background(), 2))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, uint32(230), sim.Axis(2, 1).Position)
}

func TestPollUntilIdleCancelled(t *testing.T) {
	sim := simulator.New()
	sim.SetTarget(2, 1, 200000)
	p := ascii.NewPort(sim)
	p.SetPollInterval(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.PollUntilIdle(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollUntilIdleRejected(t *testing.T) {
	p := ascii.NewPort(&scripted{reply: "@02 0 RJ IDLE WR BADCOMMAND\r\n"})
	err := p.PollUntilIdle(context.Background(), 2)
	assert.True(t, errors.Is(err, errors.ErrProtocol))
}
