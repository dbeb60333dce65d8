package ascii

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"stagectl/pkg/errors"
	"stagectl/pkg/log"
)

var logger = log.GetLogger("ascii")

// DefaultPollInterval is the pause between idle polls.
const DefaultPollInterval = 20 * time.Millisecond

// Port exchanges commands and replies over a byte transport. Each
// command discards reply bytes still buffered from earlier commands.
type Port struct {
	mu           sync.Mutex
	rw           io.ReadWriter
	r            *bufio.Reader
	pollInterval time.Duration
	trace        func(dir, line string)
}

// NewPort wraps a transport such as *serial.Port or *simulator.Simulator.
func NewPort(rw io.ReadWriter) *Port {
	return &Port{
		rw:           rw,
		r:            bufio.NewReader(rw),
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval changes the pause between idle polls.
func (p *Port) SetPollInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pollInterval = d
}

// SetTrace installs a hook receiving every line sent (">") and received ("<").
func (p *Port) SetTrace(fn func(dir, line string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trace = fn
}

// Flush drops buffered reply bytes and, when the transport supports it,
// unread input still queued below it.
func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.r.Reset(p.rw)
	if f, ok := p.rw.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return errors.TransportError("flush", err)
		}
	}
	return nil
}

// Command sends a command without reading replies.
func (p *Port) Command(cmd Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.send(cmd)
}

// CommandReply sends a command and reads exactly one reply.
func (p *Port) CommandReply(cmd Command) (Reply, error) {
	replies, err := p.CommandReplyN(cmd, 1)
	if err != nil {
		return Reply{}, err
	}
	return replies[0], nil
}

// CommandReplyN sends a command and reads n replies. Replies from a device
// other than the addressed one are protocol violations.
func (p *Port) CommandReplyN(cmd Command, n int) ([]Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.send(cmd); err != nil {
		return nil, err
	}
	replies := make([]Reply, 0, n)
	for len(replies) < n {
		reply, err := p.readReply()
		if err != nil {
			return replies, err
		}
		if cmd.Device != 0 && reply.Device != cmd.Device {
			return replies, errors.ProtocolError("reply from device %d to command for device %d", reply.Device, cmd.Device).
				SetAddress(reply.Device, reply.Axis)
		}
		if cmd.Device == 0 && reply.Device == 0 {
			return replies, errors.ProtocolError("reply without device address to %q", cmd.String())
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

// PollUntilIdle polls device until it reports IDLE. Rejected polls fail.
// Cancelling ctx stops polling between polls; an in-flight exchange is
// not interrupted.
func (p *Port) PollUntilIdle(ctx context.Context, device int) error {
	p.mu.Lock()
	interval := p.pollInterval
	p.mu.Unlock()

	for {
		reply, err := p.CommandReply(DeviceCmd(device, ""))
		if err != nil {
			return err
		}
		if err := reply.CheckOK(); err != nil {
			return err
		}
		if !reply.Busy() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (p *Port) send(cmd Command) error {
	// Stale bytes belong to an earlier exchange.
	p.r.Reset(p.rw)

	if p.trace != nil {
		p.trace(">", cmd.String())
	}
	if _, err := p.rw.Write(cmd.Encode()); err != nil {
		return errors.TransportError(fmt.Sprintf("write %q", cmd.String()), err)
	}
	return nil
}

// readReply returns the next reply line, skipping alert ('!') and info
// ('#') messages.
func (p *Port) readReply() (Reply, error) {
	for {
		line, err := p.r.ReadString('\n')
		if err != nil {
			return Reply{}, errors.TransportError("read reply", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if p.trace != nil {
			p.trace("<", line)
		}
		if line == "" || line[0] == '!' || line[0] == '#' {
			logger.Debug("skipping unsolicited message %q", line)
			continue
		}
		return ParseReply(line)
	}
}
