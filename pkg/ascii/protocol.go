// ASCII command/reply protocol of the stage motion controller
//
// Commands:  /[device [axis]] data\n
// Replies:   @0<device> <axis> <OK|RJ> <BUSY|IDLE> <--|WR|..> <data>\r\n
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package ascii

import (
	"fmt"
	"strconv"
	"strings"

	"stagectl/pkg/errors"
)

// Reply flags.
const (
	FlagOK = "OK"
	FlagRJ = "RJ"
)

// Status is the busy/idle field of a reply.
type Status string

const (
	StatusBusy Status = "BUSY"
	StatusIdle Status = "IDLE"
)

// NoWarning is the warning field of a reply without warnings.
const NoWarning = "--"

// Rejection reasons carried in the data field of RJ replies.
const (
	ReasonBadData    = "BADDATA"
	ReasonBadCommand = "BADCOMMAND"
	ReasonBadAxis    = "BADAXIS"
)

// Command is one request line. Device 0 broadcasts to every device;
// Axis 0 addresses every axis of the device.
type Command struct {
	Device int
	Axis   int
	Data   string
}

// Cmd builds a broadcast command.
func Cmd(data string) Command { return Command{Data: data} }

// DeviceCmd builds a command addressed to one device.
func DeviceCmd(device int, data string) Command { return Command{Device: device, Data: data} }

// AxisCmd builds a command addressed to one axis of a device.
func AxisCmd(device, axis int, data string) Command {
	return Command{Device: device, Axis: axis, Data: data}
}

// Encode returns the wire form including the trailing newline.
func (c Command) Encode() []byte {
	return []byte(c.String() + "\n")
}

func (c Command) String() string {
	var sb strings.Builder
	sb.WriteByte('/')
	if c.Device != 0 {
		sb.WriteString(strconv.Itoa(c.Device))
		if c.Axis != 0 {
			sb.WriteByte(' ')
			sb.WriteString(strconv.Itoa(c.Axis))
		}
		if c.Data != "" {
			sb.WriteByte(' ')
		}
	}
	sb.WriteString(c.Data)
	return sb.String()
}

// ParseCommand parses a request line such as "/1 2 move rel 40".
// Leading numeric words are the device and axis.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "/") {
		return Command{}, fmt.Errorf("ascii: command must start with '/': %q", line)
	}
	words := strings.Fields(line[1:])

	var cmd Command
	for i := 0; i < 2 && len(words) > 0; i++ {
		n, err := strconv.Atoi(words[0])
		if err != nil {
			break
		}
		if n < 0 {
			return Command{}, fmt.Errorf("ascii: negative address in %q", line)
		}
		if i == 0 {
			cmd.Device = n
		} else {
			cmd.Axis = n
		}
		words = words[1:]
	}
	cmd.Data = strings.Join(words, " ")
	return cmd, nil
}

// Reply is one parsed response line.
type Reply struct {
	Device  int
	Axis    int
	Flag    string
	Status  Status
	Warning string
	Data    string
}

// Busy reports whether the replying axis was moving.
func (r Reply) Busy() bool { return r.Status == StatusBusy }

// Rejected reports an RJ flag.
func (r Reply) Rejected() bool { return r.Flag == FlagRJ }

// CheckOK returns a protocol error for rejected replies.
func (r Reply) CheckOK() error {
	if r.Flag == FlagOK {
		return nil
	}
	return errors.ProtocolError("device %d axis %d rejected command: %s", r.Device, r.Axis, r.Data).
		SetAddress(r.Device, r.Axis)
}

// Uint returns the first word of the data field as an unsigned number.
func (r Reply) Uint() (uint32, error) {
	words := strings.Fields(r.Data)
	if len(words) == 0 {
		return 0, errors.ProtocolError("device %d returned no data", r.Device).SetAddress(r.Device, r.Axis)
	}
	v, err := strconv.ParseUint(words[0], 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrProtocol, fmt.Sprintf("malformed number %q", words[0])).
			SetAddress(r.Device, r.Axis)
	}
	return uint32(v), nil
}

// Encode returns the wire form including the trailing CR LF.
func (r Reply) Encode() []byte {
	return []byte(r.String() + "\r\n")
}

func (r Reply) String() string {
	warn := r.Warning
	if warn == "" {
		warn = NoWarning
	}
	return fmt.Sprintf("@%02d %d %s %s %s %s", r.Device, r.Axis, r.Flag, r.Status, warn, r.Data)
}

// ParseReply parses one reply line; trailing CR LF is ignored.
func ParseReply(line string) (Reply, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "@") {
		return Reply{}, errors.ProtocolError("reply must start with '@': %q", line)
	}
	fields := strings.Fields(line[1:])
	if len(fields) < 6 {
		return Reply{}, errors.ProtocolError("reply has %d fields, want at least 6: %q", len(fields), line)
	}

	device, err := strconv.Atoi(fields[0])
	if err != nil || device < 0 {
		return Reply{}, errors.ProtocolError("bad device field in %q", line)
	}
	axis, err := strconv.Atoi(fields[1])
	if err != nil || axis < 0 {
		return Reply{}, errors.ProtocolError("bad axis field in %q", line)
	}

	r := Reply{
		Device:  device,
		Axis:    axis,
		Flag:    fields[2],
		Status:  Status(fields[3]),
		Warning: fields[4],
		Data:    strings.Join(fields[5:], " "),
	}
	if r.Flag != FlagOK && r.Flag != FlagRJ {
		return Reply{}, errors.ProtocolError("bad flag %q in %q", r.Flag, line)
	}
	if r.Status != StatusBusy && r.Status != StatusIdle {
		return Reply{}, errors.ProtocolError("bad status %q in %q", r.Status, line)
	}
	return r, nil
}
