package stage

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"

	"stagectl/pkg/ascii"
	"stagectl/pkg/config"
	"stagectl/pkg/errors"
	"stagectl/pkg/log"
	"stagectl/pkg/serial"
	"stagectl/pkg/simulator"
)

var logger = log.GetLogger("stage")

// Device addresses on the daisy chain.
const (
	coaxDevice  = 1
	crossDevice = 2
)

// Controller speaks the ASCII protocol to both devices.
type Controller struct {
	port    *ascii.Port
	closers []io.Closer
}

// NewController wraps a transport. Closers are closed by Close in reverse
// order.
func NewController(rw io.ReadWriter, closers ...io.Closer) *Controller {
	return &Controller{port: ascii.NewPort(rw), closers: closers}
}

// Open selects the transport from cfg: the in-memory simulator when
// mock_zaber is set, otherwise the serial device (or unix socket),
// resolved by USB serial number when one is configured.
func Open(cfg config.Config) (*Controller, error) {
	if cfg.MockZaber {
		logger.Info("using simulated motion controller")
		return NewController(simulator.New()), nil
	}

	device, err := serial.ResolveDevice(cfg.SerialDevice, cfg.SerialUSBSerial)
	if err != nil {
		return nil, errors.RuntimeErrorInit("motion controller", err)
	}
	port, err := serial.OpenDevice(serial.Config{
		Device:      device,
		BaudRate:    cfg.SerialBaud,
		ReadTimeout: cfg.SerialReadTimeout(),
	})
	if err != nil {
		return nil, errors.TransportError(fmt.Sprintf("open %s", device), err)
	}
	if port.IsSocket() {
		logger.Info("connected to motion controller socket %s", port.Device())
	} else {
		logger.Info("opened motion controller on %s at %d baud", port.Device(), cfg.SerialBaud)
	}
	return NewController(port, port), nil
}

// Port returns the protocol port.
func (c *Controller) Port() *ascii.Port {
	return c.port
}

// Init brings both devices to a known state: factory settings, homed,
// coax offset applied, limits and speeds from cfg, lockstep enabled.
func (c *Controller) Init(ctx context.Context, cfg config.Config) error {
	logger.Info("initialising axes")

	if err := c.port.Flush(); err != nil {
		return err
	}

	if _, err := c.port.CommandReplyN(ascii.Cmd("system restore"), 2); err != nil {
		return err
	}
	if _, err := c.port.CommandReplyN(ascii.Cmd("home"), 2); err != nil {
		logger.Warn("home: %v", err)
	}
	for _, d := range []int{coaxDevice, crossDevice} {
		if err := c.port.PollUntilIdle(ctx, d); err != nil {
			return err
		}
	}

	if err := c.checked(c.port.CommandReplyN(ascii.Cmd("set comm.alert 0"), 2)); err != nil {
		return err
	}

	switch off := cfg.OffsetCoax; {
	case off > 0:
		if err := c.replyOK(ascii.AxisCmd(coaxDevice, 1, fmt.Sprintf("move rel %d", off))); err != nil {
			return err
		}
	case off < 0:
		if err := c.replyOK(ascii.AxisCmd(coaxDevice, 2, fmt.Sprintf("move rel %d", -off))); err != nil {
			return err
		}
	}
	if err := c.port.PollUntilIdle(ctx, coaxDevice); err != nil {
		return err
	}

	limits := cfg.Limits()
	speeds := cfg.Maxspeeds()
	accels := cfg.Accels()
	for axis, device := range [2]int{coaxDevice, crossDevice} {
		for _, data := range []string{
			fmt.Sprintf("set maxspeed %d", speeds[axis]),
			fmt.Sprintf("set limit.max %d", limits[axis].Max),
			fmt.Sprintf("set limit.min %d", limits[axis].Min),
			fmt.Sprintf("set accel %d", accels[axis]),
		} {
			if err := c.replyOK(ascii.DeviceCmd(device, data)); err != nil {
				return err
			}
		}
	}

	if err := c.replyOK(ascii.DeviceCmd(coaxDevice, "lockstep 1 setup enable 1 2")); err != nil {
		return err
	}
	logger.Info("axes ready")
	return nil
}

// GetPos queries both devices with one broadcast.
func (c *Controller) GetPos() (busy [2]bool, pos [2]uint32, err error) {
	replies, err := c.port.CommandReplyN(ascii.Cmd("get pos"), 2)
	if err != nil {
		return busy, pos, err
	}

	var seen [2]bool
	for _, r := range replies {
		var axis int
		switch r.Device {
		case coaxDevice:
			axis = Coax
		case crossDevice:
			axis = Cross
		default:
			return busy, pos, errors.ProtocolError("unknown device %d in position reply", r.Device).SetAddress(r.Device, r.Axis)
		}
		if err := r.CheckOK(); err != nil {
			return busy, pos, err
		}
		v, err := r.Uint()
		if err != nil {
			return busy, pos, err
		}
		pos[axis] = v
		busy[axis] = r.Busy()
		seen[axis] = true
	}
	if !seen[Coax] || !seen[Cross] {
		return busy, pos, errors.ProtocolError("position replies missing a device: %v", replies)
	}
	return busy, pos, nil
}

// MoveAxis moves coax in lockstep on device 1 or cross on device 2.
func (c *Controller) MoveAxis(axis int, target uint32) error {
	var cmd ascii.Command
	switch axis {
	case Coax:
		cmd = ascii.DeviceCmd(coaxDevice, fmt.Sprintf("lockstep 1 move abs %d", target))
	case Cross:
		cmd = ascii.DeviceCmd(crossDevice, fmt.Sprintf("move abs %d", target))
	default:
		return errors.New(errors.ErrRuntime, fmt.Sprintf("no axis %d", axis))
	}

	reply, err := c.port.CommandReply(cmd)
	if err != nil {
		return err
	}
	if reply.Rejected() && reply.Data == ascii.ReasonBadData {
		return errors.LimitRejected(cmd.Device, target)
	}
	return reply.CheckOK()
}

// Halt stops every axis.
func (c *Controller) Halt() error {
	return c.checked(c.port.CommandReplyN(ascii.Cmd("stop"), 2))
}

// Close releases the transport.
func (c *Controller) Close() error {
	var err error
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, c.closers[i].Close())
	}
	c.closers = nil
	return err
}

func (c *Controller) replyOK(cmd ascii.Command) error {
	reply, err := c.port.CommandReply(cmd)
	if err != nil {
		return err
	}
	return reply.CheckOK()
}

func (c *Controller) checked(replies []ascii.Reply, err error) error {
	if err != nil {
		return err
	}
	for _, r := range replies {
		if err := r.CheckOK(); err != nil {
			return err
		}
	}
	return nil
}
