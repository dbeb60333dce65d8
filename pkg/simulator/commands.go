package simulator

import (
	"strconv"
	"strings"

	"stagectl/pkg/ascii"
	"stagectl/pkg/units"
)

// execute interprets one command line. Only readiness violations are
// returned as errors; everything else produces a reply.
func (s *Simulator) execute(line string) error {
	cmd, err := ascii.ParseCommand(line)
	if err != nil {
		logger.Debug("ignoring line %q: %v", line, err)
		return nil
	}

	devices := addressed(cmd.Device)
	if len(devices) == 0 {
		// Nobody answers at an unknown address.
		logger.Debug("no device %d for %q", cmd.Device, line)
		return nil
	}
	for _, d := range devices {
		if cmd.Axis > axisCount(d) {
			s.reject(d, cmd.Axis, ascii.StatusIdle, ascii.ReasonBadAxis)
			return nil
		}
	}

	words := strings.Fields(cmd.Data)
	if len(words) == 0 {
		for _, d := range devices {
			s.reply(d, cmd.Axis, "0")
		}
		return nil
	}

	switch words[0] {
	case "system":
		if cmd.Data != "system restore" {
			s.rejectAll(devices, cmd.Axis, ascii.ReasonBadCommand)
			return nil
		}
		s.reset()
		for _, d := range devices {
			s.reply(d, 0, "0")
		}
	case "home":
		for _, d := range devices {
			for _, a := range scope(d, cmd.Axis) {
				s.cells[d][a].target = 0
			}
			s.reply(d, cmd.Axis, strconv.FormatUint(uint64(s.cells[d][firstAxis(cmd.Axis)].position()), 10))
		}
	case "stop":
		for _, d := range devices {
			for _, a := range scope(d, cmd.Axis) {
				c := &s.cells[d][a]
				c.target = c.position()
				c.pos = float64(c.target)
			}
			s.reply(d, cmd.Axis, "0")
		}
	case "set":
		s.set(devices, cmd.Axis, words[1:])
	case "get":
		return s.get(cmd, devices, words[1:])
	case "move":
		if err := s.checkReady(cmd.Device, cmd.Axis, "move"); err != nil {
			return err
		}
		for _, d := range devices {
			s.move(d, cmd.Axis, words[1:])
		}
	case "lockstep":
		return s.lockstep(cmd, devices, words[1:])
	default:
		s.rejectAll(devices, cmd.Axis, ascii.ReasonBadCommand)
	}
	return nil
}

// addressed expands a device address; 0 means every device.
func addressed(device int) []int {
	switch {
	case device == 0:
		return []int{1, 2}
	case device <= numDevices:
		return []int{device}
	}
	return nil
}

// scope expands an axis address within a device; 0 means every axis.
func scope(device, axis int) []int {
	if axis != 0 {
		return []int{axis}
	}
	axes := make([]int, 0, maxAxes)
	for a := 1; a <= axisCount(device); a++ {
		axes = append(axes, a)
	}
	return axes
}

func firstAxis(axis int) int {
	if axis == 0 {
		return 1
	}
	return axis
}

func (s *Simulator) rejectAll(devices []int, axis int, reason string) {
	for _, d := range devices {
		s.reject(d, axis, s.status(d, axis), reason)
	}
}

func (s *Simulator) set(devices []int, axis int, args []string) {
	if len(args) != 2 {
		s.rejectAll(devices, axis, ascii.ReasonBadData)
		return
	}
	setting := args[0]
	v, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		s.rejectAll(devices, axis, ascii.ReasonBadData)
		return
	}
	value := uint32(v)

	for _, d := range devices {
		switch setting {
		case "comm.alert", "accel":
			s.reply(d, axis, "0")
		case "maxspeed":
			if value == 0 || value > units.MaxSpeed {
				s.reject(d, axis, s.status(d, axis), ascii.ReasonBadData)
				continue
			}
			for _, a := range scope(d, axis) {
				s.cells[d][a].velocity = float64(value)
			}
			s.reply(d, axis, "0")
		case "limit.max", "limit.min":
			if value > units.MaxPos {
				s.reject(d, axis, ascii.StatusBusy, ascii.ReasonBadData)
				continue
			}
			for _, a := range scope(d, axis) {
				if setting == "limit.max" {
					s.cells[d][a].limitMax = value
				} else {
					s.cells[d][a].limitMin = value
				}
			}
			s.reply(d, axis, "0")
		default:
			s.reject(d, axis, s.status(d, axis), ascii.ReasonBadCommand)
		}
	}
}

func (s *Simulator) get(cmd ascii.Command, devices []int, args []string) error {
	if len(args) != 1 {
		s.rejectAll(devices, cmd.Axis, ascii.ReasonBadCommand)
		return nil
	}
	if args[0] == "pos" {
		if err := s.checkReady(cmd.Device, cmd.Axis, "get pos"); err != nil {
			return err
		}
		for _, d := range devices {
			pos := s.cells[d][firstAxis(cmd.Axis)].position()
			s.reply(d, cmd.Axis, strconv.FormatUint(uint64(pos), 10))
		}
		return nil
	}

	for _, d := range devices {
		values := make([]string, 0, maxAxes)
		for _, a := range scope(d, cmd.Axis) {
			c := s.cells[d][a]
			switch args[0] {
			case "maxspeed":
				values = append(values, strconv.FormatFloat(c.velocity, 'f', -1, 64))
			case "limit.max":
				values = append(values, strconv.FormatUint(uint64(c.limitMax), 10))
			case "limit.min":
				values = append(values, strconv.FormatUint(uint64(c.limitMin), 10))
			}
		}
		if len(values) == 0 {
			s.reject(d, cmd.Axis, s.status(d, cmd.Axis), ascii.ReasonBadCommand)
			continue
		}
		s.reply(d, cmd.Axis, strings.Join(values, " "))
	}
	return nil
}

// move handles "move abs v" and "move rel v" for one device. A whole-device
// move on device 1 moves both coax motors, keeping the lockstep offset.
func (s *Simulator) move(device, axis int, args []string) {
	if len(args) != 2 || (args[0] != "abs" && args[0] != "rel") {
		s.reject(device, axis, s.status(device, axis), ascii.ReasonBadCommand)
		return
	}
	v, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		s.reject(device, axis, ascii.StatusBusy, ascii.ReasonBadData)
		return
	}

	lead := firstAxis(axis)
	goal := v
	if args[0] == "rel" {
		goal = int64(s.cells[device][lead].target) + v
	}

	targets := map[int]int64{lead: goal}
	if device == 1 && axis == 0 && s.offset != nil {
		targets[2] = goal + *s.offset
	} else if axis == 0 {
		for _, a := range scope(device, 0) {
			targets[a] = goal
		}
	}

	for a, t := range targets {
		c := s.cells[device][a]
		if t < int64(c.limitMin) || t > int64(c.limitMax) {
			logger.Debug("device %d axis %d: move to %d outside [%d, %d]", device, a, t, c.limitMin, c.limitMax)
			s.reject(device, axis, ascii.StatusBusy, ascii.ReasonBadData)
			return
		}
	}
	for a, t := range targets {
		s.cells[device][a].target = uint32(t)
	}
	s.reply(device, axis, "0")
}

func (s *Simulator) lockstep(cmd ascii.Command, devices []int, args []string) error {
	if len(args) < 2 || args[0] != "1" {
		s.rejectAll(devices, cmd.Axis, ascii.ReasonBadCommand)
		return nil
	}
	sub := strings.Join(args[1:], " ")

	if args[1] == "move" {
		if err := s.checkReady(cmd.Device, 0, "lockstep move"); err != nil {
			return err
		}
	}
	for _, d := range devices {
		if d != 1 || cmd.Axis != 0 {
			s.reject(d, cmd.Axis, s.status(d, cmd.Axis), ascii.ReasonBadCommand)
			continue
		}
		switch {
		case sub == "setup enable 1 2":
			s.enableLockstep()
			s.reply(d, 0, "0")
		case sub == "setup disable":
			s.offset = nil
			s.reply(d, 0, "0")
		case args[1] == "move":
			s.move(d, 0, args[2:])
		default:
			s.reject(d, 0, s.status(d, 0), ascii.ReasonBadCommand)
		}
	}
	return nil
}
