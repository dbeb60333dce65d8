package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"stagectl/pkg/ascii"
	"stagectl/pkg/config"
	"stagectl/pkg/serial"
	"stagectl/pkg/simulator"
)

type sendOptions struct {
	configPath string
	device     string
	replies    int
	mock       bool
	trace      bool
}

func newSendCmd() *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Send one protocol command and print the replies",
		Long: `Send one ASCII protocol command, such as "/1 get pos" or "/2 move abs 1000",
and print each reply line. The leading '/' may be omitted.

Broadcast commands wait for one reply per device; addressed commands wait
for one reply unless --replies is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "config.toml", "config file supplying the serial settings")
	f.StringVarP(&opts.device, "device", "d", "", "serial device or unix:/socket, overrides the config")
	f.IntVarP(&opts.replies, "replies", "n", 0, "number of reply lines to wait for")
	f.BoolVar(&opts.mock, "mock", false, "send to a fresh in-process simulator")
	f.BoolVar(&opts.trace, "trace", false, "print raw traffic")
	return cmd
}

func sendCommand(out io.Writer, line string, opts sendOptions) error {
	if !strings.HasPrefix(line, "/") {
		line = "/" + line
	}
	cmd, err := ascii.ParseCommand(line)
	if err != nil {
		return err
	}

	var rw io.ReadWriter
	if opts.mock {
		rw = simulator.New()
	} else {
		port, err := openPort(opts)
		if err != nil {
			return err
		}
		defer port.Close()
		rw = port
	}

	p := ascii.NewPort(rw)
	if opts.trace {
		p.SetTrace(func(dir, l string) { fmt.Fprintf(out, "%s %s\n", dir, l) })
	}

	n := opts.replies
	if n <= 0 {
		n = 1
		if cmd.Device == 0 {
			n = 2
		}
	}
	replies, err := p.CommandReplyN(cmd, n)
	for _, r := range replies {
		fmt.Fprintln(out, r.String())
	}
	return err
}

func openPort(opts sendOptions) (*serial.Port, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, err
	}
	device := opts.device
	if device == "" {
		if device, err = serial.ResolveDevice(cfg.SerialDevice, cfg.SerialUSBSerial); err != nil {
			return nil, err
		}
	}
	return serial.OpenDevice(serial.Config{
		Device:      device,
		BaudRate:    cfg.SerialBaud,
		ReadTimeout: cfg.SerialReadTimeout(),
	})
}
