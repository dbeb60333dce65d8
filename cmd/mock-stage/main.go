// mock-stage serves a simulated two-device motion controller on a unix
// socket for testing stagectl without hardware. It speaks the same ASCII
// protocol as the real controller, including:
// - system restore, home, set/get settings
// - lockstep setup and lockstep moves on device 1
// - absolute and relative moves with limit rejection
// - motion integrated against the wall clock
//
// Usage:
//
//	mock-stage -socket /tmp/stage.sock [-trace] [-lockstep]
//
// Point stagectl at it with serial_device = "unix:/tmp/stage.sock".
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"stagectl/pkg/simulator"
)

func main() {
	socketPath := flag.String("socket", "/tmp/stage.sock", "Unix socket path")
	trace := flag.Bool("trace", false, "Enable trace output")
	lockstep := flag.Bool("lockstep", false, "Start with lockstep already enabled")
	flag.Parse()

	os.Remove(*socketPath)

	listener, err := net.Listen("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating socket: %v\n", err)
		os.Exit(1)
	}
	defer os.Remove(*socketPath)

	sim := simulator.New()
	if *lockstep {
		sim.EnableLockstep()
	}

	var traceFn func(dir, line string)
	if *trace {
		traceFn = func(dir, line string) { fmt.Printf("  %s %s\n", dir, line) }
	}

	fmt.Printf("Mock stage listening on %s\n", *socketPath)
	fmt.Println("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := simulator.NewServer(sim, traceFn).Serve(ctx, listener); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nShutting down...")
}
