package simulator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Server exposes one Simulator to stream clients, one command line in,
// the resulting reply lines out. All clients drive the same stage.
type Server struct {
	sim   *Simulator
	trace func(dir, line string)
}

// NewServer creates a server for sim. trace may be nil.
func NewServer(sim *Simulator, trace func(dir, line string)) *Server {
	return &Server{sim: sim, trace: trace}
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logger.Info("client connected from %s", conn.RemoteAddr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.handle(ctx, conn)
		}()
	}
}

func (srv *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	var partial string

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		line, err := r.ReadString('\n')
		line = partial + line
		partial = ""
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				partial = line
				continue
			}
			if !errors.Is(err, io.EOF) {
				logger.Warn("connection %s: %v", conn.RemoteAddr(), err)
			}
			logger.Info("client %s disconnected", conn.RemoteAddr())
			return
		}

		if srv.trace != nil {
			srv.trace(">", strings.TrimRight(line, "\r\n"))
		}
		out, err := srv.Exchange(line)
		if err != nil {
			// The real controller has no reply for this either; the
			// client sees a read timeout.
			logger.Warn("command %q: %v", strings.TrimSpace(line), err)
			continue
		}
		if srv.trace != nil {
			for _, l := range strings.SplitAfter(string(out), "\n") {
				if l != "" {
					srv.trace("<", strings.TrimRight(l, "\r\n"))
				}
			}
		}
		if _, err := conn.Write(out); err != nil {
			logger.Warn("write to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// Exchange runs one command against the simulator and returns every reply
// byte it produced.
func (srv *Server) Exchange(line string) ([]byte, error) {
	return srv.sim.exchange([]byte(line))
}
