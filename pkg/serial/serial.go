// Package serial provides the byte transport to the motion controller: a raw
// termios serial port, or a unix socket served by the mock controller.
package serial

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// SocketPrefix marks a device path as a unix socket instead of a tty.
const SocketPrefix = "unix:"

type timeoutError struct{}

func (timeoutError) Error() string   { return "serial: operation timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// Common errors
var (
	ErrTimeout error = timeoutError{}
	ErrClosed        = errors.New("serial: port closed")
)

// IsTimeout reports whether err is a read timeout from any transport.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., /dev/ttyACM0) or "unix:/path/to/socket"
	Device string

	// Baud rate (default: 115200, the controller's factory setting)
	BaudRate int

	// Per-read timeout (default: 1 second)
	ReadTimeout time.Duration

	// How long OpenSocket retries a missing socket (default: 5 seconds)
	ConnectTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BaudRate:       115200,
		ReadTimeout:    time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

// Port is an open serial line or socket.
type Port struct {
	mu         sync.Mutex
	fd         int
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
	isSocket   bool
}

// OpenDevice opens cfg.Device, dispatching on the unix: prefix.
func OpenDevice(cfg Config) (*Port, error) {
	if path, ok := strings.CutPrefix(cfg.Device, SocketPrefix); ok {
		cfg.Device = path
		return OpenSocket(cfg)
	}
	return Open(cfg)
}

// Open opens a serial port in raw 8N1 mode.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	cfg = withDefaults(cfg)

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	termios := *oldTermios
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	speed, err := baudRateToSpeed(cfg.BaudRate)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	setSpeed(&termios, speed)

	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	return &Port{
		fd:         fd,
		device:     cfg.Device,
		config:     cfg,
		oldTermios: oldTermios,
	}, nil
}

// OpenSocket connects to a unix stream socket, retrying while the socket
// does not exist yet or refuses connections.
func OpenSocket(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: socket path required")
	}
	cfg = withDefaults(cfg)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: create socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: cfg.Device}

	deadline := time.Now().Add(cfg.ConnectTimeout)
	var connectErr error
	for {
		connectErr = unix.Connect(fd, addr)
		if connectErr == nil {
			break
		}
		retry := errors.Is(connectErr, unix.ENOENT) || errors.Is(connectErr, unix.ECONNREFUSED)
		if !retry || time.Now().After(deadline) {
			unix.Close(fd)
			return nil, fmt.Errorf("serial: connect to %s: %w", cfg.Device, connectErr)
		}
		time.Sleep(100 * time.Millisecond)
	}

	return &Port{
		fd:       fd,
		device:   SocketPrefix + cfg.Device,
		config:   cfg,
		isSocket: true,
	}, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.BaudRate == 0 {
		cfg.BaudRate = def.BaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	return cfg
}

// IsSocket returns true if this port is a unix socket.
func (p *Port) IsSocket() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isSocket
}

// Read waits up to the read timeout for data. It returns ErrTimeout when
// nothing arrives in time.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	timeout := p.config.ReadTimeout
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	if n == 0 && pfd[0].Revents&unix.POLLHUP != 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes all of buf to the port.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	written := 0
	for written < len(buf) {
		n, err := unix.Write(fd, buf[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return written, fmt.Errorf("serial: write: %w", err)
		}
		written += n
	}
	return written, nil
}

// Close restores the original line settings and closes the descriptor.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.oldTermios != nil && !p.isSocket {
		_ = unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}
	return unix.Close(p.fd)
}

// Device returns the device path.
func (p *Port) Device() string {
	return p.device
}

func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.config.ReadTimeout = d
	p.mu.Unlock()
}

// Flush discards unread input. Sockets have no kernel queue to flush.
func (p *Port) Flush() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	fd := p.fd
	socket := p.isSocket
	p.mu.Unlock()

	if socket {
		return nil
	}
	return unix.IoctlSetInt(fd, ioctlTCFlush, unix.TCIFLUSH)
}

// baudRateToSpeed converts a baud rate to a termios speed constant.
func baudRateToSpeed(baud int) (uint32, error) {
	speeds := map[int]uint32{
		9600:   unix.B9600,
		19200:  unix.B19200,
		38400:  unix.B38400,
		57600:  unix.B57600,
		115200: unix.B115200,
		230400: unix.B230400,
	}
	if speed, ok := speeds[baud]; ok {
		return speed, nil
	}
	return 0, fmt.Errorf("serial: unsupported baud rate %d on %s", baud, runtime.GOOS)
}
