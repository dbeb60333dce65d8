//go:build linux

package adc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// i2cSlave is the i2c-dev ioctl that binds a handle to a target address.
const i2cSlave = 0x0703

// I2CBus is an i2c-dev handle bound to one target address.
type I2CBus struct {
	fd   int
	path string
}

// OpenI2C opens an i2c-dev node such as /dev/i2c-1 for address addr.
func OpenI2C(path string, addr int) (*I2CBus, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(fd, i2cSlave, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("i2c: set address 0x%02x on %s: %w", addr, path, err)
	}
	return &I2CBus{fd: fd, path: path}, nil
}

func (b *I2CBus) Read(p []byte) (int, error) {
	return unix.Read(b.fd, p)
}

func (b *I2CBus) Write(p []byte) (int, error) {
	return unix.Write(b.fd, p)
}

// Close closes the handle.
func (b *I2CBus) Close() error {
	return unix.Close(b.fd)
}
