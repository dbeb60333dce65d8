//go:build !linux

package adc

import "fmt"

// I2CBus is unavailable outside Linux.
type I2CBus struct{}

// OpenI2C always fails outside Linux.
func OpenI2C(path string, addr int) (*I2CBus, error) {
	return nil, fmt.Errorf("i2c: %s: i2c-dev is only supported on linux", path)
}

func (b *I2CBus) Read(p []byte) (int, error)  { return 0, fmt.Errorf("i2c: unsupported") }
func (b *I2CBus) Write(p []byte) (int, error) { return 0, fmt.Errorf("i2c: unsupported") }
func (b *I2CBus) Close() error                { return nil }
