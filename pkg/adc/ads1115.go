// ADS1115 16-bit I2C ADC
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package adc

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Bus is an i2c handle already bound to the converter's address.
type Bus interface {
	io.ReadWriteCloser
}

// Register addresses.
const (
	regConversion = 0x00
	regConfig     = 0x01
)

// Config register values.
const (
	// Continuous conversion of AIN0-AIN1, +/-4.096V, 128 SPS, comparator off.
	configContinuousA0A1 = 0x0283
	// One conversion of AIN2-AIN3, +/-2.048V, 128 SPS, comparator off.
	configSingleA2A3 = 0xB583

	configOSReady = 0x8000
)

// FullScale is the volts per full-scale count used by RawToVoltage.
const FullScale = 4.069

// indexThreshold splits index readings: below it the board is channel 1.
const indexThreshold = 10

var (
	conversionPoll     = 2 * time.Millisecond
	conversionAttempts = 50
)

// RawToVoltage converts a conversion register value to volts.
func RawToVoltage(raw int16) float64 {
	return float64(raw) * FullScale / 32767.0
}

// ADS1115 drives one converter.
type ADS1115 struct {
	mu   sync.Mutex
	name string
	bus  Bus
}

// NewADS1115 wraps bus. name is used in log messages.
func NewADS1115(name string, bus Bus) *ADS1115 {
	return &ADS1115{name: name, bus: bus}
}

// Name returns the converter name.
func (a *ADS1115) Name() string {
	return a.name
}

// ProbeIndex converts AIN2-AIN3 once; the board strapping there tells
// which channel this converter measures.
func (a *ADS1115) ProbeIndex() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writeRegister(regConfig, configSingleA2A3); err != nil {
		return 0, err
	}
	ready := false
	for i := 0; i < conversionAttempts; i++ {
		cfg, err := a.readRegister(regConfig)
		if err != nil {
			return 0, err
		}
		if cfg&configOSReady != 0 {
			ready = true
			break
		}
		time.Sleep(conversionPoll)
	}
	if !ready {
		return 0, fmt.Errorf("ads1115 %s: index conversion did not complete", a.name)
	}

	raw, err := a.readRegister(regConversion)
	if err != nil {
		return 0, err
	}
	logger.Debug("%s: index value %d", a.name, int16(raw))
	if int16(raw) < indexThreshold {
		return 1, nil
	}
	return 2, nil
}

// StartContinuous switches to continuous AIN0-AIN1 conversion.
func (a *ADS1115) StartContinuous() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeRegister(regConfig, configContinuousA0A1)
}

// ReadRaw returns the latest conversion.
func (a *ADS1115) ReadRaw() (int16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, err := a.readRegister(regConversion)
	return int16(v), err
}

// ReadVoltage returns the latest conversion in volts.
func (a *ADS1115) ReadVoltage() (float64, error) {
	raw, err := a.ReadRaw()
	if err != nil {
		return 0, err
	}
	v := RawToVoltage(raw)
	logger.Debug("%s: voltage %.4f", a.name, v)
	return v, nil
}

// Close releases the bus.
func (a *ADS1115) Close() error {
	return a.bus.Close()
}

func (a *ADS1115) writeRegister(reg byte, value uint16) error {
	buf := []byte{reg, byte(value >> 8), byte(value)}
	if _, err := a.bus.Write(buf); err != nil {
		return fmt.Errorf("ads1115 %s: write register %d: %w", a.name, reg, err)
	}
	return nil
}

// readRegister sets the pointer register and reads two bytes, MSB first.
func (a *ADS1115) readRegister(reg byte) (uint16, error) {
	if _, err := a.bus.Write([]byte{reg}); err != nil {
		return 0, fmt.Errorf("ads1115 %s: select register %d: %w", a.name, reg, err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(a.bus, buf); err != nil {
		return 0, fmt.Errorf("ads1115 %s: read register %d: %w", a.name, reg, err)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}
