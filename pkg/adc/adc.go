// Package adc reads the two differential voltages that drive tracking mode.
package adc

import (
	"go.uber.org/multierr"

	"stagectl/pkg/config"
	"stagectl/pkg/errors"
	"stagectl/pkg/log"
)

var logger = log.GetLogger("adc")

// Backend produces one voltage per channel, ordered by channel index.
type Backend interface {
	ReadVoltage() ([2]float64, error)
	Close() error
}

// Mock returns a fixed reading.
type Mock struct {
	Value [2]float64
}

func (m *Mock) ReadVoltage() ([2]float64, error) { return m.Value, nil }
func (m *Mock) Close() error                     { return nil }

// Open selects the backend from cfg: Mock when mock_adc is set, otherwise
// two ADS1115 converters on the configured i2c buses.
func Open(cfg config.Config) (Backend, error) {
	if cfg.MockADC {
		logger.Info("using mock ADC")
		return &Mock{}, nil
	}

	var buses []Bus
	for i, path := range []string{cfg.ADCI2CBus1, cfg.ADCI2CBus2} {
		bus, err := OpenI2C(path, cfg.ADCAddress)
		if err != nil {
			for _, b := range buses {
				err = multierr.Append(err, b.Close())
			}
			return nil, errors.ADCError(i+1, err)
		}
		buses = append(buses, bus)
	}

	d, err := NewDual(NewADS1115(cfg.ADCI2CBus1, buses[0]), NewADS1115(cfg.ADCI2CBus2, buses[1]))
	if err != nil {
		return nil, multierr.Append(err, multierr.Combine(buses[0].Close(), buses[1].Close()))
	}
	return d, nil
}
