package adc

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"stagectl/pkg/errors"
)

// Dual reads two converters concurrently. Both reads must succeed.
type Dual struct {
	adcs [2]*ADS1115
}

// NewDual probes both converters, orders them by their index strapping
// and starts continuous conversion.
func NewDual(a, b *ADS1115) (*Dual, error) {
	idxA, err := a.ProbeIndex()
	if err != nil {
		return nil, errors.ADCError(1, err)
	}
	idxB, err := b.ProbeIndex()
	if err != nil {
		return nil, errors.ADCError(2, err)
	}

	var d Dual
	switch {
	case idxA == 1 && idxB == 2:
		d.adcs = [2]*ADS1115{a, b}
	case idxA == 2 && idxB == 1:
		d.adcs = [2]*ADS1115{b, a}
	default:
		return nil, errors.ADCError(0, fmt.Errorf("invalid index strapping: %s=%d %s=%d", a.Name(), idxA, b.Name(), idxB))
	}

	for i, adc := range d.adcs {
		if err := adc.StartContinuous(); err != nil {
			return nil, errors.ADCError(i+1, err)
		}
	}
	logger.Info("ADC channel 1 on %s, channel 2 on %s", d.adcs[0].Name(), d.adcs[1].Name())
	return &d, nil
}

// ReadVoltage reads both channels in parallel.
func (d *Dual) ReadVoltage() ([2]float64, error) {
	var out [2]float64
	var g errgroup.Group
	for i, adc := range d.adcs {
		g.Go(func() error {
			v, err := adc.ReadVoltage()
			if err != nil {
				return errors.ADCError(i+1, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return [2]float64{}, err
	}
	return out, nil
}

// Close releases both buses.
func (d *Dual) Close() error {
	return multierr.Combine(d.adcs[0].Close(), d.adcs[1].Close())
}
