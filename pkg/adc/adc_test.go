package adc

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagectl/pkg/config"
	"stagectl/pkg/errors"
)

// fakeBus emulates the ADS1115 register file.
type fakeBus struct {
	mu         sync.Mutex
	pointer    byte
	config     uint16
	index      int16 // AIN2-AIN3 reading
	continuous int16 // AIN0-AIN1 reading
	conversion int16
	pending    int // config reads before a single-shot completes
	readErr    error
	writes     []uint16
	closed     bool
}

func (b *fakeBus) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pointer = p[0]
	if len(p) == 3 && p[0] == regConfig {
		v := uint16(p[1])<<8 | uint16(p[2])
		b.writes = append(b.writes, v)
		b.config = v &^ configOSReady
		if v == configSingleA2A3 {
			b.conversion = b.index
		} else {
			b.conversion = b.continuous
		}
	}
	return len(p), nil
}

func (b *fakeBus) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return 0, b.readErr
	}
	var v uint16
	switch b.pointer {
	case regConfig:
		if b.pending > 0 {
			b.pending--
		} else {
			b.config |= configOSReady
		}
		v = b.config
	case regConversion:
		v = uint16(b.conversion)
	}
	p[0], p[1] = byte(v>>8), byte(v)
	return 2, nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func TestRawToVoltage(t *testing.T) {
	assert.Equal(t, 0.0, RawToVoltage(0))
	assert.InDelta(t, 4.069, RawToVoltage(32767), 1e-12)
	assert.InDelta(t, -4.069, RawToVoltage(-32767), 1e-12)
	assert.InDelta(t, 2.0345, RawToVoltage(16383), 1e-3)
}

func TestProbeIndex(t *testing.T) {
	tests := []struct {
		raw  int16
		want int
	}{
		{-300, 1},
		{0, 1},
		{9, 1},
		{10, 2},
		{12000, 2},
	}
	for _, tt := range tests {
		bus := &fakeBus{index: tt.raw, pending: 2}
		idx, err := NewADS1115("test", bus).ProbeIndex()
		require.NoError(t, err)
		assert.Equal(t, tt.want, idx, "raw %d", tt.raw)
		assert.Equal(t, []uint16{configSingleA2A3}, bus.writes)
	}
}

func TestProbeIndexTimeout(t *testing.T) {
	old := conversionPoll
	conversionPoll = time.Microsecond
	defer func() { conversionPoll = old }()

	bus := &fakeBus{pending: conversionAttempts + 1}
	_, err := NewADS1115("slow", bus).ProbeIndex()
	assert.Error(t, err)
}

func TestReadVoltage(t *testing.T) {
	bus := &fakeBus{continuous: -8192}
	a := NewADS1115("a", bus)
	require.NoError(t, a.StartContinuous())

	raw, err := a.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, int16(-8192), raw)

	v, err := a.ReadVoltage()
	require.NoError(t, err)
	assert.InDelta(t, -8192*4.069/32767, v, 1e-12)
}

func TestDualOrdersByIndex(t *testing.T) {
	first := &fakeBus{index: 500, continuous: 1000}
	second := &fakeBus{index: 2, continuous: 2000}

	d, err := NewDual(NewADS1115("first", first), NewADS1115("second", second))
	require.NoError(t, err)
	assert.Equal(t, []uint16{configSingleA2A3, configContinuousA0A1}, first.writes)

	v, err := d.ReadVoltage()
	require.NoError(t, err)
	assert.InDelta(t, RawToVoltage(2000), v[0], 1e-12)
	assert.InDelta(t, RawToVoltage(1000), v[1], 1e-12)

	require.NoError(t, d.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestDualRejectsDuplicateIndex(t *testing.T) {
	_, err := NewDual(NewADS1115("a", &fakeBus{index: 0}), NewADS1115("b", &fakeBus{index: 1}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrADC))
}

func TestDualBothReadsMustSucceed(t *testing.T) {
	good := &fakeBus{index: 0, continuous: 100}
	bad := &fakeBus{index: 50, continuous: 100}
	d, err := NewDual(NewADS1115("good", good), NewADS1115("bad", bad))
	require.NoError(t, err)

	bad.mu.Lock()
	bad.readErr = fmt.Errorf("bus error")
	bad.mu.Unlock()

	v, err := d.ReadVoltage()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrADC))
	assert.Equal(t, [2]float64{}, v)
}

func TestMock(t *testing.T) {
	m := &Mock{}
	v, err := m.ReadVoltage()
	require.NoError(t, err)
	assert.Equal(t, [2]float64{0, 0}, v)

	m.Value = [2]float64{2, 5}
	v, _ = m.ReadVoltage()
	assert.Equal(t, [2]float64{2, 5}, v)
	assert.NoError(t, m.Close())
}

func TestOpen(t *testing.T) {
	cfg := config.Default()
	cfg.MockADC = true
	b, err := Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Mock{}, b)

	cfg.MockADC = false
	cfg.ADCI2CBus1 = "/nonexistent/i2c-9"
	_, err = Open(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrADC))
}
