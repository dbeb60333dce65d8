package control

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagectl/pkg/adc"
	"stagectl/pkg/config"
	"stagectl/pkg/errors"
	"stagectl/pkg/metrics"
	"stagectl/pkg/stage"
	"stagectl/pkg/units"
)

// fakeBackends hands out a fresh fakeAxes per run and records the config
// each run was opened with.
type fakeBackends struct {
	mu     sync.Mutex
	opened []config.Config
	axes   []*fakeAxes
	setup  func(run int, f *fakeAxes)
}

func (b *fakeBackends) openAxes(cfg config.Config) (stage.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := &fakeAxes{}
	if b.setup != nil {
		b.setup(len(b.axes), f)
	}
	b.opened = append(b.opened, cfg)
	b.axes = append(b.axes, f)
	return f, nil
}

func (b *fakeBackends) runs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.axes)
}

func (b *fakeBackends) run(i int) *fakeAxes {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.axes[i]
}

func (b *fakeBackends) cfgAt(i int) config.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened[i]
}

func newTestSupervisor(t *testing.T, cfg config.Config, b *fakeBackends) (*Supervisor, *metrics.StageMetrics, func()) {
	t.Helper()
	m := metrics.NewStageMetrics()
	s := NewSupervisor(NewExecState(config.NewStore(cfg)), m)
	if b != nil {
		s.OpenAxes = b.openAxes
	}
	s.OpenADC = func(config.Config) (adc.Backend, error) {
		return &adc.Mock{Value: [2]float64{1, 2}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return s, m, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("supervisor did not exit")
		}
	}
}

func waitState(t *testing.T, s *Supervisor, want ControlState) SharedState {
	t.Helper()
	var snap SharedState
	require.Eventually(t, func() bool {
		snap = s.State()
		return snap.ControlState == want
	}, 2*time.Second, time.Millisecond, "waiting for %s", want)
	return snap
}

func TestSupervisorStartStop(t *testing.T) {
	b := &fakeBackends{}
	s, m, shutdown := newTestSupervisor(t, testConfig(), b)
	defer shutdown()

	waitState(t, s, Stopped)
	s.Start()
	waitState(t, s, Running)

	s.SetManualTarget(stage.Coax, 1234)
	require.Eventually(t, func() bool {
		return s.State().Position[stage.Coax] == 1234
	}, 2*time.Second, time.Millisecond)

	s.Stop()
	waitState(t, s, Stopped)
	require.Eventually(t, func() bool {
		_, halts, closes := b.run(0).snapshot()
		return halts == 1 && closes == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, b.runs())
	assert.Equal(t, 1.0, m.Restarts.Get(nil))
	assert.Equal(t, [2]float64{1, 2}, s.State().Voltage)
}

func TestSupervisorRestartsAfterError(t *testing.T) {
	b := &fakeBackends{setup: func(run int, f *fakeAxes) {
		if run == 0 {
			f.getErr = errors.TransportError("read", fmt.Errorf("timeout"))
		}
	}}
	cfg := testConfig()
	cfg.ErrorTimeoutMS = 50
	s, m, shutdown := newTestSupervisor(t, cfg, b)
	defer shutdown()

	s.Start()
	snap := waitState(t, s, Error)
	assert.Contains(t, snap.ErrorText(), "timeout")
	assert.False(t, snap.Timestamp.IsZero())
	assert.Equal(t, 1.0, m.Errors.Get(metrics.Labels{"code": string(errors.ErrTransport)}))

	waitState(t, s, Running)
	assert.Equal(t, 2, b.runs())
	assert.Nil(t, s.State().Error)

	s.Stop()
	waitState(t, s, Stopped)
}

func TestSupervisorStopDuringErrorWait(t *testing.T) {
	b := &fakeBackends{setup: func(run int, f *fakeAxes) {
		f.initErr = errors.NotReady(1, "get pos")
	}}
	cfg := testConfig()
	cfg.ErrorTimeoutMS = 0
	s, _, shutdown := newTestSupervisor(t, cfg, b)
	defer shutdown()

	s.Start()
	waitState(t, s, Error)

	// No automatic restart with a zero timeout; start retries at once.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, b.runs())
	s.Start()
	require.Eventually(t, func() bool { return b.runs() == 2 }, 2*time.Second, time.Millisecond)
	waitState(t, s, Error)

	s.Stop()
	waitState(t, s, Stopped)
	assert.Equal(t, 2, b.runs())
}

func TestSupervisorReopensOnModeChange(t *testing.T) {
	b := &fakeBackends{}
	s, m, shutdown := newTestSupervisor(t, testConfig(), b)
	defer shutdown()

	s.Start()
	waitState(t, s, Running)

	cfg := testConfig()
	cfg.LimitMaxCross = 5000
	require.NoError(t, s.SetConfig(cfg))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, b.runs())
	assert.Equal(t, 1.0, m.ConfigChanges.Get(metrics.Labels{"key": "limit_max_cross"}))

	cfg.ControlMode = config.ModeTracking
	cfg.FormulaCross = "v1 + v2"
	require.NoError(t, s.SetConfig(cfg))
	require.Eventually(t, func() bool { return b.runs() == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, config.ModeTracking, b.cfgAt(1).ControlMode)
	assert.Equal(t, uint32(5000), b.cfgAt(1).LimitMaxCross)

	require.Eventually(t, func() bool {
		return s.State().Target[stage.Cross] == 6047
	}, 2*time.Second, time.Millisecond)

	s.Stop()
	waitState(t, s, Stopped)
}

func TestSupervisorModeChangeDuringInit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b := &fakeBackends{setup: func(run int, f *fakeAxes) {
		if run == 0 {
			f.initHook = func(ctx context.Context) {
				close(entered)
				select {
				case <-release:
				case <-ctx.Done():
				}
			}
		}
	}}
	s, _, shutdown := newTestSupervisor(t, testConfig(), b)
	defer shutdown()

	s.Start()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("init not reached")
	}

	cfg := testConfig()
	cfg.ControlMode = config.ModeTracking
	cfg.FormulaCoax = "v1 + v2"
	require.NoError(t, s.SetConfig(cfg))
	close(release)

	require.Eventually(t, func() bool { return b.runs() == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, config.ModeManual, b.cfgAt(0).ControlMode)
	assert.Equal(t, config.ModeTracking, b.cfgAt(1).ControlMode)
	require.Eventually(t, func() bool {
		return s.State().Target[stage.Coax] == units.MMToSteps(3)
	}, 2*time.Second, time.Millisecond)

	s.Stop()
	waitState(t, s, Stopped)
}

func TestSupervisorRejectsInvalidConfig(t *testing.T) {
	s, _, shutdown := newTestSupervisor(t, testConfig(), &fakeBackends{})
	defer shutdown()

	cfg := testConfig()
	cfg.CycleTimeMS = 0
	assert.True(t, errors.Is(s.SetConfig(cfg), errors.ErrConfigValidation))
	assert.Equal(t, 5, s.Exec().Config.Get().CycleTimeMS)
}

func TestSupervisorWithSimulator(t *testing.T) {
	cfg := testConfig()
	cfg.MaxspeedCoax = 20000
	s, _, shutdown := newTestSupervisor(t, cfg, nil)
	defer shutdown()

	s.Start()
	waitState(t, s, Running)
	s.SetManualTarget(stage.Coax, 800)
	s.SetManualTarget(stage.Cross, 300)
	require.Eventually(t, func() bool {
		snap := s.State()
		return snap.Position == [2]uint32{800, 300} && snap.IsBusy == [2]bool{}
	}, 5*time.Second, 5*time.Millisecond)

	s.Stop()
	waitState(t, s, Stopped)
}
