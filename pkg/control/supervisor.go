package control

import (
	"context"
	"slices"
	"time"

	"stagectl/pkg/adc"
	"stagectl/pkg/config"
	"stagectl/pkg/errors"
	"stagectl/pkg/metrics"
	"stagectl/pkg/stage"
)

// Supervisor owns the control goroutine. It waits for a start signal,
// opens and initialises the backends, runs the control loop and restarts
// it after a failure once the error timeout has passed.
type Supervisor struct {
	exec    *ExecState
	metrics *metrics.StageMetrics
	start   chan struct{}

	// OpenAxes and OpenADC select the backends for a run.
	OpenAxes func(cfg config.Config) (stage.Device, error)
	OpenADC  func(cfg config.Config) (adc.Backend, error)
}

// NewSupervisor creates a supervisor around exec. m may be nil.
func NewSupervisor(exec *ExecState, m *metrics.StageMetrics) *Supervisor {
	s := &Supervisor{
		exec:    exec,
		metrics: m,
		start:   make(chan struct{}, 1),
		OpenAxes: func(cfg config.Config) (stage.Device, error) {
			return stage.Open(cfg)
		},
		OpenADC: adc.Open,
	}
	exec.Config.Subscribe(s.configChanged)
	return s
}

// Exec returns the execution state.
func (s *Supervisor) Exec() *ExecState { return s.exec }

// State returns the published snapshot.
func (s *Supervisor) State() SharedState { return s.exec.Out.Snapshot() }

// Start requests a run. Repeated requests collapse into one.
func (s *Supervisor) Start() {
	select {
	case s.start <- struct{}{}:
	default:
	}
}

// Stop ends the current run or aborts initialisation.
func (s *Supervisor) Stop() { s.exec.Stop() }

// SetConfig validates cfg and makes it active. A running loop only picks
// it up when the control mode changes or on the next start.
func (s *Supervisor) SetConfig(cfg config.Config) error {
	_, err := s.exec.Config.Replace(cfg)
	return err
}

// SetManualTarget sets the manual-mode target of axis in microsteps.
func (s *Supervisor) SetManualTarget(axis int, target uint32) {
	s.exec.Manual.Set(axis, target)
}

// Run serves start and stop requests until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.setState(Stopped, nil)
		logger.Debug("waiting for start")
		select {
		case <-ctx.Done():
			return nil
		case <-s.start:
		}
		logger.Debug("start received")
		s.exec.DrainStop()
		s.drainStart()

		for {
			err := s.session(ctx)
			if err == nil || ctx.Err() != nil {
				break
			}
			s.fail(err)
			if !s.waitRetry(ctx) {
				break
			}
			logger.Info("restarting control")
		}
		if ctx.Err() != nil {
			s.setState(Stopped, nil)
			return nil
		}
	}
}

// session opens the backends for the configured mode and runs the loop,
// reopening them whenever the mode changes. It returns nil when stopped.
func (s *Supervisor) session(ctx context.Context) error {
	for {
		err := s.runBackends(ctx, s.exec.Config.Get())
		if err != ErrModeChanged {
			return err
		}
	}
}

func (s *Supervisor) runBackends(ctx context.Context, cfg config.Config) (err error) {
	defer func() { err = errors.RecoverPanic(recover(), err) }()

	s.setState(Init, nil)
	s.metrics.RecordRestart()

	axes, err := s.OpenAxes(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := axes.Close(); cerr != nil {
			logger.Warn("closing motion controller: %v", cerr)
		}
	}()

	adcs, err := s.OpenADC(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := adcs.Close(); cerr != nil {
			logger.Warn("closing ADC: %v", cerr)
		}
	}()

	stopped, err := s.initAxes(ctx, axes, cfg)
	if err != nil || stopped {
		return err
	}

	conv, err := NewConversion(cfg, s.exec.Manual)
	if err != nil {
		return err
	}

	err = RunControlLoop(ctx, s.exec, cfg, axes, adcs, conv, s.metrics)
	if err == nil || ctx.Err() != nil {
		if herr := axes.Halt(); herr != nil {
			logger.Warn("halting axes: %v", herr)
		}
	}
	return err
}

// initAxes runs Init, cancelling it when a stop is requested.
func (s *Supervisor) initAxes(ctx context.Context, axes stage.Device, cfg config.Config) (stopped bool, err error) {
	initCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-s.exec.stop:
			stopped = true
			cancel()
		case <-initCtx.Done():
		}
	}()

	err = axes.Init(initCtx, cfg)
	cancel()
	<-done

	if stopped {
		logger.Info("initialisation aborted by stop")
		if herr := axes.Halt(); herr != nil {
			logger.Warn("halting axes: %v", herr)
		}
		return true, nil
	}
	return false, err
}

func (s *Supervisor) configChanged(cfg config.Config, changed []string) {
	for _, key := range changed {
		s.metrics.RecordConfigChange(key)
	}
	if s.State().ControlState == Running && !slices.Contains(changed, "control_mode") {
		logger.Info("%v apply from the next start", changed)
	}
}

func (s *Supervisor) fail(err error) {
	logger.WithError(err).Error("control error")
	code := "unknown"
	if c, ok := errors.CodeOf(err); ok {
		code = string(c)
	}
	s.metrics.RecordError(code)
	s.setState(Error, err)
}

// waitRetry waits out the error timeout. It reports false when a stop or
// ctx ends the wait; a start request retries immediately.
func (s *Supervisor) waitRetry(ctx context.Context) bool {
	var expired <-chan time.Time
	if d := s.exec.Config.Get().ErrorTimeout(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-expired:
		return true
	case <-s.start:
		s.exec.DrainStop()
		return true
	case <-s.exec.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) setState(state ControlState, err error) {
	s.exec.SetState(state, err)
	s.metrics.SetControlState(state.String())
	s.exec.Publish()
}

func (s *Supervisor) drainStart() {
	for {
		select {
		case <-s.start:
		default:
			return
		}
	}
}
