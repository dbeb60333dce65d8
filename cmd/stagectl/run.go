package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stagectl/pkg/config"
	"stagectl/pkg/control"
	"stagectl/pkg/log"
	"stagectl/pkg/metrics"
	"stagectl/pkg/stage"
)

var logger = log.GetLogger("main")

type runOptions struct {
	configPath     string
	mock           bool
	mode           string
	metricsAddr    string
	autostart      bool
	targets        []uint
	statusInterval time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller until interrupted",
		Long: `Run the supervisor and control loop.

Signals: SIGINT/SIGTERM shut down, SIGHUP reloads the config file,
SIGUSR1 starts a run and SIGUSR2 stops it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runController(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "config.toml", "config file (.toml, .yaml); defaults are used if it is missing")
	f.BoolVar(&opts.mock, "mock", false, "use the simulated motion controller and mock ADC")
	f.StringVar(&opts.mode, "mode", "", "override control_mode: manual or tracking")
	f.StringVar(&opts.metricsAddr, "metrics", "", "override metrics_address, e.g. :9102")
	f.BoolVar(&opts.autostart, "autostart", false, "start a run immediately")
	f.UintSliceVar(&opts.targets, "target", nil, "initial manual targets in microsteps: coax,cross")
	f.DurationVar(&opts.statusInterval, "status-interval", 0, "log the published state at this interval (0 disables)")
	return cmd
}

// apply overrides file settings with command-line flags.
func (o runOptions) apply(cfg *config.Config) error {
	if o.mock {
		cfg.MockZaber = true
		cfg.MockADC = true
	}
	if o.mode != "" {
		mode, err := config.ParseMode(o.mode)
		if err != nil {
			return err
		}
		cfg.ControlMode = mode
	}
	if o.metricsAddr != "" {
		cfg.MetricsAddress = o.metricsAddr
	}
	return cfg.Validate()
}

func (o runOptions) load() (config.Config, error) {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return cfg, err
	}
	return cfg, o.apply(&cfg)
}

func runController(ctx context.Context, opts runOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	store := config.NewStore(cfg)
	sm := metrics.NewStageMetrics()
	sup := control.NewSupervisor(control.NewExecState(store), sm)
	for i, t := range opts.targets {
		if i > stage.Cross {
			break
		}
		sup.SetManualTarget(i, uint32(t))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	logger.Info("stagectl %s starting: mode=%s mock_zaber=%v mock_adc=%v",
		version, cfg.ControlMode, cfg.MockZaber, cfg.MockADC)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(ctx) })
	if cfg.MetricsAddress != "" {
		srv := metrics.NewServer(sm, cfg.MetricsAddress)
		g.Go(func() error { return srv.ListenAndServe(ctx) })
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig := <-sigs:
				handleSignal(sig, opts, store, sup)
			}
		}
	})
	if opts.statusInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(opts.statusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					logger.Info("state %s", sup.State())
				}
			}
		})
	}

	if opts.autostart {
		sup.Start()
	}
	err = g.Wait()
	logger.Info("stagectl stopped")
	return err
}

func handleSignal(sig os.Signal, opts runOptions, store *config.Store, sup *control.Supervisor) {
	switch sig {
	case syscall.SIGHUP:
		cfg, err := config.Load(opts.configPath)
		if err == nil {
			err = opts.apply(&cfg)
		}
		if err != nil {
			logger.WithError(err).Error("reload %s failed, keeping the active config", opts.configPath)
			return
		}
		changed, err := store.Replace(cfg)
		if err != nil {
			logger.WithError(err).Error("reload rejected")
			return
		}
		if len(changed) == 0 {
			logger.Info("reload: no changes")
		}
	case syscall.SIGUSR1:
		logger.Info("start requested")
		sup.Start()
	case syscall.SIGUSR2:
		logger.Info("stop requested")
		sup.Stop()
	}
}
