// stagectl runs the two-axis stage controller and its maintenance tools.
//
// Usage:
//
//	stagectl run -c config.toml [options]
//	stagectl send [-d device] "/1 get pos"
//	stagectl ports
//	stagectl config print-default|validate
//
// Examples:
//
//	# Run against the built-in simulator and start immediately
//	stagectl run --mock --autostart
//
//	# Run tracking mode with metrics on :9102
//	stagectl run -c /etc/stagectl/config.toml --mode tracking --metrics :9102
//
//	# Talk to a stage served by mock-stage
//	stagectl send -d unix:/tmp/stage.sock "/get pos"
package main

import (
	"os"

	"github.com/spf13/cobra"

	"stagectl/pkg/log"
)

var version = "dev"

var (
	logLevel  string
	logFormat string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stagectl",
		Short: "Control a two-axis stage from measured voltages",
		Long: `stagectl drives a coax/cross stage over the ASCII motion-controller
protocol. Targets come from operator input (Manual) or from formulas over
two ADC voltages (Tracking).`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging()
		},
	}
	root.SetVersionTemplate(`{{printf "stagectl version %s\n" .Version}}`)
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default from STAGE_LOG_LEVEL)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default from STAGE_LOG_FORMAT)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newPortsCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func configureLogging() {
	root := log.GetLogger("")
	if logLevel != "" {
		root.SetLevel(log.ParseLevel(logLevel))
	}
	switch logFormat {
	case "json":
		root.SetFormat(log.FormatJSON)
	case "text":
		root.SetFormat(log.FormatText)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
