package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stagectl/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}

	var format string
	printDefault := &cobra.Command{
		Use:   "print-default",
		Short: "Print the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.FormatOf("config." + format)
			if err != nil {
				return err
			}
			data, err := config.Encode(config.Default(), f)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	printDefault.Flags().StringVar(&format, "format", "toml", "output format: toml or yaml")

	validate := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (mode %s, cycle %v)\n", args[0], cfg.ControlMode, cfg.CycleTime())
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init <file>",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(printDefault, validate, initCmd)
	return cmd
}
