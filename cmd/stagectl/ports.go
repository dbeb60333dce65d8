package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stagectl/pkg/serial"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and their USB details",
		Long: `List serial ports known to the OS. The SERIAL column is what
serial_usb_serial matches against.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PORT\tVID:PID\tSERIAL\tPRODUCT")
			for _, p := range ports {
				if !p.IsUSB {
					fmt.Fprintf(w, "%s\t-\t-\t-\n", p.Name)
					continue
				}
				fmt.Fprintf(w, "%s\t%s:%s\t%s\t%s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
			}
			return w.Flush()
		},
	}
}
