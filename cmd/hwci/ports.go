package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/hwci/pkg/serialtest"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long:  `List the serial ports of this host, with USB identifiers where available, to help fill in tty settings.`,
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := serialtest.ListPorts()
	if err != nil {
		return fmt.Errorf("listing serial ports: %w", err)
	}

	if len(ports) == 0 {
		log.Info("No serial ports found")

		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Port", "USB", "VID:PID", "Serial", "Product"})

	for _, p := range ports {
		id := ""
		if p.IsUSB {
			id = p.VID + ":" + p.PID
		}

		t.AppendRow(table.Row{p.Name, p.IsUSB, id, p.SerialNumber, p.Product})
	}

	t.Render()

	return nil
}
