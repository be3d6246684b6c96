package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethpandaops/hwci/pkg/pipeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available configurations",
	Long:  `Print every configuration of the config file with its target, serial device and the steps it would run.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	configs, err := cfg.Resolve(nil)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Name", "Target", "TTY", "Baud", "Tests", "Steps"})

	for _, c := range configs {
		var steps []string

		for _, k := range pipeline.AllSteps() {
			if c.Configured(k) {
				steps = append(steps, k.String())
			}
		}

		t.AppendRow(table.Row{
			c.Name(),
			c.Target,
			c.Device,
			strconv.Itoa(c.BaudRate),
			len(c.Actions),
			strings.Join(steps, ","),
		})
	}

	t.Render()

	return nil
}
