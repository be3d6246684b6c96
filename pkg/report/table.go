package report

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TableSink prints the snapshot as a terminal table. It is meant for the
// final summary rather than per-step flushes.
type TableSink struct {
	out io.Writer
}

var _ Sink = (*TableSink)(nil)

// NewTableSink creates a table sink printing to out.
func NewTableSink(out io.Writer) *TableSink {
	return &TableSink{out: out}
}

// Name implements Sink.
func (s *TableSink) Name() string { return "table" }

// Write implements Sink.
func (s *TableSink) Write(_ context.Context, snap *Snapshot) error {
	t := table.NewWriter()
	t.SetOutputMirror(s.out)
	t.SetTitle(fmt.Sprintf("Hardware CI Results (%s)", FormatSeconds(snap.Summary.TotalDuration)))

	header := table.Row{"Configuration", "Target"}
	for _, step := range snap.Steps {
		header = append(header, step)
	}

	header = append(header, "Duration")
	t.AppendHeader(header)

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Configuration", WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, row := range snap.Rows() {
		r := table.Row{row.Name, row.Entry.Target}
		for _, step := range snap.Steps {
			r = append(r, row.Entry.Steps[step].String())
		}

		r = append(r, FormatSeconds(row.Entry.Duration))
		t.AppendRow(r)
	}

	footer := table.Row{"TOTAL", fmt.Sprintf("%d/%d executed", snap.Summary.Executed, snap.Summary.Total)}
	for range snap.Steps {
		footer = append(footer, "")
	}

	footer = append(footer, FormatSeconds(snap.Summary.TotalDuration))
	t.AppendFooter(footer)

	if snap.HasFailures() {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.Render()

	return nil
}
