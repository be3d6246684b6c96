package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/hwci/pkg/fsutil"
)

// DefaultMaxMarkdownChars keeps summaries under the GitHub step summary limit.
const DefaultMaxMarkdownChars = 65000

// GenerateMarkdown renders a snapshot as markdown. Failure excerpts come last
// and are dropped once the output would exceed maxChars.
func GenerateMarkdown(snap *Snapshot, maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	fmt.Fprintf(&sb, "# Hardware CI Run: %s\n\n", snap.RunID)

	writeOverview(&sb, snap)
	writeResults(&sb, snap)
	writeSystem(&sb, snap)
	writeFailures(&sb, snap, maxChars)

	return sb.String()
}

func writeOverview(sb *strings.Builder, snap *Snapshot) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	fmt.Fprintf(sb, "| Started | %s |\n", snap.StartTime.UTC().Format("2006-01-02 15:04:05 UTC"))

	if snap.ConfigsFile != "" {
		fmt.Fprintf(sb, "| Configs File | `%s` |\n", snap.ConfigsFile)
	}

	fmt.Fprintf(sb, "| Executed | %d / %d |\n", snap.Summary.Executed, snap.Summary.Total)
	fmt.Fprintf(sb, "| Passed | %d |\n", snap.Summary.Passed)
	fmt.Fprintf(sb, "| Failed | %d |\n", snap.Summary.Failed)
	fmt.Fprintf(sb, "| Total Duration | %s |\n", FormatSeconds(snap.Summary.TotalDuration))

	sb.WriteByte('\n')
}

func writeResults(sb *strings.Builder, snap *Snapshot) {
	sb.WriteString("## Results\n\n")

	sb.WriteString("| Configuration | Target |")
	for _, step := range snap.Steps {
		fmt.Fprintf(sb, " %s |", step)
	}

	sb.WriteString(" Duration |\n|---|---|")
	for range snap.Steps {
		sb.WriteString("---|")
	}

	sb.WriteString("---|\n")

	for _, row := range snap.Rows() {
		fmt.Fprintf(sb, "| %s | %s |", row.Name, row.Entry.Target)

		for _, step := range snap.Steps {
			status := row.Entry.Steps[step]
			fmt.Fprintf(sb, " %s %s |", statusIcon(status), status)
		}

		fmt.Fprintf(sb, " %s |\n", FormatSeconds(row.Entry.Duration))
	}

	sb.WriteByte('\n')
}

func writeSystem(sb *strings.Builder, snap *Snapshot) {
	sys := snap.System
	if sys == nil {
		return
	}

	sb.WriteString("## System\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	if sys.Hostname != "" {
		fmt.Fprintf(sb, "| Hostname | %s |\n", sys.Hostname)
	}

	if sys.CPUModel != "" {
		fmt.Fprintf(sb, "| CPU | %s |\n", sys.CPUModel)
	}

	if sys.MemoryTotalGB > 0 {
		fmt.Fprintf(sb, "| Memory | %.1f GB |\n", sys.MemoryTotalGB)
	}

	if sys.Platform != "" {
		platform := sys.Platform
		if sys.PlatformVersion != "" {
			platform += " " + sys.PlatformVersion
		}

		fmt.Fprintf(sb, "| Platform | %s |\n", platform)
	}

	sb.WriteByte('\n')
}

func writeFailures(sb *strings.Builder, snap *Snapshot, maxChars int) {
	var failures []Row

	for _, row := range snap.Rows() {
		if _, failed := row.Entry.Failed(snap.Steps); failed {
			failures = append(failures, row)
		}
	}

	if len(failures) == 0 {
		return
	}

	sb.WriteString("## Failures\n\n")

	for i, row := range failures {
		step, _ := row.Entry.Failed(snap.Steps)

		var section strings.Builder

		fmt.Fprintf(&section, "### %s: %s %s\n\n", row.Name, step, row.Entry.Steps[step])

		if logPath := row.Entry.Logs[step]; logPath != "" {
			if tail, err := LogTail(logPath, 20); err == nil && tail != "" {
				fmt.Fprintf(&section, "```\n%s\n```\n\n", tail)
			}
		}

		if maxChars > 0 && sb.Len()+section.Len() > maxChars {
			fmt.Fprintf(sb, "_%d more failures omitted._\n", len(failures)-i)

			return
		}

		sb.WriteString(section.String())
	}
}

func statusIcon(s Status) string {
	switch s {
	case StatusSuccess:
		return "✅"
	case StatusNotRun:
		return "➖"
	default:
		return "❌"
	}
}

// MarkdownSink writes GenerateMarkdown output to a file.
type MarkdownSink struct {
	path     string
	maxChars int
	owner    *fsutil.Owner
}

var _ Sink = (*MarkdownSink)(nil)

// NewMarkdownSink creates a markdown sink writing to path.
func NewMarkdownSink(path string, owner *fsutil.Owner) *MarkdownSink {
	return &MarkdownSink{path: path, maxChars: DefaultMaxMarkdownChars, owner: owner}
}

// Name implements Sink.
func (s *MarkdownSink) Name() string { return "markdown" }

// Write implements Sink.
func (s *MarkdownSink) Write(_ context.Context, snap *Snapshot) error {
	md := GenerateMarkdown(snap, s.maxChars)

	if err := fsutil.WriteFileAtomic(s.path, []byte(md), s.owner); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}

	return nil
}
