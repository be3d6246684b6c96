package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/hwci/pkg/report"
	"github.com/spf13/cobra"
)

var generateMarkdownSummaryCmd = &cobra.Command{
	Use:   "generate-markdown-summary",
	Short: "Generate a markdown summary from a report",
	Long:  `Reads a report.json written by a run and produces a markdown summary, e.g. for a CI step summary.`,
	RunE:  runGenerateMarkdownSummary,
}

var (
	mdReport   string
	mdOutput   string
	mdMaxChars int
)

func init() {
	rootCmd.AddCommand(generateMarkdownSummaryCmd)
	generateMarkdownSummaryCmd.Flags().StringVar(&mdReport, "report", "",
		"Path to report.json")
	generateMarkdownSummaryCmd.Flags().StringVar(&mdOutput, "output", "",
		"Output file path (default: summary-<run_id>.md)")
	generateMarkdownSummaryCmd.Flags().IntVar(&mdMaxChars, "max-chars", report.DefaultMaxMarkdownChars,
		"Truncate the failure details to stay under this size")

	if err := generateMarkdownSummaryCmd.MarkFlagRequired("report"); err != nil {
		panic(err)
	}
}

func runGenerateMarkdownSummary(_ *cobra.Command, _ []string) error {
	log.WithField("report", mdReport).Info("Generating markdown summary")

	snap, err := report.ReadSnapshot(mdReport)
	if err != nil {
		return err
	}

	md := report.GenerateMarkdown(snap, mdMaxChars)

	output := mdOutput
	if output == "" {
		output = filepath.Join(filepath.Dir(mdReport), fmt.Sprintf("summary-%s.md", snap.RunID))
	}

	if err := os.WriteFile(output, []byte(md), 0644); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}

	log.WithField("output", output).Info("Markdown summary generated successfully")

	return nil
}
