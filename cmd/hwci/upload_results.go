package main

import (
	"fmt"
	"path/filepath"

	"github.com/ethpandaops/hwci/pkg/report"
	"github.com/ethpandaops/hwci/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	uploadResultDir string
	uploadRunID     string
	uploadList      bool
)

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload results to remote storage",
	Long: `Upload a local results directory to S3-compatible storage using the config
file settings. The run id defaults to the one recorded in the report.`,
	RunE: runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringVar(&uploadResultDir, "result-dir", "",
		"Results directory to upload (default: runner.results_dir)")
	uploadResultsCmd.Flags().StringVar(&uploadRunID, "run-id", "",
		"Remote run name (default: run id from the report)")
	uploadResultsCmd.Flags().BoolVar(&uploadList, "list", false,
		"List uploaded runs instead of uploading")
}

func runUploadResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.Runner.Upload.Enabled() {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	uploader := upload.NewS3Uploader(log, cfg.Runner.Upload.S3)
	ctx := cmd.Context()

	if uploadList {
		names, err := uploader.List(ctx)
		if err != nil {
			return err
		}

		for _, name := range names {
			fmt.Println(name)
		}

		return nil
	}

	dir := uploadResultDir
	if dir == "" {
		dir = cfg.Runner.ResultsDir
	}

	runID := uploadRunID

	var snap *report.Snapshot

	if s, err := report.ReadSnapshot(filepath.Join(dir, cfg.Runner.Report.JSON)); err == nil {
		snap = s
	}

	if runID == "" {
		if snap == nil {
			return fmt.Errorf("no report found in %s, pass --run-id", dir)
		}

		runID = snap.RunID
	}

	log.WithField("dir", dir).WithField("run_id", runID).Info("Uploading results")

	n, err := uploader.Upload(ctx, dir, runID, nil)
	if err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	if snap != nil {
		for _, row := range snap.Rows() {
			if row.Entry.OutputDir == "" {
				continue
			}

			logs, err := uploader.Upload(ctx, row.Entry.OutputDir, runID+"/logs/"+row.Name, upload.LogsOnly)
			if err != nil {
				return fmt.Errorf("uploading logs of %s: %w", row.Name, err)
			}

			n += logs
		}
	}

	log.WithField("files", n).Info("Upload completed successfully")

	return nil
}
