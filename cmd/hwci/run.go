package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethpandaops/hwci/pkg/config"
	"github.com/ethpandaops/hwci/pkg/fsutil"
	"github.com/ethpandaops/hwci/pkg/history"
	"github.com/ethpandaops/hwci/pkg/metrics"
	"github.com/ethpandaops/hwci/pkg/pipeline"
	"github.com/ethpandaops/hwci/pkg/procrunner"
	"github.com/ethpandaops/hwci/pkg/report"
	"github.com/ethpandaops/hwci/pkg/serialtest"
	"github.com/ethpandaops/hwci/pkg/sysinfo"
	"github.com/ethpandaops/hwci/pkg/upload"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const configSnapshotFile = "config.yaml"

var (
	onlyConfigs []string
	onlySteps   []string
	failOnError bool
	skipUpload  bool
)

var errInterrupted = errors.New("run interrupted")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build, load and test the configurations",
	Long: `Run the pipeline of every selected configuration in file order:
setup, gateware build, software build, load, serial test and exit.
The report is rewritten after every step.`,
	RunE: runHardwareCI,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSliceVar(&onlyConfigs, "only", nil,
		"Limit to these configurations (comma-separated or repeated flag)")
	runCmd.Flags().StringSliceVar(&onlySteps, "steps", nil,
		"Limit to these steps, e.g. test,exit ("+pipeline.Selection{}.String()+")")
	runCmd.Flags().BoolVar(&failOnError, "fail-on-error", false,
		"Exit non-zero if any configuration recorded an error")
	runCmd.Flags().BoolVar(&skipUpload, "skip-upload", false,
		"Do not upload results even if upload is configured")
}

func runHardwareCI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	owner, err := fsutil.ParseOwner(cfg.Runner.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	selection, err := pipeline.ParseSelection(onlySteps)
	if err != nil {
		return fmt.Errorf("parsing --steps: %w", err)
	}

	configs, err := cfg.Resolve(onlyConfigs)
	if err != nil {
		return fmt.Errorf("resolving configurations: %w", err)
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	go watchSignals(ctx, sigCh, cancel, os.Exit)

	if err := fsutil.MkdirAll(cfg.Runner.ResultsDir, owner); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}

	runID := newRunID(time.Now())

	store := report.NewStore(runID, pipeline.StepNames(), time.Now().UTC(), cfg.Path())

	for _, c := range configs {
		if err := store.Register(c.Name(), c.Target, c.OutputDir); err != nil {
			return fmt.Errorf("registering configuration: %w", err)
		}
	}

	if info, err := sysinfo.Collect(ctx); err != nil {
		log.WithError(err).Warn("Failed to collect system info")
	} else {
		store.SetSystem(info)
	}

	publisher, closeSinks, err := buildPublisher(ctx, cfg, owner)
	if err != nil {
		return err
	}
	defer closeSinks()

	var uploader upload.Uploader

	if cfg.Runner.Upload.Enabled() && !skipUpload {
		uploader = upload.NewS3Uploader(log, cfg.Runner.Upload.S3)

		// Fail fast: verify S3 is reachable and writable before touching hardware.
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("S3 upload preflight check failed: %w", err)
		}

		log.Info("S3 upload preflight check passed")
	}

	recorder := report.NewRecorder(store, publisher)
	recorder.Flush(ctx)

	procs := procrunner.New(log, &procrunner.Config{
		Console:       os.Stdout,
		ConsolePrefix: *cfg.Runner.ConsolePrefix,
		Owner:         owner,
	})

	engine := serialtest.NewEngine(log, &serialtest.Config{
		Console: os.Stdout,
		Owner:   owner,
	})

	p := pipeline.New(log, &pipeline.Config{
		Selection:  selection,
		AlwaysExit: cfg.Runner.AlwaysExit,
		Owner:      owner,
	}, procs, engine, recorder)

	log.WithFields(logrus.Fields{
		"run_id":         runID,
		"configurations": len(configs),
		"steps":          selection.String(),
	}).Info("Starting run")

	interrupted := executeRun(ctx, p, recorder, configs)

	snap := store.Snapshot()

	if err := report.NewTableSink(os.Stdout).Write(context.WithoutCancel(ctx), snap); err != nil {
		log.WithError(err).Warn("Failed to print summary")
	}

	if err := cfg.WriteSnapshot(filepath.Join(cfg.Runner.ResultsDir, configSnapshotFile), owner); err != nil {
		log.WithError(err).Warn("Failed to write config snapshot")
	}

	if interrupted {
		log.Info("Run interrupted")

		return errInterrupted
	}

	if uploader != nil {
		if err := uploadRun(ctx, uploader, cfg, runID, configs); err != nil {
			log.WithError(err).Warn("Failed to upload results")
		}
	}

	log.WithFields(logrus.Fields{
		"executed": snap.Summary.Executed,
		"passed":   snap.Summary.Passed,
		"failed":   snap.Summary.Failed,
		"duration": report.FormatDuration(snap.TotalDuration()),
	}).Info("Run completed")

	if failOnError && snap.HasFailures() {
		return fmt.Errorf("%d configuration(s) failed", snap.Summary.Failed)
	}

	return nil
}

// interruptExitCode is used when a second signal forces an immediate exit.
const interruptExitCode = 130

// watchSignals cancels the run on the first signal so the current step can
// finish. A second signal exits immediately without a final report.
func watchSignals(ctx context.Context, sigCh <-chan os.Signal, cancel context.CancelFunc, exit func(int)) {
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("Received shutdown signal, finishing current step (repeat to exit now)")
		cancel()
	case <-ctx.Done():
		return
	}

	sig := <-sigCh
	log.WithField("signal", sig).Warn("Received second shutdown signal, exiting immediately")
	exit(interruptExitCode)
}

// configRunner runs the pipeline of one configuration.
type configRunner interface {
	Run(ctx context.Context, c *pipeline.Configuration) pipeline.Result
}

var _ configRunner = (*pipeline.Pipeline)(nil)

// executeRun runs the configurations in order until the run is interrupted,
// then publishes a final snapshot even if ctx is cancelled. It reports
// whether the run was interrupted.
func executeRun(
	ctx context.Context,
	p configRunner,
	recorder *report.Recorder,
	configs []*pipeline.Configuration,
) bool {
	interrupted := false

	for _, c := range configs {
		if ctx.Err() != nil {
			interrupted = true

			break
		}

		res := p.Run(ctx, c)

		if res.State.Phase == pipeline.PhaseHalted && res.State.Reason == pipeline.ReasonInterrupted {
			interrupted = true

			break
		}
	}

	recorder.Flush(context.WithoutCancel(ctx))

	return interrupted
}

// buildPublisher creates every enabled report sink. The returned func
// releases sinks holding resources.
func buildPublisher(
	ctx context.Context,
	cfg *config.Config,
	owner *fsutil.Owner,
) (*report.Publisher, func(), error) {
	dir := cfg.Runner.ResultsDir
	rc := cfg.Runner.Report

	publisher := report.NewPublisher(log,
		report.NewJSONSink(filepath.Join(dir, rc.JSON), owner),
		report.NewHTMLSink(filepath.Join(dir, rc.HTML), rc.Title, owner),
	)

	if rc.Markdown != "" {
		publisher.Add(report.NewMarkdownSink(filepath.Join(dir, rc.Markdown), owner))
	}

	if cfg.Runner.Metrics.Textfile != "" {
		publisher.Add(metrics.NewTextfileSink(cfg.Runner.Metrics.Textfile))
	}

	closer := func() {}

	if cfg.Runner.History.Enabled {
		store := history.NewStore(log, &cfg.Runner.History)
		if err := store.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("starting history store: %w", err)
		}

		publisher.Add(history.NewSink(store))

		closer = func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop history store")
			}
		}
	}

	return publisher, closer, nil
}

// uploadRun uploads the results directory and the step logs of every
// configuration under the run id.
func uploadRun(
	ctx context.Context,
	uploader upload.Uploader,
	cfg *config.Config,
	runID string,
	configs []*pipeline.Configuration,
) error {
	if _, err := uploader.Upload(ctx, cfg.Runner.ResultsDir, runID, nil); err != nil {
		return fmt.Errorf("uploading results directory: %w", err)
	}

	for _, c := range configs {
		if _, err := os.Stat(c.OutputDir); err != nil {
			continue
		}

		if _, err := uploader.Upload(ctx, c.OutputDir, runID+"/logs/"+c.Name(), upload.LogsOnly); err != nil {
			return fmt.Errorf("uploading logs of %s: %w", c.Name(), err)
		}
	}

	return nil
}

// newRunID returns a sortable unique run identifier.
func newRunID(now time.Time) string {
	return fmt.Sprintf("%d_%s", now.Unix(), uuid.NewString()[:8])
}
