// Package pipeline runs the fixed sequence of steps for one configuration:
// setup, gateware build, software build, load, serial test and exit.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethpandaops/hwci/pkg/fsutil"
	"github.com/ethpandaops/hwci/pkg/procrunner"
	"github.com/ethpandaops/hwci/pkg/report"
	"github.com/ethpandaops/hwci/pkg/serialtest"
	"github.com/sirupsen/logrus"
)

// ProcessRunner executes an external command.
type ProcessRunner interface {
	Run(ctx context.Context, req procrunner.Request) procrunner.Result
}

// SerialEngine runs a serial session.
type SerialEngine interface {
	Run(ctx context.Context, s serialtest.Session, logPath string) serialtest.Outcome
}

// Reporter receives step results. Flush is called after every update.
type Reporter interface {
	SetStatus(name, step string, status report.Status) error
	SetLog(name, step, path string) error
	SetTiming(name string, start time.Time, duration time.Duration) error
	Flush(ctx context.Context)
}

var (
	_ ProcessRunner = (*procrunner.Runner)(nil)
	_ SerialEngine  = (*serialtest.Engine)(nil)
	_ Reporter      = (*report.Recorder)(nil)
)

// Phase is the coarse state of a pipeline.
type Phase int

// Pipeline phases. Transitions only move forward.
const (
	PhaseNotStarted Phase = iota
	PhaseRunning
	PhaseHalted
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseRunning:
		return "running"
	case PhaseHalted:
		return "halted"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the pipeline position. Step is the step being run, or the step at
// which the pipeline halted.
type State struct {
	Phase  Phase
	Step   StepKind
	Reason string
}

// ReasonInterrupted is the halt reason when the run context is cancelled.
const ReasonInterrupted = "interrupted"

// Result summarizes one pipeline execution.
type Result struct {
	Name     string
	State    State
	Statuses map[StepKind]report.Status
	Start    time.Time
	Duration time.Duration
}

// Failed reports whether any step recorded a failure.
func (r Result) Failed() bool {
	for _, s := range r.Statuses {
		if s.IsFailure() {
			return true
		}
	}

	return false
}

type handler func(ctx context.Context, p *Pipeline, c *Configuration, k StepKind, logPath string) bool

// step is the descriptor of one fixed pipeline step.
type step struct {
	kind    StepKind
	failure report.Status
	run     handler
}

var steps = []step{
	{kind: StepSetup, failure: report.StatusLoadError, run: runProcess},
	{kind: StepGateware, failure: report.StatusBuildError, run: runProcess},
	{kind: StepSoftware, failure: report.StatusBuildError, run: runProcess},
	{kind: StepLoad, failure: report.StatusLoadError, run: runProcess},
	{kind: StepTest, failure: report.StatusTestError, run: runTest},
	{kind: StepExit, failure: report.StatusLoadError, run: runProcess},
}

// Config for a pipeline.
type Config struct {
	Selection Selection
	// AlwaysExit runs the exit step even after an earlier step failed or the
	// run was interrupted, so test-bed resources get released.
	AlwaysExit bool
	Owner      *fsutil.Owner
}

// Pipeline executes configurations one at a time.
type Pipeline struct {
	log      logrus.FieldLogger
	cfg      *Config
	procs    ProcessRunner
	serial   SerialEngine
	reporter Reporter
}

// New creates a Pipeline.
func New(
	log logrus.FieldLogger,
	cfg *Config,
	procs ProcessRunner,
	serial SerialEngine,
	reporter Reporter,
) *Pipeline {
	return &Pipeline{
		log:      log.WithField("component", "pipeline"),
		cfg:      cfg,
		procs:    procs,
		serial:   serial,
		reporter: reporter,
	}
}

// Run executes every step for c in order. It stops at the first failing step
// and leaves the remaining steps NOT_RUN. Cancellation is checked between
// steps; an in-flight step always runs to completion.
func (p *Pipeline) Run(ctx context.Context, c *Configuration) Result {
	start := time.Now()

	res := Result{
		Name:     c.Name(),
		State:    State{Phase: PhaseNotStarted},
		Statuses: make(map[StepKind]report.Status, len(steps)),
		Start:    start,
	}

	for _, st := range steps {
		res.Statuses[st.kind] = report.StatusNotRun
	}

	log := p.log.WithField("config", c.Name())
	log.Info("Starting configuration")

	if err := fsutil.MkdirAll(c.OutputDir, p.cfg.Owner); err != nil {
		log.WithError(err).Warn("Failed to create output directory")
	}

	for _, st := range steps {
		halted := res.State.Phase == PhaseHalted

		if halted && !(st.kind == StepExit && p.cfg.AlwaysExit) {
			continue
		}

		if !halted && ctx.Err() != nil {
			res.State = State{Phase: PhaseHalted, Step: st.kind, Reason: ReasonInterrupted}
			log.WithField("step", st.kind.String()).Warn("Run interrupted, skipping remaining steps")

			if !(st.kind == StepExit && p.cfg.AlwaysExit) {
				continue
			}

			halted = true
		}

		stepLog := log.WithField("step", st.kind.String())

		if !p.cfg.Selection.Includes(st.kind) || !c.Configured(st.kind) {
			stepLog.Debug("Step not configured, skipping")
			p.record(ctx, c, st.kind, report.StatusNotRun, "", start, &res)

			continue
		}

		if !halted {
			res.State = State{Phase: PhaseRunning, Step: st.kind}
		}

		logPath := filepath.Join(c.OutputDir, st.kind.String()+".rpt")

		stepLog.Info("Running step")

		status := report.StatusSuccess
		if !st.run(ctx, p, c, st.kind, logPath) {
			status = st.failure
		}

		p.record(ctx, c, st.kind, status, logPath, start, &res)

		stepLog.WithFields(logrus.Fields{
			"status":   status.String(),
			"duration": time.Since(start),
		}).Info("Step finished")

		if status.IsFailure() && !halted {
			res.State = State{
				Phase:  PhaseHalted,
				Step:   st.kind,
				Reason: fmt.Sprintf("%s failed with %s", st.kind, status),
			}
		}
	}

	if res.State.Phase != PhaseHalted {
		res.State = State{Phase: PhaseCompleted, Step: StepExit}
	}

	log.WithFields(logrus.Fields{
		"state":    res.State.Phase.String(),
		"reason":   res.State.Reason,
		"duration": res.Duration,
	}).Info("Configuration finished")

	return res
}

// record stores a step resolution with the elapsed time so far and flushes
// the report.
func (p *Pipeline) record(
	ctx context.Context,
	c *Configuration,
	k StepKind,
	status report.Status,
	logPath string,
	start time.Time,
	res *Result,
) {
	res.Statuses[k] = status
	res.Duration = time.Since(start)

	name := c.Name()

	if err := p.reporter.SetStatus(name, k.String(), status); err != nil {
		p.log.WithError(err).Warn("Failed to record status")
	}

	if logPath != "" {
		if err := p.reporter.SetLog(name, k.String(), logPath); err != nil {
			p.log.WithError(err).Warn("Failed to record log path")
		}
	}

	if err := p.reporter.SetTiming(name, start, res.Duration); err != nil {
		p.log.WithError(err).Warn("Failed to record timing")
	}

	p.reporter.Flush(ctx)
}

func runProcess(ctx context.Context, p *Pipeline, c *Configuration, k StepKind, logPath string) bool {
	result := p.procs.Run(ctx, procrunner.Request{
		Command: c.Command(k),
		LogPath: logPath,
		Label:   c.Name() + "/" + k.String(),
	})

	if result.Err != nil {
		p.log.WithError(result.Err).WithField("config", c.Name()).Warn("Command could not run")
	}

	return result.Success()
}

func runTest(ctx context.Context, p *Pipeline, c *Configuration, _ StepKind, logPath string) bool {
	outcome := p.serial.Run(ctx, c.Session(), logPath)

	return outcome.Err == nil && outcome.Passed
}
