// Package procrunner executes external build, load and setup commands while
// streaming their combined output to the console and a log file.
package procrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/ethpandaops/hwci/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultShell interprets commands declared as shell lines.
	DefaultShell = "/bin/sh"

	// DefaultWaitDelay bounds how long output copying may outlive the child,
	// e.g. when a daemonized grandchild keeps the pipe open.
	DefaultWaitDelay = 5 * time.Second
)

// ErrEmptyCommand is returned when an unconfigured command is run.
var ErrEmptyCommand = errors.New("empty command")

// Config for the runner.
type Config struct {
	// Console receives a live copy of the output. Nil disables echoing.
	Console io.Writer
	// ConsolePrefix prefixes every echoed line with "[label] ".
	ConsolePrefix bool
	// Owner is applied to created log files.
	Owner     *fsutil.Owner
	Shell     string
	WaitDelay time.Duration
}

// Request describes one invocation.
type Request struct {
	Command Command
	LogPath string
	// Label identifies the invocation in logs and console prefixes.
	Label string
}

// Result is the outcome of one invocation.
type Result struct {
	ExitCode int
	Duration time.Duration
	Err      error
}

// Success reports whether the command started, its output was fully logged
// and it exited with status zero.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Runner launches child processes. It holds no per-invocation state.
type Runner struct {
	log logrus.FieldLogger
	cfg *Config
}

// New creates a Runner.
func New(log logrus.FieldLogger, cfg *Config) *Runner {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}

	if cfg.WaitDelay == 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}

	return &Runner{
		log: log.WithField("component", "procrunner"),
		cfg: cfg,
	}
}

// Run executes the command and blocks until it exits. The child inherits the
// caller's working directory and environment and is never killed by the
// runner; ctx only scopes logging.
func (r *Runner) Run(_ context.Context, req Request) Result {
	start := time.Now()

	log := r.log.WithFields(logrus.Fields{
		"label": req.Label,
		"log":   req.LogPath,
	})

	if req.Command.IsZero() {
		return Result{ExitCode: -1, Err: ErrEmptyCommand}
	}

	logFile, err := fsutil.Create(req.LogPath, r.cfg.Owner)
	if err != nil {
		log.WithError(err).Error("Failed to create log file")

		return Result{ExitCode: -1, Err: fmt.Errorf("creating log file: %w", err)}
	}
	defer logFile.Close()

	cmd := r.build(req.Command)
	cmd.WaitDelay = r.cfg.WaitDelay

	// Same writer for both streams: exec serializes the writes so the log
	// keeps the interleaving the child produced.
	out := &streamWriter{log: logFile, console: r.console(req.Label)}
	cmd.Stdout = out
	cmd.Stderr = out

	log.WithField("command", req.Command.String()).Info("Running command")

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(logFile, "failed to start %q: %v\n", req.Command.String(), err)
		log.WithError(err).Error("Failed to start command")

		return Result{ExitCode: -1, Duration: time.Since(start), Err: fmt.Errorf("starting command: %w", err)}
	}

	waitErr := cmd.Wait()
	out.flush()

	result := Result{ExitCode: 0, Duration: time.Since(start)}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.Err = fmt.Errorf("waiting for command: %w", waitErr)
		}
	}

	log.WithFields(logrus.Fields{
		"exit_code": result.ExitCode,
		"duration":  result.Duration,
	}).Info("Command finished")

	return result
}

func (r *Runner) build(c Command) *exec.Cmd {
	if c.Shell {
		return exec.Command(r.cfg.Shell, "-c", c.Line)
	}

	return exec.Command(c.Args[0], c.Args[1:]...)
}

func (r *Runner) console(label string) *prefixedWriter {
	if r.cfg.Console == nil {
		return nil
	}

	prefix := ""
	if r.cfg.ConsolePrefix && label != "" {
		prefix = "[" + label + "] "
	}

	return &prefixedWriter{prefix: prefix, writer: r.cfg.Console}
}

// streamWriter copies output verbatim to the log file and, best-effort, to the
// console. A log write error fails the invocation; a console error does not.
type streamWriter struct {
	log     io.Writer
	console *prefixedWriter
}

func (w *streamWriter) Write(p []byte) (int, error) {
	n, err := w.log.Write(p)
	if err != nil {
		return n, err
	}

	if w.console != nil {
		_, _ = w.console.Write(p)
	}

	return n, nil
}

func (w *streamWriter) flush() {
	if w.console != nil {
		w.console.flush()
	}
}
