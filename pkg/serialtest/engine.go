// Package serialtest drives a board's serial console through an ordered
// send/expect script and decides whether the board reached its final
// milestone.
package serialtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethpandaops/hwci/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPollInterval is the port read timeout used while waiting for a
	// keyword. It bounds how far a wait may overrun its action timeout.
	DefaultPollInterval = 100 * time.Millisecond

	readChunk = 256
)

// ErrNoActions is reported for a session without any action.
var ErrNoActions = errors.New("no test actions")

// Action is one step of the serial script.
type Action struct {
	// Send is written verbatim. Empty sends nothing.
	Send string `json:"send,omitempty"`
	// Keyword is awaited as a substring of the output not yet consumed by an
	// earlier keyword wait. Empty resolves the action right after the send.
	Keyword string        `json:"keyword,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
	// Sleep is the delay after the action resolves.
	Sleep time.Duration `json:"sleep,omitempty"`
}

// Session is the full interaction with one device.
type Session struct {
	Device   string
	BaudRate int
	// SettleDelay is waited before the device is opened.
	SettleDelay time.Duration
	Actions     []Action
}

// ActionResult records how a single action resolved.
type ActionResult struct {
	Index   int           `json:"index"`
	Keyword string        `json:"keyword,omitempty"`
	Waited  bool          `json:"waited"`
	Matched bool          `json:"matched"`
	Elapsed time.Duration `json:"elapsed"`
}

// Outcome of a session. Passed is set only when the final action matched and
// no device error occurred.
type Outcome struct {
	Passed   bool
	Err      error
	Actions  []ActionResult
	Duration time.Duration
}

// Config for the engine.
type Config struct {
	// Opener defaults to OpenSerial.
	Opener Opener
	// Console receives a live echo of the decoded output. Nil disables it.
	Console      io.Writer
	PollInterval time.Duration
	Owner        *fsutil.Owner
}

// Engine runs sessions one at a time.
type Engine struct {
	log logrus.FieldLogger
	cfg *Config
}

// NewEngine creates an Engine.
func NewEngine(log logrus.FieldLogger, cfg *Config) *Engine {
	if cfg.Opener == nil {
		cfg.Opener = OpenSerial
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Engine{
		log: log.WithField("component", "serialtest"),
		cfg: cfg,
	}
}

// Run executes the session and writes the decoded device output to logPath.
// Every action is executed even if an earlier one did not match; only the
// final action decides the outcome. Open, write and read errors fail the
// whole session. Waits are bounded by the action timeouts, not by ctx.
func (e *Engine) Run(_ context.Context, s Session, logPath string) Outcome {
	start := time.Now()
	outcome := Outcome{}

	log := e.log.WithFields(logrus.Fields{
		"device": s.Device,
		"baud":   s.BaudRate,
	})

	fail := func(err error) Outcome {
		outcome.Err = err
		outcome.Duration = time.Since(start)

		log.WithError(err).Error("Serial test failed")

		return outcome
	}

	if len(s.Actions) == 0 {
		return fail(ErrNoActions)
	}

	logFile, err := fsutil.Create(logPath, e.cfg.Owner)
	if err != nil {
		return fail(fmt.Errorf("creating test log: %w", err))
	}
	defer logFile.Close()

	if s.SettleDelay > 0 {
		log.WithField("delay", s.SettleDelay).Info("Waiting before test")
		time.Sleep(s.SettleDelay)
	}

	port, err := e.cfg.Opener(s.Device, s.BaudRate)
	if err != nil {
		return fail(err)
	}
	defer port.Close()

	if err := port.SetReadTimeout(e.cfg.PollInterval); err != nil {
		return fail(fmt.Errorf("setting read timeout: %w", err))
	}

	out := &echoWriter{log: logFile, console: e.cfg.Console}
	dec := newDecoder()
	buf := &keywordBuffer{}

	for i, action := range s.Actions {
		res, err := e.runAction(port, action, dec, buf, out)
		res.Index = i
		outcome.Actions = append(outcome.Actions, res)

		if err != nil {
			return fail(fmt.Errorf("action %d: %w", i, err))
		}

		log.WithFields(logrus.Fields{
			"action":  i,
			"keyword": action.Keyword,
			"matched": res.Matched,
			"elapsed": res.Elapsed,
		}).Debug("Action resolved")

		if action.Sleep > 0 {
			time.Sleep(action.Sleep)
		}
	}

	if tail := dec.flush(); tail != "" {
		_, _ = out.Write([]byte(tail))
	}

	outcome.Passed = outcome.Actions[len(outcome.Actions)-1].Matched
	outcome.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"passed":   outcome.Passed,
		"duration": outcome.Duration,
	}).Info("Serial test finished")

	return outcome
}

func (e *Engine) runAction(port Port, a Action, dec *decoder, buf *keywordBuffer, out io.Writer) (ActionResult, error) {
	start := time.Now()
	res := ActionResult{Keyword: a.Keyword}

	if a.Send != "" {
		if _, err := port.Write([]byte(a.Send)); err != nil {
			return res, fmt.Errorf("writing: %w", err)
		}
	}

	if a.Keyword == "" {
		res.Matched = true
		res.Elapsed = time.Since(start)

		return res, nil
	}

	res.Waited = true

	if buf.consume(a.Keyword) {
		res.Matched = true
		res.Elapsed = time.Since(start)

		return res, nil
	}

	deadline := start.Add(a.Timeout)
	chunk := make([]byte, readChunk)

	for time.Now().Before(deadline) {
		n, err := port.Read(chunk)
		if n > 0 {
			text := dec.decode(chunk[:n])
			if text != "" {
				if _, werr := out.Write([]byte(text)); werr != nil {
					return res, fmt.Errorf("writing test log: %w", werr)
				}

				buf.append(text)

				if buf.consume(a.Keyword) {
					res.Matched = true

					break
				}
			}
		}

		if err != nil {
			return res, fmt.Errorf("reading: %w", err)
		}
	}

	if !res.Matched {
		buf.reset()
	}

	res.Elapsed = time.Since(start)

	return res, nil
}

// keywordBuffer holds decoded text not yet consumed by a keyword wait. A match
// consumes the text up to and including the keyword; the remainder is kept
// for the next action. A wait that times out consumes everything it saw.
// Matching therefore depends only on the byte stream, never on how reads
// were chunked.
type keywordBuffer struct {
	text string
}

func (b *keywordBuffer) append(s string) {
	b.text += s
}

func (b *keywordBuffer) consume(keyword string) bool {
	i := strings.Index(b.text, keyword)
	if i < 0 {
		return false
	}

	b.text = b.text[i+len(keyword):]

	return true
}

func (b *keywordBuffer) reset() {
	b.text = ""
}

// echoWriter appends to the test log and mirrors to the console. Console
// errors are ignored.
type echoWriter struct {
	log     io.Writer
	console io.Writer
}

func (w *echoWriter) Write(p []byte) (int, error) {
	n, err := w.log.Write(p)
	if err != nil {
		return n, err
	}

	if w.console != nil {
		_, _ = w.console.Write(p)
	}

	return n, nil
}
