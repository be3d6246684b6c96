package pipeline

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ethpandaops/hwci/pkg/procrunner"
	"github.com/ethpandaops/hwci/pkg/serialtest"
)

var unsafeNameChars = regexp.MustCompile(`[^\w-]`)

// SanitizeName maps a configuration name to a form usable as a directory and
// identifier: anything outside [A-Za-z0-9_-] becomes '_'.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// Configuration is one fully resolved board/CPU/software combination. Commands
// are already interpolated; a zero command skips its step.
type Configuration struct {
	name string

	Target    string
	OutputDir string

	Setup    procrunner.Command
	Gateware procrunner.Command
	Software procrunner.Command
	Load     procrunner.Command
	Exit     procrunner.Command

	Device    string
	BaudRate  int
	TestDelay time.Duration
	Actions   []serialtest.Action
}

// Bind assigns the sanitized name. A configuration is bound exactly once;
// binding again panics.
func (c *Configuration) Bind(name string) *Configuration {
	if c.name != "" {
		panic(fmt.Sprintf("configuration %q already bound, cannot rebind to %q", c.name, name))
	}

	if name == "" {
		panic("configuration name must not be empty")
	}

	c.name = SanitizeName(name)

	return c
}

// Name returns the sanitized name, empty until bound.
func (c *Configuration) Name() string {
	return c.name
}

// Command returns the command of a process step.
func (c *Configuration) Command(k StepKind) procrunner.Command {
	switch k {
	case StepSetup:
		return c.Setup
	case StepGateware:
		return c.Gateware
	case StepSoftware:
		return c.Software
	case StepLoad:
		return c.Load
	case StepExit:
		return c.Exit
	default:
		return procrunner.Command{}
	}
}

// Session returns the serial session of the test step.
func (c *Configuration) Session() serialtest.Session {
	return serialtest.Session{
		Device:      c.Device,
		BaudRate:    c.BaudRate,
		SettleDelay: c.TestDelay,
		Actions:     c.Actions,
	}
}

// Configured reports whether the configuration has anything to do for the
// step.
func (c *Configuration) Configured(k StepKind) bool {
	if k == StepTest {
		return c.Device != "" && len(c.Actions) > 0
	}

	return !c.Command(k).IsZero()
}
