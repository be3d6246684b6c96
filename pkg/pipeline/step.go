package pipeline

import (
	"fmt"
	"strings"
)

// StepKind identifies one phase of a configuration's pipeline.
type StepKind int

// Steps in execution order.
const (
	StepSetup StepKind = iota
	StepGateware
	StepSoftware
	StepLoad
	StepTest
	StepExit
)

var stepNames = [...]string{
	StepSetup:    "setup",
	StepGateware: "gateware_build",
	StepSoftware: "software_build",
	StepLoad:     "load",
	StepTest:     "test",
	StepExit:     "exit",
}

func (k StepKind) String() string {
	if k < 0 || int(k) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(k))
	}

	return stepNames[k]
}

// AllSteps returns every step kind in execution order.
func AllSteps() []StepKind {
	return []StepKind{StepSetup, StepGateware, StepSoftware, StepLoad, StepTest, StepExit}
}

// StepNames returns the names of every step in execution order.
func StepNames() []string {
	names := make([]string, len(stepNames))
	copy(names, stepNames[:])

	return names
}

// ParseStep resolves a step name. "gateware" and "software" are accepted as
// short forms.
func ParseStep(name string) (StepKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	switch name {
	case "gateware":
		return StepGateware, nil
	case "software":
		return StepSoftware, nil
	}

	for i, n := range stepNames {
		if n == name {
			return StepKind(i), nil
		}
	}

	return 0, fmt.Errorf("unknown step %q (valid: %s)", name, strings.Join(stepNames[:], ", "))
}

// Selection restricts which steps run. The zero value selects every step.
type Selection struct {
	steps map[StepKind]bool
}

// ParseSelection builds a selection from step names. No names selects all.
func ParseSelection(names []string) (Selection, error) {
	if len(names) == 0 {
		return Selection{}, nil
	}

	sel := Selection{steps: make(map[StepKind]bool, len(names))}

	for _, name := range names {
		kind, err := ParseStep(name)
		if err != nil {
			return Selection{}, err
		}

		sel.steps[kind] = true
	}

	return sel, nil
}

// Includes reports whether the step is selected.
func (s Selection) Includes(k StepKind) bool {
	if s.steps == nil {
		return true
	}

	return s.steps[k]
}

// String lists the selected steps in execution order.
func (s Selection) String() string {
	names := make([]string, 0, len(stepNames))

	for _, k := range AllSteps() {
		if s.Includes(k) {
			names = append(names, k.String())
		}
	}

	return strings.Join(names, ",")
}
