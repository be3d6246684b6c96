package procrunner

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Command is either an argument vector or a single line interpreted by the
// shell. The zero value is the unconfigured command.
type Command struct {
	Args  []string `json:"args,omitempty" yaml:"args,omitempty"`
	Line  string   `json:"line,omitempty" yaml:"line,omitempty"`
	Shell bool     `json:"shell,omitempty" yaml:"shell,omitempty"`
}

// Argv builds a command executed without a shell.
func Argv(args ...string) Command {
	return Command{Args: args}
}

// ShellLine builds a command run through /bin/sh -c.
func ShellLine(line string) Command {
	return Command{Line: line, Shell: true}
}

// Split tokenizes line with shell quoting rules into an argument vector.
func Split(line string) (Command, error) {
	if strings.TrimSpace(line) == "" {
		return Command{}, nil
	}

	args, err := shlex.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("splitting %q: %w", line, err)
	}

	return Command{Args: args}, nil
}

// IsZero reports whether no command is configured.
func (c Command) IsZero() bool {
	if c.Shell {
		return strings.TrimSpace(c.Line) == ""
	}

	return len(c.Args) == 0
}

// String renders the command for logs.
func (c Command) String() string {
	if c.Shell {
		return c.Line
	}

	return strings.Join(c.Args, " ")
}
