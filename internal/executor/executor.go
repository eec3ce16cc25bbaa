// Package executor runs the external fit engine tools as subprocesses.
package executor

import (
	"context"
	"io"
	"strings"
)

// Command is one subprocess invocation.
type Command struct {
	Name string
	Args []string
	Dir  string   // working directory; empty means the current one
	Env  []string // extra KEY=VALUE pairs appended to the environment

	// Stdout, when set, receives standard output instead of Result.Stdout.
	// combineCards.py writes the combined card there.
	Stdout io.Writer
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs commands. A nonzero exit code is reported in Result, not as
// an error; errors mean the command could not be started or was cancelled.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}
