// Package executor runs external processes, the compiler front end in the first place.
// Local runs commands on the local machine, Dry only prints them.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Interface is an interface for the executor.
// Implemented by Local and Dry structs.
type Interface interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Command is a single external process invocation. No shell is involved, args are passed as is.
type Command struct {
	Tag  string   // short label shown as log prefix, e.g. "sqlite3.c"
	Path string   // executable name or path
	Args []string // arguments
}

// String returns the command line with arguments quoted where needed
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, a := range append([]string{c.Path}, c.Args...) {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished process
type Result struct {
	ExitCode int
	Output   []string // combined stdout and stderr lines
	Duration time.Duration
}

// ExitError is returned when a process can't start or exits with non-zero code
type ExitError struct {
	Cmd  string
	Code int      // -1 if the process didn't start or was killed
	Tail []string // last lines of output
	Err  error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%q exited with code %d", e.Cmd, e.Code)
	if e.Code < 0 {
		msg = fmt.Sprintf("%q failed: %v", e.Cmd, e.Err)
	}
	if len(e.Tail) > 0 {
		msg += ", output:\n  " + strings.Join(e.Tail, "\n  ")
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

const tailLines = 10

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
