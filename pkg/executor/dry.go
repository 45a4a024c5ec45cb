package executor

import (
	"context"
	"log"
)

// Dry is an executor for dry run, just prints commands.
// Useful for debugging and testing, doesn't actually execute anything.
type Dry struct {
	logs Logs
}

// NewDry creates new executor for dry run
func NewDry(logs Logs) *Dry {
	return &Dry{logs: logs}
}

// Run shows the command line, doesn't execute it
func (ex *Dry) Run(_ context.Context, cmd Command) (Result, error) {
	log.Printf("[DEBUG] dry run %s", cmd.String())
	ex.logs.WithTag(cmd.Tag).Info.Printf("%s", cmd.String())
	return Result{Output: []string{cmd.String()}}, nil
}
