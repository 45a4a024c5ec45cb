package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/umputun/sqlwasm/pkg/failure"
)

// Local is an executor running processes on localhost, without a shell
type Local struct {
	logs Logs
}

// NewLocal makes Local executor reporting process output to logs
func NewLocal(logs Logs) *Local {
	return &Local{logs: logs}
}

// Run executes the command and waits for completion. Output goes to the logs and is returned line by line.
// Non-zero exit code is reported as a process failure with *ExitError inside.
func (l *Local) Run(ctx context.Context, cmd Command) (Result, error) {
	st := time.Now()
	logs := l.logs.WithTag(cmd.Tag)
	logs.Info.Printf("%s", cmd.String())

	command := exec.CommandContext(ctx, cmd.Path, cmd.Args...) // nolint

	// stdout and stderr are copied by separate goroutines into the same buffer
	outBuf := &lockedBuffer{}
	command.Stdout = io.MultiWriter(logs.Out, outBuf)
	command.Stderr = io.MultiWriter(logs.Err, outBuf)
	runErr := command.Run()

	res := Result{ExitCode: command.ProcessState.ExitCode(), Duration: time.Since(st)}
	scanner := bufio.NewScanner(&outBuf.buf)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024) // compiler diagnostics can be long
	for scanner.Scan() {
		res.Output = append(res.Output, scanner.Text())
	}

	if runErr != nil {
		exitErr := &ExitError{Cmd: cmd.String(), Code: -1, Tail: tail(res.Output, tailLines), Err: runErr}
		var ee *exec.ExitError
		if errors.As(runErr, &ee) {
			exitErr.Code = ee.ExitCode()
		}
		res.ExitCode = exitErr.Code
		return res, failure.Process(cmd.Tag, exitErr)
	}
	if err := scanner.Err(); err != nil {
		return res, failure.Process(cmd.Tag, fmt.Errorf("can't read output: %w", err))
	}
	log.Printf("[DEBUG] %s completed in %v", cmd.Tag, res.Duration.Truncate(time.Millisecond))
	return res, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
