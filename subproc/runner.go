// Package subproc runs the external Python scoring programs. The programs are
// a black box: this package only spawns them, feeds stdin and collects
// stdout/stderr for the protocol layers above.
package subproc

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Runner abstracts one subprocess invocation so services can swap in fakes.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// ProcessRunner spawns a real OS process per call. One child per request; no
// pooling, matching the one-shot invocation model of the scoring programs.
type ProcessRunner struct{}

// NewProcessRunner returns the process-backed Runner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Run executes the command, waits for exit and returns the captured streams.
// A non-zero exit is not an error here: callers decide what exit codes mean
// once they have looked at the output. err is reserved for spawn/context
// failures.
func (r *ProcessRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return stdout.Bytes(), stderr.Bytes(), -1, ctx.Err()
		}
		return stdout.Bytes(), stderr.Bytes(), -1, err
	}

	return stdout.Bytes(), stderr.Bytes(), 0, nil
}
