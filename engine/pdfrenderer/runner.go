package pdfrenderer

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"time"
)

// Output is what a finished tool invocation produced
type Output struct {
	Stdout []byte
	Stderr []byte
}

// Runner spawns one tool invocation and waits for it to exit. Implementations
// must terminate the process when ctx is cancelled and must not return
// before it has exited.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Output, error)
}

// ExecRunner runs invocations as OS processes
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for pipes to drain after the
	// process was killed. Zero means DefaultWaitDelay.
	WaitDelay time.Duration
}

// DefaultWaitDelay is used when ExecRunner.WaitDelay is zero
const DefaultWaitDelay = 5 * time.Second

// Run spawns the tool, captures stdout and stderr and maps failures onto
// ToolNotFoundError and ToolExecutionError.
func (r ExecRunner) Run(ctx context.Context, inv Invocation) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	// Run returns only after Wait, so a killed process has exited by now
	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &ToolExecutionError{
			Tool:     inv.Tool,
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr.String(),
		}
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return out, &ToolNotFoundError{Path: inv.Path, Err: err}
	}
	return out, err
}
