package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"
)

// terminationGrace is how long a cancelled process gets between SIGTERM and
// SIGKILL, and how long output pipes held open by leftover children are
// drained after the shell itself has exited.
var terminationGrace = 5 * time.Second

// ShellCommand builds a command that runs script through the system command
// interpreter. Cancelling ctx sends a termination signal first and kills the
// process if it is still alive after terminationGrace.
func ShellCommand(ctx context.Context, script string) *exec.Cmd {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", script) // #nosec G204
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", script) // #nosec G204
	}
	cmd.Cancel = func() error { return sendTermination(cmd.Process) }
	cmd.WaitDelay = terminationGrace
	return cmd
}

type capture struct {
	stdout   []byte
	stderr   []byte
	exitCode int
}

// runCaptured runs script in dir and waits for it, returning both output
// streams. A non-zero exit status is not an error.
func runCaptured(ctx context.Context, script, dir string, env []string) (*capture, error) {
	cmd := ShellCommand(ctx, script)
	cmd.Dir = dir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start script: %w", err)
	}
	waitErr := settleWait(ctx, cmd.Wait())
	if ctx.Err() != nil {
		return nil, fmt.Errorf("script interrupted: %w", ctx.Err())
	}

	result := &capture{stdout: stdout.Bytes(), stderr: stderr.Bytes()}
	if cmd.ProcessState != nil {
		result.exitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait script: %w", waitErr)
		}
		result.exitCode = exitErr.ExitCode()
	}
	return result, nil
}

// spawnDetached starts script in dir with stdio discarded. The returned
// command has been started and must be reaped with Wait by the caller.
func spawnDetached(script, dir string, env []string) (*exec.Cmd, error) {
	cmd := ShellCommand(context.Background(), script)
	cmd.Dir = dir
	cmd.Env = env
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn script: %w", err)
	}
	return cmd, nil
}

// settleWait drops exec.ErrWaitDelay when ctx is still live: the shell has
// exited successfully and only a background child ("daemon &") keeps the
// output pipes open. Whatever was captured up to the delay is kept.
func settleWait(ctx context.Context, err error) error {
	if errors.Is(err, exec.ErrWaitDelay) && ctx.Err() == nil {
		return nil
	}
	return err
}

func sendTermination(process *os.Process) error {
	if process == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return process.Kill()
	}
	return process.Signal(syscall.SIGTERM)
}
