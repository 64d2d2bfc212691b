// Package runner executes external collaborator commands and captures their
// output. All provisioning side effects flow through here.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Run executes a command via sh -c. A positive timeout bounds the subprocess;
// cancelling ctx kills it.
func Run(ctx context.Context, command, workDir string, timeout time.Duration) *Result {
	return start(ctx, workDir, timeout, "sh", "-c", command)
}

// RunArgv executes a command directly from an argument vector, with no shell
// in between.
func RunArgv(ctx context.Context, argv []string, workDir string, timeout time.Duration) *Result {
	if len(argv) == 0 {
		return &Result{ExitCode: 1, Stderr: "empty command"}
	}
	return start(ctx, workDir, timeout, argv[0], argv[1:]...)
}

func start(ctx context.Context, workDir string, timeout time.Duration, name string, args ...string) *Result {
	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
}
