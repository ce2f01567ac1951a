package shellexec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// waitDelay bounds how long output pipes may outlive a cancelled command.
const waitDelay = 500 * time.Millisecond

// Runner executes one-off command lines through the platform shell.
type Runner struct {
	// Dir is the working directory; empty means the user's home.
	Dir string
	// Env overrides the inherited environment when non-nil.
	Env []string
}

// CommandError reports a failed command line.
type CommandError struct {
	Stderr   string
	ExitCode int
	Err      error
}

// Error returns stderr when the command produced any, else the underlying error.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "command failed"
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Run executes line and returns its captured stdout.
// Cancelling ctx kills the command.
func (r *Runner) Run(ctx context.Context, line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	name, args := shellCommand(line)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	cmd.Dir = r.Dir
	if cmd.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cmd.Dir = home
		}
	}
	if r.Env != nil {
		cmd.Env = r.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), &CommandError{Stderr: stderr.String(), ExitCode: exitCode, Err: err}
	}
	return stdout.Bytes(), nil
}

func shellCommand(line string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", line}
	}
	return "/bin/sh", []string{"-c", line}
}
