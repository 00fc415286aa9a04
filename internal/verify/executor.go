package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a command outlives its deadline.
var ErrTimeout = errors.New("command timed out")

// Executor runs toolchain commands with allow/deny checks.
type Executor struct {
	WorkingDir string
	Allowed    []string
	Denied     []string
	Env        []string
}

// ExecResult carries output and status code.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Signaled bool
}

// Combined joins stdout and stderr.
func (r ExecResult) Combined() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Exec runs a command bounded by timeout (0 = bounded only by ctx). A non-zero
// exit status is reported through ExecResult, not as an error.
func (e *Executor) Exec(ctx context.Context, timeout time.Duration, command string, args ...string) (ExecResult, error) {
	if command == "" {
		return ExecResult{}, fmt.Errorf("command is required")
	}
	if err := e.validateCommand(command); err != nil {
		return ExecResult{}, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command, args...)
	if e.WorkingDir != "" {
		cmd.Dir = e.WorkingDir
	}
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%s: %w", command, ErrTimeout)
		}
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Signaled = res.ExitCode == -1
	default:
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}

func (e *Executor) validateCommand(cmd string) error {
	lower := strings.ToLower(cmd)
	for _, deny := range e.Denied {
		if lower == strings.ToLower(deny) {
			return fmt.Errorf("command %q is denied", cmd)
		}
	}
	if len(e.Allowed) > 0 {
		for _, allow := range e.Allowed {
			if lower == strings.ToLower(allow) {
				return nil
			}
		}
		return fmt.Errorf("command %q is not in allowlist", cmd)
	}
	return nil
}
