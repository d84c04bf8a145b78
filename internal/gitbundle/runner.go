package gitbundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Result is the structured outcome of one git invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Runner executes git as a subprocess with a bounded per-command timeout.
type Runner struct {
	gitPath string
	timeout time.Duration
}

// NewRunner locates the git binary. The timeout applies to each individual
// command; zero means no bound beyond the caller's context.
func NewRunner(timeout time.Duration) (*Runner, error) {
	path, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git binary not found: %w", err)
	}
	return &Runner{gitPath: path, timeout: timeout}, nil
}

// Run executes git with the given arguments in dir. A non-zero exit is not
// an error; it is reported in the Result so callers can map it onto their
// own failure taxonomy. The returned error covers spawn-level problems and
// context cancellation only.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.gitPath, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("git %s: %w", firstArg(args), ctxErr)
		}
		return res, fmt.Errorf("git %s: %w", firstArg(args), err)
	}
	return res, nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
