// Package sysexec runs external commands for the bootstrap steps.
//
// Commands are literal argument vectors. The only shell form supported is the
// privilege switch built by AsUser, which quotes its argv into a single inline
// command for su.
package sysexec

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"

	"rockinit/internal/core"

	"github.com/kballard/go-shellquote"
)

// Result holds the captured output of one command.
type Result struct {
	Stdout   []string
	Stderr   []string
	ExitCode int
}

// Runner executes one external command per call.
type Runner interface {
	Run(ctx context.Context, argv []string, opts ...Option) (Result, error)
}

type runOptions struct {
	raise bool
	audit bool
}

// Option adjusts a single Run call.
type Option func(*runOptions)

// NoRaise returns the result of a non-zero exit instead of a *core.CommandError.
// Spawn failures are still reported as errors.
func NoRaise() Option {
	return func(o *runOptions) { o.raise = false }
}

// Audit logs the argv and outcome of the call at info level.
func Audit() Option {
	return func(o *runOptions) { o.audit = true }
}

// Apply resolves opts against the defaults (raise on failure, no audit).
func Apply(opts ...Option) (raise, audit bool) {
	o := runOptions{raise: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o.raise, o.audit
}

// AsUser wraps argv in a privilege switch: su - <user> -c '<argv quoted>'.
func AsUser(su, user string, argv ...string) []string {
	return []string{su, "-", user, "-c", shellquote.Join(argv...)}
}

// CommandRunner executes commands with os/exec.
type CommandRunner struct {
	logger *slog.Logger
}

// NewCommandRunner creates a runner that reports through logger.
func NewCommandRunner(logger *slog.Logger) *CommandRunner {
	return &CommandRunner{logger: logger}
}

// Run starts argv, waits for it to exit and captures its output line by line.
// There is no timeout; a hung command blocks the caller.
func (r *CommandRunner) Run(ctx context.Context, argv []string, opts ...Option) (Result, error) {
	raise, audit := Apply(opts...)
	if len(argv) == 0 {
		return Result{ExitCode: -1}, &core.CommandError{ExitCode: -1, Err: errors.New("empty argv")}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running command", "argv", argv)
	err := cmd.Run()

	res := Result{
		Stdout: SplitLines(stdout.String()),
		Stderr: SplitLines(stderr.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
			cerr := &core.CommandError{Argv: argv, ExitCode: -1, Err: err}
			if audit {
				r.logger.Info("command audit", "argv", argv, "err", err)
			}
			return res, cerr
		}
		res.ExitCode = exitErr.ExitCode()
	}

	if audit {
		r.logger.Info("command audit", "argv", argv, "rc", res.ExitCode)
	}
	if res.ExitCode != 0 && raise {
		return res, &core.CommandError{Argv: argv, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	return res, nil
}

// SplitLines splits captured output into lines, dropping the trailing empty line.
func SplitLines(out string) []string {
	if out == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(out, "\n"), "\n")
}
