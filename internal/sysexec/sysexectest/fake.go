// Package sysexectest provides a scripted sysexec.Runner for tests.
package sysexectest

import (
	"context"
	"strings"
	"sync"

	"rockinit/internal/core"
	"rockinit/internal/sysexec"
)

// Response scripts what a matching command returns. Hook, when set, runs before the
// response is returned and may create files the real tool would have produced.
type Response struct {
	Stdout   []string
	Stderr   []string
	ExitCode int
	SpawnErr error
	Hook     func(argv []string) error
}

type rule struct {
	prefix string
	resp   Response
}

// Runner records every call and answers from rules matched by argv prefix.
// Unmatched commands succeed with no output.
type Runner struct {
	mu    sync.Mutex
	rules []rule
	calls [][]string
}

// New returns an empty fake runner.
func New() *Runner {
	return &Runner{}
}

// On scripts the response for commands whose space-joined argv starts with prefix.
// Later rules take precedence over earlier ones.
func (r *Runner) On(prefix string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: prefix, resp: resp})
	return r
}

// Run implements sysexec.Runner with the same raise semantics as the real runner.
func (r *Runner) Run(_ context.Context, argv []string, opts ...sysexec.Option) (sysexec.Result, error) {
	raise, _ := sysexec.Apply(opts...)

	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), argv...))
	resp, _ := r.match(strings.Join(argv, " "))
	r.mu.Unlock()

	if resp.Hook != nil {
		if err := resp.Hook(argv); err != nil {
			return sysexec.Result{ExitCode: -1}, &core.CommandError{Argv: argv, ExitCode: -1, Err: err}
		}
	}
	if resp.SpawnErr != nil {
		return sysexec.Result{ExitCode: -1}, &core.CommandError{Argv: argv, ExitCode: -1, Err: resp.SpawnErr}
	}
	res := sysexec.Result{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}
	if res.ExitCode != 0 && raise {
		return res, &core.CommandError{Argv: argv, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

func (r *Runner) match(joined string) (Response, bool) {
	for i := len(r.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(joined, r.rules[i].prefix) {
			return r.rules[i].resp, true
		}
	}
	return Response{}, false
}

// Calls returns every argv seen so far, space-joined.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

// Argv returns the raw argument vectors seen so far.
func (r *Runner) Argv() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsWithPrefix returns the recorded calls starting with prefix.
func (r *Runner) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls but keeps the rules.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
