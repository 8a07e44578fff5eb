// Package bootstrap runs the ordered convergence sequence that takes a freshly
// imaged appliance to a running state.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rockinit/internal/core"
)

// Policy decides what a step failure does to the rest of the sequence.
type Policy int

const (
	// Continue logs the failure and proceeds with the next step.
	Continue Policy = iota
	// Abort marks every remaining step aborted and stops.
	Abort
)

func (p Policy) String() string {
	if p == Abort {
		return "abort"
	}
	return "continue"
}

// Step is one named convergence action. Applied is optional; when it reports
// true the action is skipped.
type Step struct {
	Name    string
	Applied func(ctx context.Context) (bool, error)
	Apply   func(ctx context.Context) (bool, error)
	Policy  Policy
}

// Recorder persists run and stage outcomes.
type Recorder interface {
	InsertBootRun(ctx context.Context, run *core.BootRun) error
	AppendStage(ctx context.Context, runID string, stage core.StageResult) error
	FinishBootRun(ctx context.Context, id string, status core.RunStatus, endedAt time.Time) error
	PruneBootRuns(ctx context.Context) error
}

// Notifier delivers the failure summary of a run.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Report is the outcome of one pass over the sequence.
type Report struct {
	RunID   string
	Status  core.RunStatus
	Stages  []core.StageResult
	Elapsed time.Duration
}

// Failed returns the stages whose action returned an error.
func (r Report) Failed() []core.StageResult {
	var failed []core.StageResult
	for _, s := range r.Stages {
		if s.Status == core.StageFailed {
			failed = append(failed, s)
		}
	}
	return failed
}

// Aborted reports whether an Abort step stopped the sequence early.
func (r Report) Aborted() bool {
	return r.Status == core.RunStatusAborted
}

// Err maps the run onto a process outcome. Only an aborted sequence is an error: a
// degraded run still reached its end.
func (r Report) Err() error {
	if !r.Aborted() {
		return nil
	}
	return fmt.Errorf("bootstrap aborted after %d failed step(s)", len(r.Failed()))
}

// Summary renders the failed stages one per line.
func (r Report) Summary() string {
	var b strings.Builder
	for _, s := range r.Failed() {
		msg := "unknown error"
		if s.Error != nil {
			msg = *s.Error
		}
		fmt.Fprintf(&b, "%s: %s\n", s.Name, msg)
	}
	return b.String()
}

// Orchestrator executes steps strictly in order.
type Orchestrator struct {
	Steps    []Step
	Logger   *slog.Logger
	Recorder Recorder
	Notifier Notifier
	Hostname string

	now func() time.Time
}

// New creates an orchestrator. Recorder and notifier may be nil.
func New(steps []Step, logger *slog.Logger, recorder Recorder, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		Steps:    steps,
		Logger:   logger,
		Recorder: recorder,
		Notifier: notifier,
		now:      time.Now,
	}
}

// Run executes the sequence to its end or to the first failing Abort step.
func (o *Orchestrator) Run(ctx context.Context) Report {
	start := o.now()
	report := Report{RunID: core.NewRunID(), Status: core.RunStatusRunning}
	o.Logger.Info("starting bootstrap", "steps", len(o.Steps), "run_id", report.RunID)

	// History is dropped for this run only when the run row cannot be written.
	recorder := o.Recorder
	if recorder != nil {
		run := &core.BootRun{ID: report.RunID, Status: core.RunStatusRunning, StartedAt: start}
		if err := recorder.InsertBootRun(ctx, run); err != nil {
			o.Logger.Warn("boot run history unavailable", "err", err)
			recorder = nil
		}
	}

	aborted := false
	for i, step := range o.Steps {
		name := fmt.Sprintf("%s (%d/%d)", step.Name, i+1, len(o.Steps))
		result := core.StageResult{Seq: i + 1, Name: step.Name}

		if aborted {
			result.Status = core.StageAborted
			o.record(ctx, recorder, report.RunID, result)
			report.Stages = append(report.Stages, result)
			continue
		}

		stepStart := o.now()
		o.Logger.Debug(fmt.Sprintf("[%s] starting", name))
		status, changed, err := o.runStep(ctx, step)
		result.Status = status
		result.Changed = changed
		result.Duration = o.now().Sub(stepStart)

		switch {
		case err != nil:
			msg := err.Error()
			result.Error = &msg
			o.Logger.Error(fmt.Sprintf("[%s] failed", name), "err", err, "policy", step.Policy.String())
			if step.Policy == Abort {
				aborted = true
			}
		case status == core.StageSkipped:
			o.Logger.Debug(fmt.Sprintf("[%s] already applied", name))
		default:
			o.Logger.Info(fmt.Sprintf("[%s] completed in %v", name, result.Duration.Round(time.Millisecond)), "changed", changed)
		}

		o.record(ctx, recorder, report.RunID, result)
		report.Stages = append(report.Stages, result)
	}

	report.Elapsed = o.now().Sub(start)
	switch {
	case aborted:
		report.Status = core.RunStatusAborted
	case len(report.Failed()) > 0:
		report.Status = core.RunStatusDegraded
	default:
		report.Status = core.RunStatusCompleted
	}
	o.Logger.Info("bootstrap finished",
		"status", report.Status,
		"failed", len(report.Failed()),
		"elapsed", report.Elapsed.Round(time.Millisecond))

	o.finish(ctx, recorder, report)
	o.notify(ctx, report)
	return report
}

// runStep evaluates the predicate then the action. A failing predicate counts
// as a step failure; the action is not attempted.
func (o *Orchestrator) runStep(ctx context.Context, step Step) (core.StageStatus, bool, error) {
	if step.Applied != nil {
		done, err := step.Applied(ctx)
		if err != nil {
			return core.StageFailed, false, fmt.Errorf("check %s: %w", step.Name, err)
		}
		if done {
			return core.StageSkipped, false, nil
		}
	}
	changed, err := step.Apply(ctx)
	if err != nil {
		return core.StageFailed, changed, err
	}
	return core.StageApplied, changed, nil
}

func (o *Orchestrator) record(ctx context.Context, recorder Recorder, runID string, result core.StageResult) {
	if recorder == nil {
		return
	}
	if err := recorder.AppendStage(ctx, runID, result); err != nil {
		o.Logger.Warn("failed to record stage", "stage", result.Name, "err", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, recorder Recorder, report Report) {
	if recorder == nil {
		return
	}
	if err := recorder.FinishBootRun(ctx, report.RunID, report.Status, o.now()); err != nil {
		o.Logger.Warn("failed to finish boot run", "err", err)
		return
	}
	if err := recorder.PruneBootRuns(ctx); err != nil {
		o.Logger.Warn("failed to prune boot run history", "err", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, report Report) {
	failed := report.Failed()
	if o.Notifier == nil || len(failed) == 0 {
		return
	}
	host := o.Hostname
	if host == "" {
		host = "appliance"
	}
	title := fmt.Sprintf("rockinit on %s: %d step(s) failed", host, len(failed))
	if err := o.Notifier.Send(ctx, title, report.Summary()); err != nil {
		o.Logger.Warn("failed to send notification", "err", err)
	}
}
