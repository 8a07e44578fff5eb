// Package crontab regenerates the system crontab from the enabled task definitions.
// The generated file is the only external record of what is scheduled and is never
// patched: every refresh renders it from scratch.
package crontab

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"rockinit/internal/core"
	"rockinit/internal/guard"
)

const autoGenerated = "# These entries are auto generated by Rockstor. Do not edit."

var header = []string{
	"SHELL=/bin/bash",
	"PATH=/sbin:/bin:/usr/sbin:/usr/bin",
	"MAILTO=root",
}

var scripts = map[core.TaskType]string{
	core.TaskTypeSnapshot: "st-snapshot",
	core.TaskTypeScrub:    "st-pool-scrub",
	core.TaskTypeReboot:   "st-system-power",
	core.TaskTypeShutdown: "st-system-power",
	core.TaskTypeSuspend:  "st-system-power",
}

// Source supplies the records the crontab is derived from.
type Source interface {
	EnabledTaskDefinitions(ctx context.Context) ([]*core.TaskDefinition, error)
	LatestEmailClient(ctx context.Context) (*core.EmailClient, error)
}

// Synthesizer owns the generated crontab file.
type Synthesizer struct {
	source Source
	path   string
	binDir string
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a synthesizer writing to path, with task scripts resolved under binDir.
func New(source Source, path, binDir string, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{source: source, path: path, binDir: binDir, logger: logger}
}

// Path returns the crontab file location.
func (s *Synthesizer) Path() string {
	return s.path
}

// Refresh renders the crontab and replaces the file when its content differs.
// Concurrent refreshes are serialised.
func (s *Synthesizer) Refresh(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.Render(ctx)
	if err != nil {
		return false, err
	}
	changed, err := guard.WriteIfChanged(s.path, data, 0o644)
	if err != nil {
		return false, fmt.Errorf("write crontab: %w", err)
	}
	if changed {
		s.logger.Info("crontab regenerated", "path", s.path)
	}
	return changed, nil
}

// Render produces the crontab content without touching the filesystem.
func (s *Synthesizer) Render(ctx context.Context) ([]byte, error) {
	mail, err := s.source.LatestEmailClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mail sender: %w", err)
	}
	defs, err := s.source.EnabledTaskDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load task definitions: %w", err)
	}
	sorted := make([]*core.TaskDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var buf bytes.Buffer
	for _, line := range header {
		buf.WriteString(line + "\n")
	}
	if mail != nil && mail.Sender != "" {
		buf.WriteString("MAILFROM=" + mail.Sender + "\n")
	}
	buf.WriteString(autoGenerated + "\n")

	for _, def := range sorted {
		line, ok := s.line(def)
		if ok {
			buf.WriteString(line + "\n")
		}
	}
	return buf.Bytes(), nil
}

func (s *Synthesizer) line(def *core.TaskDefinition) (string, bool) {
	if !def.Enabled || def.Crontab == nil {
		return "", false
	}
	log := s.logger.With("task_id", def.ID, "task", def.Name)
	script, ok := scripts[def.TaskType]
	if !ok {
		log.Error("ignoring unknown task type", "task_type", def.TaskType)
		return "", false
	}
	if def.CrontabWindow == nil {
		log.Error("missing crontab window value")
		return "", false
	}
	if _, err := core.ParseCron(*def.Crontab); err != nil {
		log.Error("ignoring task definition", "crontab", *def.Crontab, "err", err)
		return "", false
	}
	return strings.Join([]string{
		core.NormalizeCron(*def.Crontab),
		"root",
		filepath.Join(s.binDir, script),
		strconv.FormatInt(def.ID, 10),
		EscapeArg(*def.CrontabWindow),
	}, " "), true
}

// EscapeArg backslash-escapes the characters cron or the shell would otherwise
// interpret: % (newline to cron) and the glob characters * ? [.
func EscapeArg(arg string) string {
	var b strings.Builder
	for _, r := range arg {
		switch r {
		case '%', '*', '?', '[':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
