package crontab

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rockinit/internal/core"
	"rockinit/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	defs    []*core.TaskDefinition
	mail    *core.EmailClient
	defsErr error
}

func (f *fakeSource) EnabledTaskDefinitions(context.Context) ([]*core.TaskDefinition, error) {
	if f.defsErr != nil {
		return nil, f.defsErr
	}
	var out []*core.TaskDefinition
	for _, d := range f.defs {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeSource) LatestEmailClient(context.Context) (*core.EmailClient, error) {
	return f.mail, nil
}

func strPtr(s string) *string { return &s }

const headerText = "SHELL=/bin/bash\n" +
	"PATH=/sbin:/bin:/usr/sbin:/usr/bin\n" +
	"MAILTO=root\n"

func scheduledLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.Contains(line, " root ") {
			out = append(out, line)
		}
	}
	return out
}

func TestRender_ReferenceDefinitions(t *testing.T) {
	t.Parallel()
	src := &fakeSource{defs: []*core.TaskDefinition{
		{ID: 5, Name: "snap", Enabled: true, TaskType: core.TaskTypeSnapshot, Crontab: strPtr("0 2 * * *"), CrontabWindow: strPtr("60")},
		{ID: 6, Name: "scrub", Enabled: true, TaskType: core.TaskTypeScrub},
		{ID: 7, Name: "off", Enabled: false, TaskType: core.TaskTypeSnapshot, Crontab: strPtr("0 3 * * *"), CrontabWindow: strPtr("60")},
		{ID: 8, Name: "reboot", Enabled: true, TaskType: core.TaskTypeReboot, Crontab: strPtr("0 4 * * *")},
	}}
	s := New(src, "", "/opt/rockstor/bin", logging.Discard())

	data, err := s.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0 2 * * * root /opt/rockstor/bin/st-snapshot 5 60"}, scheduledLines(data))
	assert.Equal(t, headerText+autoGenerated+"\n"+"0 2 * * * root /opt/rockstor/bin/st-snapshot 5 60\n", string(data))
}

func TestRender_UnknownTaskTypeIsSkipped(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	src := &fakeSource{defs: []*core.TaskDefinition{
		{ID: 1, Name: "weird", Enabled: true, TaskType: "unknown", Crontab: strPtr("0 1 * * *"), CrontabWindow: strPtr("60")},
		{ID: 2, Name: "custom", Enabled: true, TaskType: core.TaskTypeCustom, Crontab: strPtr("0 1 * * *"), CrontabWindow: strPtr("60")},
		{ID: 3, Name: "scrub", Enabled: true, TaskType: core.TaskTypeScrub, Crontab: strPtr("30 1 * * 0"), CrontabWindow: strPtr("120")},
	}}
	s := New(src, "", "/opt/rockstor/bin", logger)

	data, err := s.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"30 1 * * 0 root /opt/rockstor/bin/st-pool-scrub 3 120"}, scheduledLines(data))
	assert.Contains(t, logs.String(), "ignoring unknown task type")
	assert.Contains(t, logs.String(), "task_type=unknown")
}

func TestRender_PowerTasksMailFromAndOrder(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		mail: &core.EmailClient{ID: 2, Sender: "nas@example.com"},
		defs: []*core.TaskDefinition{
			{ID: 9, Enabled: true, TaskType: core.TaskTypeSuspend, Crontab: strPtr("0 23 * * *"), CrontabWindow: strPtr("*-*-*-*-*-*")},
			{ID: 4, Enabled: true, TaskType: core.TaskTypeShutdown, Crontab: strPtr("0  22 * * *"), CrontabWindow: strPtr("1")},
		},
	}
	s := New(src, "", "/opt/rockstor/bin", logging.Discard())

	data, err := s.Render(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), headerText+"MAILFROM=nas@example.com\n"+autoGenerated+"\n"))
	assert.Equal(t, []string{
		"0 22 * * * root /opt/rockstor/bin/st-system-power 4 1",
		`0 23 * * * root /opt/rockstor/bin/st-system-power 9 \*-\*-\*-\*-\*-\*`,
	}, scheduledLines(data))
}

func TestRender_InvalidCronIsSkipped(t *testing.T) {
	t.Parallel()
	src := &fakeSource{defs: []*core.TaskDefinition{
		{ID: 1, Enabled: true, TaskType: core.TaskTypeSnapshot, Crontab: strPtr("@daily"), CrontabWindow: strPtr("60")},
		{ID: 2, Enabled: true, TaskType: core.TaskTypeSnapshot, Crontab: strPtr("61 * * * *"), CrontabWindow: strPtr("60")},
		{ID: 3, Enabled: true, TaskType: core.TaskTypeSnapshot, Crontab: strPtr("*/15 * * * *"), CrontabWindow: strPtr("60")},
	}}
	data, err := New(src, "", "/bin", logging.Discard()).Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"*/15 * * * * root /bin/st-snapshot 3 60"}, scheduledLines(data))
}

func TestRender_SourceError(t *testing.T) {
	t.Parallel()
	src := &fakeSource{defsErr: errors.New("database is locked")}
	_, err := New(src, "", "/bin", logging.Discard()).Render(context.Background())
	require.ErrorContains(t, err, "database is locked")
}

func TestRefresh_WritesOnlyOnChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rockstortab")
	src := &fakeSource{defs: []*core.TaskDefinition{
		{ID: 5, Enabled: true, TaskType: core.TaskTypeSnapshot, Crontab: strPtr("0 2 * * *"), CrontabWindow: strPtr("60")},
	}}
	s := New(src, path, "/opt/rockstor/bin", logging.Discard())
	ctx := context.Background()

	changed, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "identical content is a no-op")

	src.defs[0].Enabled = false
	changed, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, scheduledLines(data))
	assert.Equal(t, path, s.Path())
}

func TestEscapeArg(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "60", EscapeArg("60"))
	assert.Equal(t, `\*-\*`, EscapeArg("*-*"))
	assert.Equal(t, `50\%`, EscapeArg("50%"))
	assert.Equal(t, `a\?\[b]`, EscapeArg("a?[b]"))
}
