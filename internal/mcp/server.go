package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rockinit/internal/core"
	"rockinit/internal/crontab"
	"rockinit/internal/settings"
	"rockinit/internal/store"
	"rockinit/internal/taskdefs"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes task-definition management as MCP tools.
type MCPServer struct {
	tasks    *taskdefs.Service
	settings *settings.Service
	store    *store.Store
	crontab  *crontab.Synthesizer
	logger   *slog.Logger
	location *time.Location

	srv *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(tasks *taskdefs.Service, cfg *settings.Service, st *store.Store, synth *crontab.Synthesizer, logger *slog.Logger, location *time.Location) *MCPServer {
	if location == nil {
		location = time.Local
	}
	s := &MCPServer{
		tasks:    tasks,
		settings: cfg,
		store:    st,
		crontab:  synth,
		logger:   logger,
		location: location,
	}
	s.srv = server.NewMCPServer(
		"rockschedd",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.srv)
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.srv)
}

// HTTPHandler serves MCP over streamable HTTP.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.srv)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	types := make([]string, 0, len(core.ValidTaskTypes))
	for _, t := range core.ValidTaskTypes {
		types = append(types, string(t))
	}

	mcpServer.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List every task definition with its schedule and next run time"),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("task_get",
		mcp.WithDescription("Show one task definition"),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("Task definition ID"),
			mcp.Min(1),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("task_create",
		mcp.WithDescription("Create a task definition. The crontab uses the standard 5 fields (minute hour day month weekday)"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Unique task name"),
		),
		mcp.WithString("task_type",
			mcp.Required(),
			mcp.Description("Maintenance action to schedule"),
			mcp.Enum(types...),
		),
		mcp.WithString("crontab",
			mcp.Description("Cron expression, e.g. '0 2 * * *' for every day at 02:00"),
		),
		mcp.WithString("crontabwindow",
			mcp.Description("Execution window passed to the task script"),
		),
		mcp.WithObject("meta",
			mcp.Description("Task specific settings such as the share or pool name"),
		),
		mcp.WithBoolean("enabled",
			mcp.Description("Whether the task is written to the crontab, default true"),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("task_update",
		mcp.WithDescription("Update a task definition; omitted fields keep their value and meta keys are merged"),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("Task definition ID"),
			mcp.Min(1),
		),
		mcp.WithString("name", mcp.Description("New name")),
		mcp.WithString("task_type", mcp.Description("New task type"), mcp.Enum(types...)),
		mcp.WithString("crontab", mcp.Description("New cron expression; empty clears it")),
		mcp.WithString("crontabwindow", mcp.Description("New execution window; empty clears it")),
		mcp.WithObject("meta", mcp.Description("Keys to merge into the settings")),
		mcp.WithBoolean("enabled", mcp.Description("Enable or disable the task")),
	), s.handleUpdateTask)

	mcpServer.AddTool(mcp.NewTool("task_delete",
		mcp.WithDescription("Delete a task definition"),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("Task definition ID"),
			mcp.Min(1),
		),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("crontab_render",
		mcp.WithDescription("Show the crontab generated from the enabled task definitions"),
	), s.handleRenderCrontab)

	mcpServer.AddTool(mcp.NewTool("cron_preview",
		mcp.WithDescription("Preview the upcoming fire times of a cron expression"),
		mcp.WithString("cron",
			mcp.Required(),
			mcp.Description("Cron expression"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleCronPreview)

	mcpServer.AddTool(mcp.NewTool("boot_runs_list",
		mcp.WithDescription("List recent bootstrap runs and their failed stages"),
		mcp.WithNumber("limit",
			mcp.Description("Number of runs, default 10"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListBootRuns)

	mcpServer.AddTool(mcp.NewTool("mail_sender_set",
		mcp.WithDescription("Set the mail sender identity; its address becomes MAILFROM in the crontab"),
		mcp.WithString("smtp_server", mcp.Required(), mcp.Description("SMTP host name")),
		mcp.WithNumber("port", mcp.Description("SMTP port, default 587"), mcp.Min(1), mcp.Max(65535)),
		mcp.WithString("sender", mcp.Required(), mcp.Description("Sender address")),
		mcp.WithString("receiver", mcp.Required(), mcp.Description("Receiver address")),
		mcp.WithString("username", mcp.Description("SMTP user name")),
	), s.handleSetMailSender)

	mcpServer.AddTool(mcp.NewTool("service_listener_set",
		mcp.WithDescription("Set the interface and port the web service listens on; applied on the next bootstrap run"),
		mcp.WithString("service", mcp.Description("Service name, default rockstor")),
		mcp.WithString("network_interface", mcp.Required(), mcp.Description("Interface name, e.g. eth0")),
		mcp.WithNumber("listener_port", mcp.Required(), mcp.Description("TCP port"), mcp.Min(1), mcp.Max(65535)),
	), s.handleSetListener)

	s.logger.Debug("MCP tools registered", "count", 10)
}

func (s *MCPServer) handleListTasks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defs, err := s.tasks.List(ctx)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	if len(defs) == 0 {
		return mcp.NewToolResultText("no task definitions"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d task definition(s):\n\n", len(defs))
	for _, d := range defs {
		s.describe(&b, d)
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := taskID(request)
	def, err := s.tasks.Get(ctx, id)
	if err != nil {
		return s.taskError("get", id, err), nil
	}
	var b strings.Builder
	s.describe(&b, def)
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := decodeInput(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	def, err := s.tasks.Create(ctx, in)
	if err != nil {
		return s.taskError("create", 0, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("task created\nID: %d\nnext run: %s", def.ID, s.nextRun(def))), nil
}

func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := taskID(request)
	in, err := decodeInput(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	def, err := s.tasks.Update(ctx, id, in)
	if err != nil {
		return s.taskError("update", id, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("task updated: %d\nenabled: %t\nnext run: %s", def.ID, def.Enabled, s.nextRun(def))), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := taskID(request)
	if err := s.tasks.Delete(ctx, id); err != nil {
		return s.taskError("delete", id, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("task deleted: %d", id)), nil
}

func (s *MCPServer) handleRenderCrontab(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := s.crontab.Render(ctx)
	if err != nil {
		s.logger.Error("render crontab", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to render crontab: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# %s\n%s", s.crontab.Path(), data)), nil
}

func (s *MCPServer) handleCronPreview(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr := mcp.ParseString(request, "cron", "")
	schedule, err := core.ParseCron(expr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 10 {
		count = 5
	}

	next := core.NextOccurrences(schedule, time.Now().In(s.location), count)
	var b strings.Builder
	fmt.Fprintf(&b, "next %d fire times for %q:\n", count, expr)
	for i, t := range next {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListBootRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(mcp.ParseFloat64(request, "limit", 10))
	runs, err := s.store.ListBootRuns(ctx, limit, 0)
	if err != nil {
		s.logger.Error("list boot runs", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list boot runs: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no bootstrap runs recorded"), nil
	}

	var b strings.Builder
	for _, summary := range runs {
		run, err := s.store.GetBootRun(ctx, summary.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load boot run %s: %v", summary.ID, err)), nil
		}
		fmt.Fprintf(&b, "%s %s  %s\n", statusToIcon(run.Status), formatTime(&run.StartedAt), run.ID)
		for _, st := range run.Stages {
			if st.Status != core.StageFailed || st.Error == nil {
				continue
			}
			fmt.Fprintf(&b, "    %s: %s\n", st.Name, truncateString(*st.Error, 120))
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleSetMailSender(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := settings.MailSenderInput{
		SMTPServer: mcp.ParseString(request, "smtp_server", ""),
		Sender:     mcp.ParseString(request, "sender", ""),
		Receiver:   mcp.ParseString(request, "receiver", ""),
		Username:   mcp.ParseString(request, "username", ""),
	}
	if _, ok := request.GetArguments()["port"]; ok {
		port := int(mcp.ParseFloat64(request, "port", 0))
		in.Port = &port
	}
	c, err := s.settings.SetMailSender(ctx, in)
	if err != nil {
		return s.settingsError("save mail sender", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("mail sender saved: %s via %s:%d", c.Sender, c.SMTPServer, c.Port)), nil
}

func (s *MCPServer) handleSetListener(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "service", "rockstor")
	l, err := s.settings.SetListener(ctx, name, settings.ListenerInput{
		NetworkInterface: mcp.ParseString(request, "network_interface", ""),
		ListenerPort:     int(mcp.ParseFloat64(request, "listener_port", 0)),
	})
	if err != nil {
		return s.settingsError("save listener", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("listener saved: %s on %s:%d", name, l.NetworkInterface, l.ListenerPort)), nil
}

func (s *MCPServer) settingsError(op string, err error) *mcp.CallToolResult {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		return mcp.NewToolResultError("invalid input: " + verr.Error())
	}
	s.logger.Error(op, "err", err)
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", op, err))
}

func (s *MCPServer) describe(b *strings.Builder, def *core.TaskDefinition) {
	state := "enabled"
	if !def.Enabled {
		state = "disabled"
	}
	fmt.Fprintf(b, "#%d %s (%s, %s)\n", def.ID, def.Name, def.TaskType, state)
	fmt.Fprintf(b, "  crontab: %s\n", orDash(def.Crontab))
	fmt.Fprintf(b, "  window: %s\n", orDash(def.CrontabWindow))
	if len(def.Meta) > 0 {
		meta, _ := def.Meta.Encode()
		fmt.Fprintf(b, "  meta: %s\n", truncateString(meta, 120))
	}
	fmt.Fprintf(b, "  next run: %s\n", s.nextRun(def))
}

func (s *MCPServer) nextRun(def *core.TaskDefinition) string {
	return formatTime(taskdefs.NextRun(def, time.Now().In(s.location)))
}

func (s *MCPServer) taskError(op string, id int64, err error) *mcp.CallToolResult {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		return mcp.NewToolResultError("invalid input: " + verr.Error())
	case errors.Is(err, store.ErrTaskNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %d", id))
	case errors.Is(err, store.ErrNameTaken):
		return mcp.NewToolResultError(err.Error())
	}
	s.logger.Error(op+" task", "task_id", id, "err", err)
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s task: %v", op, err))
}

// decodeInput reuses the HTTP request shape for tool arguments.
func decodeInput(request mcp.CallToolRequest) (taskdefs.Input, error) {
	var in taskdefs.Input
	raw, err := json.Marshal(request.GetArguments())
	if err != nil {
		return in, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("invalid arguments: %w", err)
	}
	return in, nil
}

func taskID(request mcp.CallToolRequest) int64 {
	return int64(mcp.ParseFloat64(request, "task_id", 0))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func statusToIcon(status core.RunStatus) string {
	switch status {
	case core.RunStatusCompleted:
		return "✅"
	case core.RunStatusDegraded:
		return "⚠️"
	case core.RunStatusAborted:
		return "❌"
	case core.RunStatusRunning:
		return "▶️"
	default:
		return "❓"
	}
}
