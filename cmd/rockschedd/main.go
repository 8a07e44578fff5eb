package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rockinit/internal/api"
	"rockinit/internal/config"
	"rockinit/internal/crontab"
	"rockinit/internal/logging"
	rockmcp "rockinit/internal/mcp"
	"rockinit/internal/settings"
	"rockinit/internal/store"
	"rockinit/internal/taskdefs"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("rockschedd failed", "err", err)
		os.Exit(1)
	}
}

type flags struct {
	mode     string
	addr     string
	stateDir string
	logLevel string
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "rockschedd",
		Short:         "Manage scheduled task definitions and the generated crontab",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Flags override file and environment values only when given.
			if cmd.Flags().Changed("mode") {
				cfg.Server.Mode = f.mode
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = f.addr
			}
			if cmd.Flags().Changed("state-dir") {
				cfg.StateDir = f.stateDir
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = f.logLevel
			}
			cfg, err = cfg.Finalize()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&f.mode, "mode", "http", "Server mode: http, mcp or both")
	cmd.Flags().StringVar(&f.addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&f.stateDir, "state-dir", "", "Directory holding the state database")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	switch cfg.Server.Mode {
	case "http", "mcp", "both":
	default:
		return fmt.Errorf("invalid mode %q (valid: http, mcp, both)", cfg.Server.Mode)
	}

	// stdout carries the MCP protocol in stdio modes.
	logOut := os.Stdout
	if cfg.Server.Mode != "http" {
		logOut = os.Stderr
	}
	logger := logging.NewWriter(logOut, cfg.LogLevel)

	st, err := store.Open(ctx, cfg.StateDir, cfg.RunRetention)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	synth := crontab.New(st, cfg.Paths.Crontab, cfg.Paths.BinDir, logger)
	tasks := taskdefs.New(st, synth, logger)
	cfgs := settings.New(st, tasks, logger)
	if changed, err := tasks.Refresh(ctx); err != nil {
		logger.Error("initial crontab refresh", "err", err)
	} else if changed {
		logger.Info("crontab regenerated at startup", "path", synth.Path())
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Server.Mode {
	case "mcp":
		return runMCPMode(ctx, tasks, cfgs, st, synth, logger)
	case "both":
		return runBothMode(ctx, cfg, tasks, cfgs, st, synth, logger)
	default:
		return runHTTPMode(ctx, cfg, tasks, cfgs, st, synth, nil, logger)
	}
}

// runHTTPMode serves the HTTP API, with MCP over HTTP at /mcp when mcpServer is set.
func runHTTPMode(ctx context.Context, cfg config.Config, tasks *taskdefs.Service, cfgs *settings.Service, st *store.Store, synth *crontab.Synthesizer, mcpServer *rockmcp.MCPServer, logger *slog.Logger) error {
	opts := api.Options{
		Addr:      cfg.Server.Addr,
		AuthToken: cfg.Server.AuthToken,
		Tasks:     tasks,
		Settings:  cfgs,
		Store:     st,
		Crontab:   synth,
		Logger:    logger,
		Location:  time.Local,
	}
	if mcpServer != nil {
		opts.MCP = mcpServer.HTTPHandler()
	}
	server := api.NewServer(opts)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serverErr:
		logger.Error("server error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	return runErr
}

// runMCPMode serves MCP over stdio until stdin closes or a signal arrives.
func runMCPMode(ctx context.Context, tasks *taskdefs.Service, cfgs *settings.Service, st *store.Store, synth *crontab.Synthesizer, logger *slog.Logger) error {
	mcpServer := rockmcp.NewMCPServer(tasks, cfgs, st, synth, logger, time.Local)

	mcpErr := make(chan error, 1)
	go func() { mcpErr <- mcpServer.Run() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-mcpErr:
		return err
	}
}

// runBothMode serves MCP on stdio and the HTTP API, which also mounts MCP at /mcp.
func runBothMode(ctx context.Context, cfg config.Config, tasks *taskdefs.Service, cfgs *settings.Service, st *store.Store, synth *crontab.Synthesizer, logger *slog.Logger) error {
	mcpServer := rockmcp.NewMCPServer(tasks, cfgs, st, synth, logger, time.Local)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := mcpServer.Run(); err != nil {
			logger.Error("mcp server error", "err", err)
		}
		// stdin closed: the HTTP side keeps serving until a signal arrives.
	}()

	return runHTTPMode(ctx, cfg, tasks, cfgs, st, synth, mcpServer, logger)
}
