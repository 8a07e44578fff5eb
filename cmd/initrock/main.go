package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"rockinit/internal/bootstrap"
	"rockinit/internal/config"
	"rockinit/internal/core"
	"rockinit/internal/crontab"
	"rockinit/internal/logging"
	"rockinit/internal/netinfo"
	"rockinit/internal/notify"
	"rockinit/internal/steps"
	"rockinit/internal/store"
	"rockinit/internal/sysexec"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("initrock failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:           "initrock",
		Short:         "Converge a Rockstor appliance to its running state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "x", false, "Enable debug logging")
	return cmd
}

func run(ctx context.Context, debug bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	cfg, err = cfg.Finalize()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	return converge(ctx, cfg, logger, bootstrap.Sequence)
}

// converge runs the steps built by sequence against the host described by cfg.
func converge(ctx context.Context, cfg config.Config, logger *slog.Logger, sequence func(*steps.Host) []bootstrap.Step) error {
	// The state store is an optional collaborator: without it the sequence still
	// runs and the steps that need stored records fail individually.
	var (
		records  stateStore
		recorder bootstrap.Recorder
	)
	st, err := store.Open(ctx, cfg.StateDir, cfg.RunRetention)
	if err != nil {
		logger.Error("state store unavailable", "dir", cfg.StateDir, "err", err)
		records = unavailable{err: err}
	} else {
		defer st.Close()
		records = st
		recorder = st
	}

	runner := sysexec.NewCommandRunner(logger)
	host := &steps.Host{
		Config:   cfg,
		Runner:   runner,
		Logger:   logger,
		Services: records,
		Net:      netinfo.New(cfg, runner),
		Crontab:  crontab.New(records, cfg.Paths.Crontab, cfg.Paths.BinDir, logger),
	}

	var notifier bootstrap.Notifier
	if n, err := notify.FromConfig(cfg.Notification); err != nil {
		logger.Warn("notifications disabled", "err", err)
	} else {
		notifier = n
	}

	orch := bootstrap.New(sequence(host), logger, recorder, notifier)
	if hostname, err := os.Hostname(); err == nil {
		orch.Hostname = hostname
	}
	return orch.Run(ctx).Err()
}

type stateStore interface {
	steps.ServiceStore
	crontab.Source
}

// unavailable stands in for a state store that could not be opened.
type unavailable struct {
	err error
}

func (u unavailable) ServiceListener(context.Context, string) (*core.ServiceListener, error) {
	return nil, u.err
}

func (u unavailable) EnabledTaskDefinitions(context.Context) ([]*core.TaskDefinition, error) {
	return nil, u.err
}

func (u unavailable) LatestEmailClient(context.Context) (*core.EmailClient, error) {
	return nil, u.err
}
