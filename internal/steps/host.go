// Package steps holds the convergence actions of the bootstrap sequence. Every
// action returns whether it changed machine state, and every predicate reports
// whether its action is already applied.
package steps

import (
	"context"
	"log/slog"

	"rockinit/internal/config"
	"rockinit/internal/core"
	"rockinit/internal/netinfo"
	"rockinit/internal/sysexec"
)

// ServiceStore exposes the stored service-listener records.
type ServiceStore interface {
	ServiceListener(ctx context.Context, name string) (*core.ServiceListener, error)
}

// Refresher regenerates the derived crontab.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// Host is the machine the steps converge, with its collaborators.
type Host struct {
	Config   config.Config
	Runner   sysexec.Runner
	Logger   *slog.Logger
	Services ServiceStore
	Net      netinfo.Lister
	Crontab  Refresher
}

func (h *Host) systemctl(ctx context.Context, args ...string) error {
	argv := append([]string{h.Config.Binaries.Systemctl}, args...)
	_, err := h.Runner.Run(ctx, argv)
	return err
}

// systemctlQuery runs a systemctl query verb and reports whether it exited zero.
func (h *Host) systemctlQuery(ctx context.Context, verb, unit string) bool {
	res, err := h.Runner.Run(ctx, []string{h.Config.Binaries.Systemctl, verb, "--quiet", unit}, sysexec.NoRaise())
	return err == nil && res.ExitCode == 0
}

func (h *Host) supervisorctl(ctx context.Context, args ...string) error {
	argv := append([]string{h.Config.Binaries.SupervisorCtl}, args...)
	_, err := h.Runner.Run(ctx, argv)
	return err
}

// asDBUser wraps argv to run as the database system user.
func (h *Host) asDBUser(argv ...string) []string {
	return sysexec.AsUser(h.Config.Binaries.Su, h.Config.Database.SystemUser, argv...)
}
