package steps

import (
	"context"

	"rockinit/internal/sysexec"
)

// OptimizeFlash runs the flash tuning helper. Its failure is only logged: hosts
// without flash devices exit non-zero.
func (h *Host) OptimizeFlash(ctx context.Context) (bool, error) {
	h.Logger.Info("checking for flash and running flash optimizations if appropriate")
	res, err := h.Runner.Run(ctx, []string{h.Config.Binaries.FlashOptimize, "-x"}, sysexec.NoRaise())
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		h.Logger.Warn("flash optimization did not complete", "rc", res.ExitCode, "stderr", res.Stderr)
	}
	return false, nil
}

// PrepareDatabase runs the application data preparation tool.
func (h *Host) PrepareDatabase(ctx context.Context) (bool, error) {
	h.Logger.Info("running prep_db")
	if _, err := h.Runner.Run(ctx, []string{h.Config.Binaries.PrepDB}); err != nil {
		return false, err
	}
	return false, nil
}

// FirewalldDisabled reports whether firewalld is neither running nor enabled.
func (h *Host) FirewalldDisabled(ctx context.Context) (bool, error) {
	return !h.systemctlQuery(ctx, "is-active", "firewalld") &&
		!h.systemctlQuery(ctx, "is-enabled", "firewalld"), nil
}

// DisableFirewalld stops and disables firewalld.
func (h *Host) DisableFirewalld(ctx context.Context) (bool, error) {
	if err := h.systemctl(ctx, "stop", "firewalld"); err != nil {
		return false, err
	}
	if err := h.systemctl(ctx, "disable", "firewalld"); err != nil {
		return true, err
	}
	h.Logger.Info("firewalld stopped and disabled")
	return true, nil
}

// RefreshCrontab regenerates the derived crontab.
func (h *Host) RefreshCrontab(ctx context.Context) (bool, error) {
	return h.Crontab.Refresh(ctx)
}
