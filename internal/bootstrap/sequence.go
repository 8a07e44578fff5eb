package bootstrap

import (
	"context"

	"rockinit/internal/steps"
)

// Sequence returns the reference bootstrap order. Every step is soft: a failure
// is logged and the next step still runs.
func Sequence(h *steps.Host) []Step {
	unit := func(d steps.ServiceDescriptor) func(context.Context) (bool, error) {
		return func(ctx context.Context) (bool, error) {
			return h.SyncUnit(ctx, d)
		}
	}

	return []Step{
		{Name: "tls", Applied: h.TLSReady, Apply: h.EnsureTLS},
		{Name: "flash-optimize", Apply: h.OptimizeFlash},
		{Name: "timezone", Apply: h.SyncTimezone},
		{Name: "sshd", Apply: h.HardenSSHD},
		{Name: "database", Applied: h.DatabaseBootstrapped, Apply: h.BootstrapDatabase},
		{Name: "pre-start-unit", Apply: unit(h.PreStartUnit())},
		{Name: "migrations", Apply: h.ConvergeMigrations},
		{Name: "prep-db", Apply: h.PrepareDatabase},
		{Name: "firewalld", Applied: h.FirewalldDisabled, Apply: h.DisableFirewalld},
		{Name: "proxy-listener", Apply: h.UpdateProxyListener},
		{Name: "crontab", Apply: h.RefreshCrontab},
		{Name: "issue-banner", Apply: h.UpdateBanner},
		{Name: "shellinaboxd", Apply: h.NormaliseShellinabox},
		{Name: "main-unit", Apply: unit(h.MainUnit())},
		{Name: "bootstrap-unit", Apply: unit(h.BootstrapUnit())},
		{Name: "smb-unit", Apply: unit(h.SMBUnit())},
	}
}
