package steps

import (
	"context"
	"fmt"
	"strings"

	"rockinit/internal/core"
	"rockinit/internal/sysexec"
)

type migrationApp struct {
	App      string
	Database string
}

// initialApps get their 0001_initial migration fake-applied when it is not yet
// recorded, reconciling schemas created by the seed files.
var initialApps = []migrationApp{
	{App: "storageadmin", Database: "default"},
	{App: "smart_manager", Database: "smart_manager"},
}

const (
	legacyApp       = "oauth2_provider"
	legacyMigration = "0002_08_updates"
)

// ConvergeMigrations brings the application schema up to date. It reports a change
// when a migration had to be fake-applied.
func (h *Host) ConvergeMigrations(ctx context.Context) (bool, error) {
	django := h.Config.Binaries.Django
	migrate := []string{django, "migrate", "--noinput"}
	with := func(args ...string) []string {
		return append(append([]string(nil), migrate...), args...)
	}
	run := func(argv []string) error {
		_, err := h.Runner.Run(ctx, argv, sysexec.Audit())
		return err
	}

	h.Logger.Info("running app database migrations")
	if err := run(with("--fake-initial", "--database=default", "contenttypes")); err != nil {
		return false, err
	}

	changed := false
	for _, app := range initialApps {
		db := "--database=" + app.Database
		applied, err := h.MigrationApplied(ctx, app.App, "0001_initial", db)
		if err != nil {
			return changed, err
		}
		if applied {
			continue
		}
		h.Logger.Debug("fake applying initial migration", "app", app.App, "db", app.Database)
		if err := run(with("--fake", db, app.App, "0001_initial")); err != nil {
			return changed, err
		}
		changed = true
	}

	for _, argv := range [][]string{
		with("auth"),
		with("storageadmin"),
		with("--database=smart_manager", "smart_manager"),
	} {
		if err := run(argv); err != nil {
			return changed, err
		}
	}

	// Legacy installs already carry the schema of this migration; faking it once
	// lets the remaining ones apply. Faking it again would reset the applied list.
	applied, err := h.MigrationApplied(ctx, legacyApp, legacyMigration)
	if err != nil {
		return changed, err
	}
	if !applied {
		h.Logger.Debug("fake applying legacy migration", "app", legacyApp, "migration", legacyMigration)
		if err := run(with("--fake", legacyApp, legacyMigration)); err != nil {
			return changed, err
		}
		changed = true
	}
	if err := run(with(legacyApp)); err != nil {
		return changed, err
	}
	return changed, nil
}

// MigrationApplied inspects `showmigrations --list` for app and reports whether
// migration is marked applied. A listing that does not mention the migration at
// all is a StateInconsistency.
func (h *Host) MigrationApplied(ctx context.Context, app, migration string, extra ...string) (bool, error) {
	argv := []string{h.Config.Binaries.Django, "showmigrations", "--list"}
	argv = append(argv, extra...)
	argv = append(argv, app)
	res, err := h.Runner.Run(ctx, argv)
	if err != nil {
		return false, err
	}
	applied, listed := ParseMigrationStatus(res.Stdout, migration)
	if !listed {
		return false, &core.StateInconsistency{
			What:   "migration status",
			Detail: fmt.Sprintf("%s %s not in showmigrations output", app, migration),
		}
	}
	return applied, nil
}

// ParseMigrationStatus finds migration in a showmigrations listing.
func ParseMigrationStatus(lines []string, migration string) (applied, listed bool) {
	for _, line := range lines {
		switch strings.TrimSpace(line) {
		case "[X] " + migration:
			return true, true
		case "[ ] " + migration:
			listed = true
		}
	}
	return false, listed
}
