package steps

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"rockinit/internal/guard"
)

// DatabaseBootstrapped reports whether the completion stamp exists.
func (h *Host) DatabaseBootstrapped(context.Context) (bool, error) {
	return guard.IsFile(h.Config.Paths.Stamp), nil
}

// BootstrapDatabase initialises the database server from scratch: a fresh data
// directory, the application databases and role, the schema seeds and the tuned
// server configuration. The completion stamp is written last, so any failure leaves
// the stamp absent and the next run redoes the whole block.
func (h *Host) BootstrapDatabase(ctx context.Context) (bool, error) {
	cfg := h.Config
	db := cfg.Database
	conf := func(name string) string { return filepath.Join(cfg.Paths.ConfDir, name) }

	h.Logger.Info("bootstrapping the database, this could take a few minutes")
	if err := guard.CopyFile(conf("django-hack.py"), cfg.Binaries.Django, 0o755); err != nil {
		return false, fmt.Errorf("install django wrapper: %w", err)
	}
	if err := h.systemctl(ctx, "enable", db.ServiceUnit); err != nil {
		return true, err
	}
	if err := guard.RemoveAll(cfg.Paths.PgData); err != nil {
		return true, err
	}

	initdb, err := h.InitDBCommand()
	if err != nil {
		return true, err
	}
	h.Logger.Info("initializing database", "argv", initdb)
	if _, err := h.Runner.Run(ctx, initdb); err != nil {
		return true, err
	}
	if err := h.systemctl(ctx, "restart", db.ServiceUnit); err != nil {
		return true, err
	}
	if err := h.systemctl(ctx, "status", db.ServiceUnit); err != nil {
		return true, err
	}

	h.Logger.Info("creating app databases")
	for _, name := range db.Databases {
		if _, err := h.Runner.Run(ctx, h.asDBUser(cfg.Binaries.Createdb, name)); err != nil {
			return true, err
		}
		h.Logger.Debug("database created", "db", name)
	}

	role := fmt.Sprintf("CREATE ROLE %s WITH SUPERUSER LOGIN PASSWORD '%s'", db.Role, db.RolePassword)
	if _, err := h.Runner.Run(ctx, h.asDBUser(cfg.Binaries.Psql, "-c", role)); err != nil {
		return true, err
	}
	for _, name := range db.Databases {
		seed := conf(name + ".sql.in")
		if _, err := h.Runner.Run(ctx, h.asDBUser(cfg.Binaries.Psql, name, "-f", seed)); err != nil {
			return true, err
		}
		h.Logger.Debug("database seeded", "db", name)
	}

	// cp keeps the ownership initdb gave the existing files.
	for _, name := range []string{"postgresql.conf", "pg_hba.conf"} {
		if _, err := h.Runner.Run(ctx, []string{"cp", "-f", conf(name), cfg.Paths.PgData + "/"}); err != nil {
			return true, err
		}
	}
	if err := h.systemctl(ctx, "restart", db.ServiceUnit); err != nil {
		return true, err
	}

	if err := writeStamp(cfg.Paths.Stamp); err != nil {
		return true, err
	}
	h.Logger.Info("database bootstrap complete")
	return true, nil
}

// InitDBCommand probes which data-directory initialisation tool the host provides.
// The distribution setup wrapper is preferred; the generic initdb runs as the
// database user.
func (h *Host) InitDBCommand() ([]string, error) {
	b := h.Config.Binaries
	if executable(b.PostgresSetup) {
		return []string{b.PostgresSetup, "initdb"}, nil
	}
	if executable(b.InitDB) {
		return h.asDBUser(b.InitDB, "-D", h.Config.Paths.PgData), nil
	}
	return nil, fmt.Errorf("no database initialisation tool found (tried %s and %s)", b.PostgresSetup, b.InitDB)
}

func executable(path string) bool {
	return path != "" && guard.IsFile(path) && unix.Access(path, unix.X_OK) == nil
}

func writeStamp(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write completion stamp: %w", err)
	}
	return f.Close()
}
