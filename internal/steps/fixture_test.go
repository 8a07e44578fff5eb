package steps

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"rockinit/internal/config"
	"rockinit/internal/core"
	"rockinit/internal/logging"
	"rockinit/internal/sysexec/sysexectest"

	"github.com/stretchr/testify/require"
)

type fakeServices struct {
	listener *core.ServiceListener
	err      error
}

func (f *fakeServices) ServiceListener(context.Context, string) (*core.ServiceListener, error) {
	return f.listener, f.err
}

type fakeNet struct {
	addrs map[string][]netip.Addr
	errs  map[string]error
}

func (f *fakeNet) Addrs(_ context.Context, iface string) ([]netip.Addr, error) {
	if err := f.errs[iface]; err != nil {
		return nil, err
	}
	return f.addrs[iface], nil
}

type fakeRefresher struct {
	calls   int
	changed bool
	err     error
}

func (f *fakeRefresher) Refresh(context.Context) (bool, error) {
	f.calls++
	return f.changed, f.err
}

type fixture struct {
	t        *testing.T
	root     string
	host     *Host
	runner   *sysexectest.Runner
	services *fakeServices
	net      *fakeNet
	crontab  *fakeRefresher
}

// newFixture lays out an appliance tree under a temp root and points every path and
// binary of the config into it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	at := func(parts ...string) string { return filepath.Join(append([]string{root}, parts...)...) }

	base := at("opt", "rockstor")
	for _, dir := range []string{
		filepath.Join(base, "conf"),
		filepath.Join(base, "bin"),
		filepath.Join(base, "src", "rockstor"),
		filepath.Join(base, "etc", "nginx"),
		at("etc", "ssh"),
		at("etc", "systemd", "system"),
		at("etc", "cron.d"),
		at("usr", "lib", "systemd", "system"),
		at("usr", "bin"),
		at("var", "lib", "pgsql"),
	} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	cfg := config.Defaults()
	cfg.BaseDir = base
	cfg.Paths.SSHDConfig = at("etc", "ssh", "sshd_config")
	cfg.Paths.SystemdDir = at("etc", "systemd", "system")
	cfg.Paths.VendorUnitDir = at("usr", "lib", "systemd", "system")
	cfg.Paths.Issue = at("etc", "issue")
	cfg.Paths.Crontab = at("etc", "cron.d", "rockstortab")
	cfg.Paths.Localtime = at("etc", "localtime")
	cfg.Paths.PgData = at("var", "lib", "pgsql", "data")
	cfg.Binaries.PostgresSetup = at("usr", "bin", "postgresql-setup")
	cfg.Binaries.InitDB = at("usr", "bin", "initdb")
	cfg, err := cfg.Finalize()
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		root:     root,
		runner:   sysexectest.New(),
		services: &fakeServices{},
		net:      &fakeNet{addrs: map[string][]netip.Addr{}, errs: map[string]error{}},
		crontab:  &fakeRefresher{},
	}
	f.host = &Host{
		Config:   cfg,
		Runner:   f.runner,
		Logger:   logging.Discard(),
		Services: f.services,
		Net:      f.net,
		Crontab:  f.crontab,
	}
	return f
}

func (f *fixture) cfg() config.Config { return f.host.Config }

func (f *fixture) write(path, content string) {
	f.t.Helper()
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) read(path string) string {
	f.t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(f.t, err)
	return string(data)
}

func (f *fixture) executable(path string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

func (f *fixture) conf(name string) string {
	return filepath.Join(f.cfg().Paths.ConfDir, name)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
