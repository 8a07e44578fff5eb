package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalize_DerivesPathsFromBaseDir(t *testing.T) {
	t.Parallel()
	base := t.TempDir()

	cfg := Defaults()
	cfg.BaseDir = base + "/"
	got, err := cfg.Finalize()
	require.NoError(t, err)

	assert.Equal(t, base, got.BaseDir)
	assert.Equal(t, filepath.Join(base, "conf"), got.Paths.ConfDir)
	assert.Equal(t, filepath.Join(base, "certs"), got.Paths.CertDir)
	assert.Equal(t, filepath.Join(base, ".initrock"), got.Paths.Stamp)
	assert.Equal(t, filepath.Join(base, "src", "rockstor", "settings.py"), got.Paths.Settings)
	assert.Equal(t, filepath.Join(base, "bin", "django"), got.Binaries.Django)
	assert.Equal(t, filepath.Join(base, "bin", "supervisorctl"), got.Binaries.SupervisorCtl)
	assert.Equal(t, "/etc/ssh/sshd_config", got.Paths.SSHDConfig)

	// The receiver is a value and must stay untouched.
	assert.Empty(t, cfg.Paths.ConfDir)
}

func TestFinalize_KeepsExplicitPaths(t *testing.T) {
	t.Parallel()
	base := t.TempDir()

	cfg := Defaults()
	cfg.BaseDir = base
	cfg.Paths.CertDir = "/srv/certs"
	got, err := cfg.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "/srv/certs", got.Paths.CertDir)
}

func TestFinalize_RejectsUnusableBaseDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		baseDir string
	}{
		{name: "empty", baseDir: ""},
		{name: "relative", baseDir: "opt/rockstor"},
		{name: "missing", baseDir: filepath.Join(t.TempDir(), "absent")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Defaults()
			cfg.BaseDir = tt.baseDir
			_, err := cfg.Finalize()
			require.Error(t, err)
		})
	}

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg := Defaults()
	cfg.BaseDir = file
	_, err := cfg.Finalize()
	require.ErrorContains(t, err, "not a directory")
}

func TestFinalize_RejectsUnknownNetProbe(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	cfg.BaseDir = t.TempDir()
	cfg.NetProbe = "ifconfig"
	_, err := cfg.Finalize()
	require.ErrorContains(t, err, "net probe")
}

func TestLoadFile_OverlaysYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_dir: /srv/rockstor
net_probe: ip
paths:
  crontab: /tmp/rockstortab
database:
  databases: [one, two, three]
ssh:
  allow_users: [root, admin]
shutdown_grace: 9s
`), 0o644))

	cfg := Defaults()
	require.NoError(t, LoadFile(path, &cfg))

	assert.Equal(t, "/srv/rockstor", cfg.BaseDir)
	assert.Equal(t, NetProbeIP, cfg.NetProbe)
	assert.Equal(t, "/tmp/rockstortab", cfg.Paths.Crontab)
	assert.Equal(t, "/etc/issue", cfg.Paths.Issue, "unset keys keep defaults")
	assert.Equal(t, []string{"one", "two", "three"}, cfg.Database.Databases)
	assert.Equal(t, []string{"root", "admin"}, cfg.SSH.AllowUsers)
	assert.Equal(t, 9*time.Second, cfg.ShutdownGrace)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	require.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("base_dir: [unterminated"), 0o644))
	require.ErrorContains(t, LoadFile(bad, &cfg), "parse config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_dir: /from/file\nlog_level: warn\n"), 0o644))

	t.Setenv("ROCKINIT_CONFIG", path)
	t.Setenv("ROCKINIT_BASE_DIR", dir)
	t.Setenv("ROCKINIT_BARK_ENABLED", "yes")
	t.Setenv("ROCKINIT_SHUTDOWN_GRACE", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.BaseDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Notification.Bark.Enabled)
	assert.Equal(t, 2*time.Second, cfg.ShutdownGrace)
}
