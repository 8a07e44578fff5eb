package steps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rockinit/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncTimezone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	zone := filepath.Join(f.root, "usr", "share", "zoneinfo", "Europe", "Berlin")
	f.write(zone, "TZif")
	require.NoError(t, os.Symlink(zone, f.cfg().Paths.Localtime))
	settings := f.cfg().Paths.Settings
	f.write(settings, "DEBUG = False\nTIME_ZONE = 'UTC'\nUSE_TZ = True\n")
	ctx := context.Background()

	changed, err := f.host.SyncTimezone(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "DEBUG = False\nTIME_ZONE = 'Europe/Berlin'\nUSE_TZ = True\n", f.read(settings))

	changed, err = f.host.SyncTimezone(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSyncTimezone_NotAZoneinfoLink(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(f.cfg().Paths.Localtime, "TZif")
	f.write(f.cfg().Paths.Settings, "TIME_ZONE = 'UTC'\n")

	_, err := f.host.SyncTimezone(context.Background())
	var inconsistent *core.StateInconsistency
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, "timezone", inconsistent.What)
}

const stockSSHD = "Port 22\n" +
	"PermitRootLogin yes\n" +
	"Subsystem\tsftp\t/usr/lib/ssh/sftp-server\n" +
	"UsePAM yes\n"

func TestHardenSSHD_IsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	path := f.cfg().Paths.SSHDConfig
	f.write(path, stockSSHD)
	ctx := context.Background()

	changed, err := f.host.HardenSSHD(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	first := f.read(path)
	assert.Equal(t, "Port 22\n"+
		"PermitRootLogin yes\n"+
		"#Subsystem\tsftp\t/usr/lib/ssh/sftp-server\n"+
		"UsePAM yes\n"+
		"###BEGIN: Rockstor SFTP CONFIG. DO NOT EDIT BELOW THIS LINE###\n"+
		"Subsystem\tsftp\tinternal-sftp\n"+
		"AllowUsers root\n", first)
	assert.Equal(t, []string{"/usr/bin/systemctl restart sshd"}, f.runner.Calls())

	changed, err = f.host.HardenSSHD(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, f.read(path), "byte-identical after the second run")
	assert.Len(t, f.runner.Calls(), 1, "no second restart")
}

func TestHardenSSHD_AnyManagedLineSkipsBlock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	path := f.cfg().Paths.SSHDConfig
	f.write(path, "Port 22\nAllowUsers admin")

	changed, err := f.host.HardenSSHD(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "Port 22\nAllowUsers admin", f.read(path))
	assert.Empty(t, f.runner.Calls())
}

func TestHardenSSHD_AppendsAfterUnterminatedLine(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	path := f.cfg().Paths.SSHDConfig
	f.write(path, "Port 22")

	changed, err := f.host.HardenSSHD(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Port 22\n###BEGIN: Rockstor SFTP CONFIG. DO NOT EDIT BELOW THIS LINE###\nSubsystem\tsftp\tinternal-sftp\nAllowUsers root\n", f.read(path))
}

func TestSyncUnit_Fingerprint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.host.MainUnit()
	f.write(d.Source, "[Unit]\nDescription=Rockstor\n")

	changed, err := f.host.SyncUnit(ctx, d)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "[Unit]\nDescription=Rockstor\n", f.read(d.Installed))
	assert.Equal(t, []string{"/usr/bin/systemctl enable rockstor"}, f.runner.Calls())

	f.runner.Reset()
	changed, err = f.host.SyncUnit(ctx, d)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, f.runner.Calls(), "identical content: zero writes and zero restarts")

	f.write(d.Installed, "[Unit]\nDescription=edited\n")
	changed, err = f.host.SyncUnit(ctx, d)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "[Unit]\nDescription=Rockstor\n", f.read(d.Installed))
	assert.Equal(t, []string{"/usr/bin/systemctl enable rockstor"}, f.runner.Calls(), "exactly one enable")
}

func TestSyncUnit_BootstrapEnablesAndReloads(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.host.BootstrapUnit()
	f.write(d.Source, "[Unit]\n")

	changed, err := f.host.SyncUnit(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{
		"/usr/bin/systemctl enable rockstor-bootstrap.service",
		"/usr/bin/systemctl daemon-reload",
	}, f.runner.Calls())
}

func TestSyncUnit_PreStartRendersDependency(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.host.PreStartUnit()
	f.write(d.Source, "[Unit]\nAfter=postgresql.service\nAfter=network.target\n[Service]\nType=oneshot\n")

	changed, err := f.host.SyncUnit(ctx, d)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "[Unit]\nAfter=postgresql.service\nRequires=postgresql.service\nAfter=network.target\n[Service]\nType=oneshot\n", f.read(d.Installed))
	assert.Equal(t, []string{"/usr/bin/systemctl daemon-reload"}, f.runner.Calls())

	changed, err = f.host.SyncUnit(ctx, d)
	require.NoError(t, err)
	assert.False(t, changed, "re-rendered output matches the installed copy")
	assert.Len(t, f.runner.Calls(), 1)
}

func TestSyncUnit_OptionalSMB(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	d := f.host.SMBUnit()
	f.write(d.Source, "[Unit]\nDescription=Samba\n")

	changed, err := f.host.SyncUnit(ctx, d)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, exists(d.Installed), "not installed hosts are left alone")

	f.write(d.Installed, "[Unit]\nDescription=distro samba\n")
	changed, err = f.host.SyncUnit(ctx, d)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"/usr/bin/systemctl daemon-reload"}, f.runner.Calls())
}

func TestSyncUnit_MissingSource(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.host.SyncUnit(context.Background(), f.host.MainUnit())
	require.ErrorContains(t, err, "is missing")
	assert.Empty(t, f.runner.Calls())
}

func TestInsertAfter(t *testing.T) {
	t.Parallel()
	got := InsertAfter([]byte("a\nAfter=x\nb"), "After=x", "Requires=x")
	assert.Equal(t, "a\nAfter=x\nRequires=x\nb", string(got))

	got = InsertAfter([]byte("After=x"), "After=x", "Requires=x")
	assert.Equal(t, "After=x\nRequires=x\n", string(got))
}

func TestNormaliseShellinabox(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	vendor := f.cfg().Paths.VendorUnitDir

	changed, err := f.host.NormaliseShellinabox(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "package not installed")

	f.write(filepath.Join(vendor, "shellinabox.service"), "[Service]\nExecStart=/usr/bin/shellinaboxd\n")
	changed, err = f.host.NormaliseShellinabox(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "[Service]\nExecStart=/usr/bin/shellinaboxd\n", f.read(filepath.Join(vendor, "shellinaboxd.service")))
	assert.Equal(t, []string{"/usr/bin/systemctl daemon-reload"}, f.runner.Calls())

	changed, err = f.host.NormaliseShellinabox(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}
