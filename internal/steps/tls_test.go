package steps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rockinit/internal/sysexec/sysexectest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// opensslOutputs mimics openssl by creating every file named after -out or -keyout.
func opensslOutputs(argv []string) error {
	for i, a := range argv {
		if (a == "-out" || a == "-keyout") && i+1 < len(argv) {
			if err := os.WriteFile(argv[i+1], []byte("generated "+filepath.Base(argv[i+1])), 0o600); err != nil {
				return err
			}
		}
	}
	return nil
}

func siblings(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	var hidden []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			hidden = append(hidden, e.Name())
		}
	}
	return hidden
}

func TestEnsureTLS_Fresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.runner.On("/usr/bin/openssl", sysexectest.Response{Hook: opensslOutputs})
	ctx := context.Background()
	dir := f.cfg().Paths.CertDir

	ready, err := f.host.TLSReady(ctx)
	require.NoError(t, err)
	assert.False(t, ready)

	changed, err := f.host.EnsureTLS(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	ready, err = f.host.TLSReady(ctx)
	require.NoError(t, err)
	assert.True(t, ready)

	calls := f.runner.Calls()
	require.Len(t, calls, 4)
	assert.True(t, strings.HasPrefix(calls[0], "/usr/bin/openssl req -nodes -newkey rsa:2048 -keyout "))
	assert.True(t, strings.HasPrefix(calls[1], "/usr/bin/openssl rsa -in "))
	assert.True(t, strings.HasPrefix(calls[2], "/usr/bin/openssl x509 -in "))
	assert.True(t, strings.HasSuffix(calls[2], "-days 3650"))
	assert.Equal(t, f.cfg().Binaries.SupervisorCtl+" restart nginx", calls[3])

	assert.Equal(t, "generated rockstor.cert", f.read(filepath.Join(dir, certFile)))
	assert.Empty(t, siblings(t, dir), "temp cert dir removed")
}

func TestEnsureTLS_RepairsHalfPopulatedDir(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.runner.On("/usr/bin/openssl", sysexectest.Response{Hook: opensslOutputs})
	dir := f.cfg().Paths.CertDir
	f.write(filepath.Join(dir, certFile), "OLD CERT")
	f.write(filepath.Join(dir, "stale.txt"), "leftover")

	ready, err := f.host.TLSReady(context.Background())
	require.NoError(t, err)
	require.False(t, ready, "key missing")

	changed, err := f.host.EnsureTLS(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "generated rockstor.cert", f.read(filepath.Join(dir, certFile)))
	assert.Equal(t, "generated rockstor.key", f.read(filepath.Join(dir, keyFile)))
	assert.False(t, exists(filepath.Join(dir, "stale.txt")), "old directory discarded, not reused")
}

func TestEnsureTLS_FailureLeavesNoDirectory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.runner.
		On("/usr/bin/openssl", sysexectest.Response{Hook: opensslOutputs}).
		On("/usr/bin/openssl x509", sysexectest.Response{ExitCode: 1, Stderr: []string{"unable to load certificate request"}})
	dir := f.cfg().Paths.CertDir

	_, err := f.host.EnsureTLS(context.Background())
	require.ErrorContains(t, err, "openssl x509")
	assert.False(t, exists(dir))
	assert.Empty(t, siblings(t, dir))
	assert.Empty(t, f.runner.CallsWithPrefix(f.cfg().Binaries.SupervisorCtl))
}
