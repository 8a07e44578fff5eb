package guard

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.service")
	b := filepath.Join(dir, "b.service")
	writeFile(t, a, "[Unit]\n")
	writeFile(t, b, "[Unit]\n")

	sumA, ok := Fingerprint(a)
	require.True(t, ok)
	assert.Len(t, sumA, 64)
	assert.True(t, SameContent(a, b))

	writeFile(t, b, "[Unit]\nAfter=network.target\n")
	assert.False(t, SameContent(a, b))

	sum, ok := Fingerprint(filepath.Join(dir, "missing"))
	assert.False(t, ok)
	assert.Empty(t, sum)
	assert.False(t, SameContent(a, filepath.Join(dir, "missing")))
}

func TestReplaceLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "sshd_config")
	dst := filepath.Join(dir, "out")
	writeFile(t, src, "Port 22\nSubsystem\tsftp\t/usr/lib/ssh/sftp-server\nUsePAM yes")

	replaced, err := ReplaceLine(src, dst, regexp.MustCompile(`^Subsystem\s+sftp\s+/usr/lib/ssh/sftp-server`), "#Subsystem\tsftp\t/usr/lib/ssh/sftp-server")
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, "Port 22\n#Subsystem\tsftp\t/usr/lib/ssh/sftp-server\nUsePAM yes", readFile(t, dst))
	assert.Equal(t, "Port 22\nSubsystem\tsftp\t/usr/lib/ssh/sftp-server\nUsePAM yes", readFile(t, src), "source untouched")
}

func TestReplaceLine_NoMatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "settings.py")
	dst := filepath.Join(dir, "out")
	writeFile(t, src, "DEBUG = False\n")

	replaced, err := ReplaceLine(src, dst, regexp.MustCompile(`^TIME_ZONE = `), "TIME_ZONE = 'UTC'")
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, "DEBUG = False\n", readFile(t, dst))
}

func TestReplaceLine_MissingSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, err := ReplaceLine(filepath.Join(dir, "missing"), filepath.Join(dir, "out"), regexp.MustCompile(`x`), "y")
	require.Error(t, err)
}

func TestReplaceInPlace(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.py")
	writeFile(t, path, "DEBUG = False\nTIME_ZONE = 'UTC'\n")
	require.NoError(t, os.Chmod(path, 0o640))
	match := regexp.MustCompile(`^TIME_ZONE = `)

	changed, err := ReplaceInPlace(path, match, "TIME_ZONE = 'Europe/Berlin'")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "DEBUG = False\nTIME_ZONE = 'Europe/Berlin'\n", readFile(t, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm(), "mode preserved")

	// Identical replacement is a no-op and leaves no temp files behind.
	changed, err = ReplaceInPlace(path, match, "TIME_ZONE = 'Europe/Berlin'")
	require.NoError(t, err)
	assert.False(t, changed)

	// No match leaves no temp files behind either.
	changed, err = ReplaceInPlace(path, regexp.MustCompile(`^ALLOWED_HOSTS`), "ALLOWED_HOSTS = []")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []string{"settings.py"}, dirEntries(t, dir))
}

func TestWriteIfChanged(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "issue")

	changed, err := WriteIfChanged(path, []byte("hello\n"), 0o644)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = WriteIfChanged(path, []byte("hello\n"), 0o644)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = WriteIfChanged(path, []byte("bye\n"), 0o644)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "bye\n", readFile(t, path))
	assert.Equal(t, []string{"issue"}, dirEntries(t, dir))
}

func TestCopyFileAndPredicates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.service")
	dst := filepath.Join(dir, "dst.service")
	writeFile(t, src, "[Service]\n")

	require.NoError(t, CopyFile(src, dst, 0o644))
	assert.True(t, SameContent(src, dst))
	assert.True(t, IsFile(dst))
	assert.False(t, IsDir(dst))
	assert.True(t, IsDir(dir))
	assert.False(t, IsFile(filepath.Join(dir, "nope")))

	require.Error(t, CopyFile(filepath.Join(dir, "nope"), dst, 0o644))
}

func TestRemoveAll_AbsentIsNoop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "pgdata")
	writeFile(t, filepath.Join(target, "PG_VERSION"), "16\n")

	require.NoError(t, RemoveAll(target))
	assert.False(t, IsDir(target))
	require.NoError(t, RemoveAll(target))
}

func TestPromoteAndDiscard(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	tmp, err := TempSibling(target)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o600))

	require.NoError(t, Promote(tmp, target))
	assert.Equal(t, "new", readFile(t, target))
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	require.NoError(t, Discard(tmp), "discarding an already-moved temp is a no-op")
}
