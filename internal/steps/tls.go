package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"rockinit/internal/core"
	"rockinit/internal/guard"
)

const (
	certFile = "rockstor.cert"
	keyFile  = "rockstor.key"
	csrFile  = "rockstor.csr"
	rawKey   = "first.key"
)

// TLSReady reports whether the certificate directory holds both the cert and the key.
func (h *Host) TLSReady(context.Context) (bool, error) {
	dir := h.Config.Paths.CertDir
	return guard.IsFile(filepath.Join(dir, certFile)) && guard.IsFile(filepath.Join(dir, keyFile)), nil
}

// EnsureTLS discards an incomplete certificate directory and generates a fresh
// self-signed pair. The pair is produced in a temporary sibling directory that
// replaces the cert directory only once both files exist, so a failed run never
// leaves a half-populated directory behind.
func (h *Host) EnsureTLS(ctx context.Context) (bool, error) {
	dir := h.Config.Paths.CertDir
	if guard.IsDir(dir) {
		h.Logger.Warn("certificate directory incomplete, regenerating", "dir", dir)
	}
	if err := guard.RemoveAll(dir); err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return false, fmt.Errorf("ensure cert parent: %w", err)
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dir), "."+filepath.Base(dir)+".*")
	if err != nil {
		return false, fmt.Errorf("create temp cert dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := h.generateCert(ctx, tmp); err != nil {
		return false, err
	}
	for _, name := range []string{certFile, keyFile} {
		if !guard.IsFile(filepath.Join(tmp, name)) {
			return false, &core.StateInconsistency{What: "tls", Detail: name + " was not produced by openssl"}
		}
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return false, fmt.Errorf("chmod cert dir: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return false, fmt.Errorf("install cert dir: %w", err)
	}
	h.Logger.Info("self-signed certificate created", "dir", dir)

	h.Logger.Info("restarting nginx")
	if err := h.supervisorctl(ctx, "restart", "nginx"); err != nil {
		return true, err
	}
	return true, nil
}

func (h *Host) generateCert(ctx context.Context, dir string) error {
	openssl := h.Config.Binaries.OpenSSL
	tls := h.Config.TLS
	path := func(name string) string { return filepath.Join(dir, name) }

	h.Logger.Info("creating openssl cert")
	steps := [][]string{
		{openssl, "req", "-nodes", "-newkey", "rsa:" + strconv.Itoa(tls.KeyBits),
			"-keyout", path(rawKey), "-out", path(csrFile), "-subj", tls.Subject},
		{openssl, "rsa", "-in", path(rawKey), "-out", path(keyFile)},
		{openssl, "x509", "-in", path(csrFile), "-out", path(certFile), "-req",
			"-signkey", path(keyFile), "-days", strconv.Itoa(tls.Days)},
	}
	for _, argv := range steps {
		if _, err := h.Runner.Run(ctx, argv); err != nil {
			return fmt.Errorf("openssl %s: %w", argv[1], err)
		}
	}
	return nil
}
