package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"rockinit/internal/guard"
)

// ServiceDescriptor is a systemd unit whose installed copy must match its source.
type ServiceDescriptor struct {
	Name      string
	Source    string
	Installed string
	// Enable is the unit passed to `systemctl enable` after an install; empty skips it.
	Enable string
	// Reload runs `systemctl daemon-reload` after an install.
	Reload bool
	// Optional descriptors are only kept in sync once an installed copy exists.
	Optional bool
	// Render, when set, transforms the source before it is compared and installed.
	Render func([]byte) []byte
}

func (h *Host) unit(name string) ServiceDescriptor {
	return ServiceDescriptor{
		Name:      name,
		Source:    filepath.Join(h.Config.Paths.ConfDir, name),
		Installed: filepath.Join(h.Config.Paths.SystemdDir, name),
	}
}

// MainUnit is the appliance web service.
func (h *Host) MainUnit() ServiceDescriptor {
	d := h.unit("rockstor.service")
	d.Enable = "rockstor"
	return d
}

// BootstrapUnit is the service that runs the bootstrap at boot.
func (h *Host) BootstrapUnit() ServiceDescriptor {
	d := h.unit("rockstor-bootstrap.service")
	d.Enable = d.Name
	d.Reload = true
	return d
}

// PreStartUnit is re-rendered from its source on every run with a hard dependency on
// the database service.
func (h *Host) PreStartUnit() ServiceDescriptor {
	d := h.unit("rockstor-pre.service")
	d.Reload = true
	dbUnit := h.Config.Database.ServiceUnit + ".service"
	d.Render = func(src []byte) []byte {
		return InsertAfter(src, "After="+dbUnit, "Requires="+dbUnit)
	}
	return d
}

// SMBUnit is synced only on hosts where the SMB service was installed.
func (h *Host) SMBUnit() ServiceDescriptor {
	d := h.unit("smb.service")
	d.Reload = true
	d.Optional = true
	return d
}

// SyncUnit installs the descriptor's source when the installed copy differs from it.
func (h *Host) SyncUnit(ctx context.Context, d ServiceDescriptor) (bool, error) {
	log := h.Logger.With("unit", d.Name)
	if d.Optional && !guard.IsFile(d.Installed) {
		log.Info("unit is not installed, not updating")
		return false, nil
	}

	var changed bool
	if d.Render != nil {
		src, err := os.ReadFile(d.Source)
		if err != nil {
			return false, fmt.Errorf("read unit source: %w", err)
		}
		changed, err = guard.WriteIfChanged(d.Installed, d.Render(src), 0o644)
		if err != nil {
			return false, err
		}
	} else {
		if _, ok := guard.Fingerprint(d.Source); !ok {
			return false, fmt.Errorf("unit source %s is missing", d.Source)
		}
		if !guard.SameContent(d.Source, d.Installed) {
			if err := guard.CopyFile(d.Source, d.Installed, 0o644); err != nil {
				return false, err
			}
			changed = true
		}
	}
	if !changed {
		log.Debug("unit looks correct, not updating")
		return false, nil
	}

	log.Info("updated systemd unit")
	if d.Enable != "" {
		if err := h.systemctl(ctx, "enable", d.Enable); err != nil {
			return true, err
		}
	}
	if d.Reload {
		if err := h.systemctl(ctx, "daemon-reload"); err != nil {
			return true, err
		}
	}
	return true, nil
}

// InsertAfter copies src and adds line directly after every line starting with marker.
func InsertAfter(src []byte, marker, line string) []byte {
	var out bytes.Buffer
	for _, l := range bytes.SplitAfter(src, []byte("\n")) {
		if len(l) == 0 {
			continue
		}
		out.Write(l)
		if bytes.HasPrefix(l, []byte(marker)) {
			if l[len(l)-1] != '\n' {
				out.WriteByte('\n')
			}
			out.WriteString(line + "\n")
		}
	}
	return out.Bytes()
}

// NormaliseShellinabox provides the shellinaboxd unit name on distributions that
// ship the service as shellinabox.
func (h *Host) NormaliseShellinabox(ctx context.Context) (bool, error) {
	dir := h.Config.Paths.VendorUnitDir
	required := filepath.Join(dir, "shellinaboxd.service")
	alternate := filepath.Join(dir, "shellinabox.service")
	if guard.IsFile(required) {
		h.Logger.Debug("shellinaboxd.service already exists")
		return false, nil
	}
	if !guard.IsFile(alternate) {
		return false, nil
	}
	if err := guard.CopyFile(alternate, required, 0o644); err != nil {
		return false, err
	}
	h.Logger.Info("established shellinaboxd.service")
	if err := h.systemctl(ctx, "daemon-reload"); err != nil {
		return true, err
	}
	return true, nil
}
