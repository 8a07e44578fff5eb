package steps

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"rockinit/internal/guard"
)

// HardenSSHD applies the two managed sshd_config edits. The default SFTP subsystem
// is commented out, and the managed block (header, internal-sftp directive and
// AllowUsers) is appended unless any one of its three lines is already present.
// sshd is restarted only when the block is appended.
func (h *Host) HardenSSHD(ctx context.Context) (bool, error) {
	ssh := h.Config.SSH
	path := h.Config.Paths.SSHDConfig

	defaultLine := regexp.MustCompile(`^` + regexp.QuoteMeta(ssh.DefaultSubsystem))
	commented, err := guard.ReplaceInPlace(path, defaultLine, "#"+ssh.DefaultSubsystem)
	if err != nil {
		return false, fmt.Errorf("comment out default sftp subsystem: %w", err)
	}
	if commented {
		h.Logger.Info("updated sshd_config: commented out default Subsystem")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return commented, fmt.Errorf("read sshd_config: %w", err)
	}
	if hasManagedBlock(string(data), ssh.Header, ssh.SFTPDirective) {
		h.Logger.Debug("sshd_config already has the updates, leaving it unchanged")
		return commented, nil
	}

	var block strings.Builder
	if len(data) > 0 && data[len(data)-1] != '\n' {
		block.WriteByte('\n')
	}
	block.WriteString(ssh.Header + "\n")
	block.WriteString(ssh.SFTPDirective + "\n")
	block.WriteString("AllowUsers " + strings.Join(ssh.AllowUsers, " ") + "\n")
	if _, err := guard.WriteIfChanged(path, append(data, block.String()...), 0o600); err != nil {
		return commented, err
	}
	h.Logger.Info("updated sshd_config")

	if err := h.systemctl(ctx, "restart", "sshd"); err != nil {
		return true, err
	}
	return true, nil
}

func hasManagedBlock(content, header, sftp string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, header) ||
			strings.HasPrefix(line, "AllowUsers ") ||
			strings.HasPrefix(line, sftp) {
			return true
		}
	}
	return false
}
