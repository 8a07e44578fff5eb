package steps

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"rockinit/internal/core"
	"rockinit/internal/guard"
)

var timeZoneLine = regexp.MustCompile(`^TIME_ZONE = `)

// SystemTimezone resolves the zone name the localtime symlink points at.
func (h *Host) SystemTimezone() (string, error) {
	target, err := filepath.EvalSymlinks(h.Config.Paths.Localtime)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", h.Config.Paths.Localtime, err)
	}
	_, zone, ok := strings.Cut(target, "zoneinfo/")
	if !ok || zone == "" {
		return "", &core.StateInconsistency{What: "timezone", Detail: target + " is not inside a zoneinfo tree"}
	}
	return zone, nil
}

// SyncTimezone rewrites the application TIME_ZONE setting when it differs from the
// system zone.
func (h *Host) SyncTimezone(context.Context) (bool, error) {
	zone, err := h.SystemTimezone()
	if err != nil {
		return false, err
	}
	h.Logger.Debug("system timezone", "zone", zone)

	settings := h.Config.Paths.Settings
	current, err := configuredTimezone(settings)
	if err != nil {
		return false, err
	}
	if current == zone {
		return false, nil
	}
	changed, err := guard.ReplaceInPlace(settings, timeZoneLine, fmt.Sprintf("TIME_ZONE = '%s'", zone))
	if err != nil {
		return false, err
	}
	if changed {
		h.Logger.Info("changed timezone", "from", current, "to", zone)
	}
	return changed, nil
}

func configuredTimezone(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if timeZoneLine.MatchString(line) {
			_, value, _ := strings.Cut(strings.TrimSpace(line), "= ")
			return strings.Trim(value, `'"`), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read settings: %w", err)
	}
	return "", nil
}
