package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rockinit/internal/core"
)

var ErrServiceNotFound = errors.New("service not found")

// serviceConfig is the JSON document kept in services.config. listener_port has been
// written both as a number and as a string over time.
type serviceConfig struct {
	NetworkInterface string   `json:"network_interface"`
	ListenerPort     flexPort `json:"listener_port"`
}

type flexPort int

func (p *flexPort) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("listener_port %s: %w", data, err)
	}
	if !core.ValidPort(n) {
		return fmt.Errorf("listener_port %d out of range 1-65535", n)
	}
	*p = flexPort(n)
	return nil
}

// ServiceListener returns the listener recorded for the named service. A service with
// no stored config yields (nil, nil).
func (s *Store) ServiceListener(ctx context.Context, name string) (*core.ServiceListener, error) {
	var raw sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT config FROM services WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query service %s: %w", name, err)
	}
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var cfg serviceConfig
	if err := json.Unmarshal([]byte(raw.String), &cfg); err != nil {
		return nil, fmt.Errorf("decode service %s config: %w", name, err)
	}
	return &core.ServiceListener{
		NetworkInterface: cfg.NetworkInterface,
		ListenerPort:     int(cfg.ListenerPort),
	}, nil
}

// SaveServiceListener creates or replaces the named service's listener config.
// A nil listener clears the config.
func (s *Store) SaveServiceListener(ctx context.Context, name string, l *core.ServiceListener) error {
	var cfg any
	if l != nil {
		if !core.ValidPort(l.ListenerPort) {
			return fmt.Errorf("save service %s: listener port %d out of range 1-65535", name, l.ListenerPort)
		}
		data, err := json.Marshal(serviceConfig{NetworkInterface: l.NetworkInterface, ListenerPort: flexPort(l.ListenerPort)})
		if err != nil {
			return fmt.Errorf("encode service %s config: %w", name, err)
		}
		cfg = string(data)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO services (name, display_name, config) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET config = excluded.config
	`, name, name, cfg)
	if err != nil {
		return fmt.Errorf("save service %s: %w", name, err)
	}
	return nil
}
