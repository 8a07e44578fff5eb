package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rockinit/internal/core"
)

// InsertEmailClient stores c and sets its ID and creation time.
func (s *Store) InsertEmailClient(ctx context.Context, c *core.EmailClient) error {
	c.CreatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO email_clients (smtp_server, port, sender, receiver, username, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.SMTPServer, c.Port, c.Sender, c.Receiver, c.Username, c.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert email client: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("email client id: %w", err)
	}
	c.ID = id
	return nil
}

// LatestEmailClient returns the most recently created mail-sender identity, or nil
// when none is configured.
func (s *Store) LatestEmailClient(ctx context.Context) (*core.EmailClient, error) {
	var (
		c         core.EmailClient
		createdAt string
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, smtp_server, port, sender, receiver, username, created_at
		FROM email_clients ORDER BY id DESC LIMIT 1
	`).Scan(&c.ID, &c.SMTPServer, &c.Port, &c.Sender, &c.Receiver, &c.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest email client: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}
