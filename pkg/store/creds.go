package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
)

// GetCredential returns a stored credential value, "" if not set
func (s *Store) GetCredential(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.GetContext(ctx, &value, "SELECT value FROM credentials WHERE key = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get credential %s: %w", key, err)
	}
	return value, nil
}

// SetCredential stores or overwrites a credential value
func (s *Store) SetCredential(ctx context.Context, key, value string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, datetime('now'))
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`
		if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("set credential %s: %w", key, err)}
		}
		return nil
	})
}

// DeleteCredential removes a single credential field
func (s *Store) DeleteCredential(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM credentials WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete credential %s: %w", key, err)
	}
	return nil
}

// DeleteCredentials removes all credential fields with the given prefix,
// used by logout to wipe every persisted oauth field at once
func (s *Store) DeleteCredentials(ctx context.Context, prefix string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM credentials WHERE key LIKE ? || '%'", prefix); err != nil {
		return fmt.Errorf("delete credentials %s*: %w", prefix, err)
	}
	return nil
}
