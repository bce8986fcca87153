package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/newsflow/pkg/domain"
	"github.com/umputun/newsflow/pkg/identity"
)

// itemSQL represents a ledger row for SQL operations
type itemSQL struct {
	ID        int64     `db:"id"`
	GUID      string    `db:"guid"`
	Title     string    `db:"title"`
	Link      string    `db:"link"`
	Feed      string    `db:"feed"`
	NormLink  string    `db:"norm_link"`
	NormTitle string    `db:"norm_title"`
	Sent      bool      `db:"sent"`
	CreatedAt time.Time `db:"created_at"`
}

// FindExisting resolves a fetched item to a stored ledger record, applying
// the matching precedence: exact guid, then normalized link, then normalized
// title (long titles only). Returns nil without error when nothing matches.
func (s *Store) FindExisting(ctx context.Context, guid, title, link string) (*domain.NewsItem, error) {
	var row itemSQL

	if guid != "" {
		err := s.conn.GetContext(ctx, &row, "SELECT * FROM news_items WHERE guid = ?", guid)
		switch {
		case err == nil:
			return toDomainItem(&row), nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("find by guid: %w", err)
		}
	}

	if normLink := identity.NormalizeLink(link); normLink != "" {
		err := s.conn.GetContext(ctx, &row, "SELECT * FROM news_items WHERE norm_link = ? LIMIT 1", normLink)
		switch {
		case err == nil:
			return toDomainItem(&row), nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("find by link: %w", err)
		}
	}

	if normTitle := identity.NormalizeTitle(title); identity.TitleMatchable(normTitle) {
		err := s.conn.GetContext(ctx, &row, "SELECT * FROM news_items WHERE norm_title = ? LIMIT 1", normTitle)
		switch {
		case err == nil:
			return toDomainItem(&row), nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("find by title: %w", err)
		}
	}

	return nil, nil
}

// InsertOrGet returns the existing record matching the item, or inserts a new
// one. An existing match is returned untouched: its stored guid stays
// authoritative even if the caller supplied a different guid for the same
// logical item. A concurrent-insert uniqueness violation is resolved by
// re-lookup, never surfaced as an error.
func (s *Store) InsertOrGet(ctx context.Context, guid, title, link, feed string) (*domain.NewsItem, error) {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	var result *domain.NewsItem
	err := retrier.Do(ctx, func() error {
		existing, err := s.FindExisting(ctx, guid, title, link)
		if err != nil {
			return &criticalError{err: err}
		}
		if existing != nil {
			result = existing
			return nil
		}

		row := &itemSQL{
			GUID:      guid,
			Title:     title,
			Link:      link,
			Feed:      feed,
			NormLink:  identity.NormalizeLink(link),
			NormTitle: identity.NormalizeTitle(title),
		}
		query := `
			INSERT INTO news_items (guid, title, link, feed, norm_link, norm_title)
			VALUES (:guid, :title, :link, :feed, :norm_link, :norm_title)
		`
		res, err := s.conn.NamedExecContext(ctx, query, row)
		if err != nil {
			if isUniqueError(err) {
				// lost the race to a concurrent insert, the winner is the record
				winner, ferr := s.FindExisting(ctx, guid, title, link)
				if ferr != nil {
					return &criticalError{err: ferr}
				}
				if winner == nil {
					return &criticalError{err: fmt.Errorf("insert conflict but no matching record for %q", guid)}
				}
				result = winner
				return nil
			}
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("insert item: %w", err)}
		}

		id, err := res.LastInsertId()
		if err != nil {
			return &criticalError{err: fmt.Errorf("get insert id: %w", err)}
		}
		row.ID = id
		row.CreatedAt = time.Now()
		result = toDomainItem(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClaimForSending performs the single atomic sent:false->true transition for
// the item. Returns true only for the caller that actually flipped the flag,
// so concurrent sweeps racing on the same item yield exactly one winner.
func (s *Store) ClaimForSending(ctx context.Context, itemID int64) (bool, error) {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	var claimed bool
	err := retrier.Do(ctx, func() error {
		res, err := s.conn.ExecContext(ctx, "UPDATE news_items SET sent = 1 WHERE id = ? AND sent = 0", itemID)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("claim item %d: %w", itemID, err)}
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return &criticalError{err: fmt.Errorf("claim rows affected: %w", err)}
		}
		claimed = affected == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	if claimed {
		s.markCoincidentSent(ctx, itemID)
	}
	return claimed, nil
}

// markCoincidentSent flips sent on legacy duplicate rows sharing the claimed
// row's normalized link or title. Best-effort hygiene, not relied upon for
// correctness: failures are logged and dropped.
func (s *Store) markCoincidentSent(ctx context.Context, itemID int64) {
	err := s.InTransaction(ctx, func(tx *sqlx.Tx) error {
		var row itemSQL
		if err := tx.GetContext(ctx, &row, "SELECT * FROM news_items WHERE id = ?", itemID); err != nil {
			return fmt.Errorf("lookup claimed row: %w", err)
		}

		query := `
			UPDATE news_items SET sent = 1
			WHERE id != ? AND sent = 0
			AND ((norm_link != '' AND norm_link = ?) OR (length(norm_title) > ? AND norm_title = ?))
		`
		res, err := tx.ExecContext(ctx, query, itemID, row.NormLink, identity.MinTitleLen, row.NormTitle)
		if err != nil {
			return fmt.Errorf("mark duplicates: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			lgr.Printf("[DEBUG] marked %d duplicate rows sent for item %d", n, itemID)
		}
		return nil
	})
	if err != nil {
		lgr.Printf("[WARN] duplicate cleanup failed for item %d: %v", itemID, err)
	}
}

// GetItem retrieves a ledger record by id
func (s *Store) GetItem(ctx context.Context, id int64) (*domain.NewsItem, error) {
	var row itemSQL
	if err := s.conn.GetContext(ctx, &row, "SELECT * FROM news_items WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item %d not found", id)
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return toDomainItem(&row), nil
}

// CountItems returns total and sent ledger counts for the stats endpoint
func (s *Store) CountItems(ctx context.Context) (total, sent int64, err error) {
	if err = s.conn.GetContext(ctx, &total, "SELECT count(*) FROM news_items"); err != nil {
		return 0, 0, fmt.Errorf("count items: %w", err)
	}
	if err = s.conn.GetContext(ctx, &sent, "SELECT count(*) FROM news_items WHERE sent = 1"); err != nil {
		return 0, 0, fmt.Errorf("count sent items: %w", err)
	}
	return total, sent, nil
}

// toDomainItem converts itemSQL to domain.NewsItem
func toDomainItem(row *itemSQL) *domain.NewsItem {
	return &domain.NewsItem{
		ID:        row.ID,
		GUID:      row.GUID,
		Title:     row.Title,
		Link:      row.Link,
		Feed:      row.Feed,
		Sent:      row.Sent,
		CreatedAt: row.CreatedAt,
	}
}
