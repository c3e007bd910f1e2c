// Package sqlite is a domain.RecordStore backed by an embedded SQLite file.
// Change notifications go through an injected changefeed.Feed, since SQLite
// has no notification channel of its own.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/xid"
	_ "modernc.org/sqlite"

	"github.com/MrSnakeDoc/marks/internal/changefeed"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

type Store struct {
	conn   *sql.DB
	feed   changefeed.Feed
	logger logger.Logger
	now    func() time.Time
	sb     sq.StatementBuilderType
}

// New opens (or creates) the database at path and runs migrations.
// ":memory:" gives a throwaway database.
func New(path string, feed changefeed.Feed, log logger.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	// one connection: ":memory:" is per-connection and SQLite has a single writer
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	s := &Store{
		conn:   conn,
		feed:   feed,
		logger: log.Named("sqlite_store"),
		now:    time.Now,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS bookmarks (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			url        TEXT NOT NULL,
			title      TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_bookmarks_user_created ON bookmarks(user_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating bookmarks table: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	query, args, err := s.sb.
		Select("id", "user_id", "url", "title", "created_at").
		From("bookmarks").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building query: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying bookmarks: %w", err)
	}
	defer rows.Close()

	bookmarks := []domain.Bookmark{}
	for rows.Next() {
		var (
			b       domain.Bookmark
			created int64
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.URL, &b.Title, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scanning bookmark: %w", err)
		}
		b.CreatedAt = time.Unix(0, created).UTC()
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating bookmarks: %w", err)
	}
	return bookmarks, nil
}

func (s *Store) Insert(ctx context.Context, in domain.NewBookmark) (*domain.Bookmark, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	b := domain.Bookmark{
		ID:        xid.New().String(),
		UserID:    in.UserID,
		URL:       strings.TrimSpace(in.URL),
		Title:     strings.TrimSpace(in.Title),
		CreatedAt: s.now().UTC(),
	}

	query, args, err := s.sb.
		Insert("bookmarks").
		Columns("id", "user_id", "url", "title", "created_at").
		Values(b.ID, b.UserID, b.URL, b.Title, b.CreatedAt.UnixNano()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building insert: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: inserting bookmark: %w", err)
	}

	s.publish(ctx, domain.Change{Kind: domain.ChangeInsert, UserID: b.UserID, BookmarkID: b.ID})
	return &b, nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	query, args, err := s.sb.
		Delete("bookmarks").
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: building delete: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: deleting bookmark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return domain.NotFound("bookmark", id)
	}

	s.publish(ctx, domain.Change{Kind: domain.ChangeDelete, UserID: userID, BookmarkID: id})
	return nil
}

func (s *Store) Subscribe(ctx context.Context, userID string, fn func(domain.Change)) (domain.Subscription, error) {
	return s.feed.Subscribe(ctx, userID, fn)
}

func (s *Store) publish(ctx context.Context, c domain.Change) {
	if err := s.feed.Publish(ctx, c); err != nil {
		s.logger.Warn("failed to publish change",
			logger.String("user_id", c.UserID),
			logger.String("kind", string(c.Kind)),
			logger.Error(err))
	}
}
