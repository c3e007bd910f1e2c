// Package postgres is a domain.RecordStore backed by PostgreSQL. A trigger
// on the bookmarks table emits pg_notify events that a single listener
// connection fans out to subscribers.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"github.com/MrSnakeDoc/marks/internal/changefeed"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// NotifyChannel is the LISTEN/NOTIFY channel the trigger writes to.
const NotifyChannel = "marks_bookmark_changes"

type Store struct {
	pool   *pgxpool.Pool
	hub    *changefeed.Hub
	logger logger.Logger
	now    func() time.Time
	sb     sq.StatementBuilderType

	listening chan struct{} // closed once the first LISTEN succeeded
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New connects to dsn, migrates the schema and starts the change listener.
func New(ctx context.Context, dsn string, log logger.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	s := &Store{
		pool:      pool,
		hub:       changefeed.NewHub(),
		logger:    log.Named("postgres_store"),
		now:       time.Now,
		sb:        sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		listening: make(chan struct{}),
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.listen(listenCtx)

	return s, nil
}

// Close stops the listener and closes the pool.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Query(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	query, args, err := s.sb.
		Select("id", "user_id", "url", "title", "created_at").
		From("bookmarks").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: building query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: querying bookmarks: %w", err)
	}
	defer rows.Close()

	bookmarks := []domain.Bookmark{}
	for rows.Next() {
		var b domain.Bookmark
		if err := rows.Scan(&b.ID, &b.UserID, &b.URL, &b.Title, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scanning bookmark: %w", err)
		}
		b.CreatedAt = b.CreatedAt.UTC()
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating bookmarks: %w", err)
	}
	return bookmarks, nil
}

func (s *Store) Insert(ctx context.Context, in domain.NewBookmark) (*domain.Bookmark, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	b := domain.Bookmark{
		ID:     xid.New().String(),
		UserID: in.UserID,
		URL:    strings.TrimSpace(in.URL),
		Title:  strings.TrimSpace(in.Title),
	}

	query, args, err := s.sb.
		Insert("bookmarks").
		Columns("id", "user_id", "url", "title", "created_at").
		Values(b.ID, b.UserID, b.URL, b.Title, s.now().UTC()).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: building insert: %w", err)
	}

	if err := s.pool.QueryRow(ctx, query, args...).Scan(&b.CreatedAt); err != nil {
		return nil, fmt.Errorf("postgres: inserting bookmark: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	query, args, err := s.sb.
		Delete("bookmarks").
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: building delete: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: deleting bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("bookmark", id)
	}
	return nil
}

// Subscribe waits until the listener is active, then registers fn.
func (s *Store) Subscribe(ctx context.Context, userID string, fn func(domain.Change)) (domain.Subscription, error) {
	select {
	case <-s.listening:
	case <-ctx.Done():
		return nil, fmt.Errorf("postgres: waiting for change listener: %w", ctx.Err())
	}
	return s.hub.Subscribe(ctx, userID, fn)
}
