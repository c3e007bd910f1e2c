// Package memory is an in-process RecordStore used by the dev backend and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/MrSnakeDoc/marks/internal/changefeed"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Store keeps bookmarks per user behind a RWMutex and publishes
// every committed write to its feed.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]domain.Bookmark
	users  map[string][]string // userID -> bookmark ids
	feed   changefeed.Feed
	logger logger.Logger
	now    func() time.Time
}

type Option func(*Store)

// WithFeed replaces the default in-process hub.
func WithFeed(f changefeed.Feed) Option { return func(s *Store) { s.feed = f } }

// WithLogger sets where failed change publishes are reported.
func WithLogger(log logger.Logger) Option {
	return func(s *Store) { s.logger = log.Named("memory_store") }
}

// WithClock overrides time.Now for CreatedAt.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(opts ...Option) *Store {
	s := &Store{
		byID:   make(map[string]domain.Bookmark),
		users:  make(map[string][]string),
		feed:   changefeed.NewHub(),
		logger: logger.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Query(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := s.users[userID]
	out := make([]domain.Bookmark, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	s.mu.RUnlock()

	domain.SortNewestFirst(out)
	return out, nil
}

func (s *Store) Insert(ctx context.Context, in domain.NewBookmark) (*domain.Bookmark, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := domain.Bookmark{
		ID:        xid.New().String(),
		UserID:    in.UserID,
		URL:       strings.TrimSpace(in.URL),
		Title:     strings.TrimSpace(in.Title),
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.byID[b.ID] = b
	s.users[b.UserID] = append(s.users[b.UserID], b.ID)
	s.mu.Unlock()

	s.publish(ctx, domain.Change{Kind: domain.ChangeInsert, UserID: b.UserID, BookmarkID: b.ID})
	return &b, nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	b, ok := s.byID[id]
	if !ok || b.UserID != userID {
		s.mu.Unlock()
		return domain.NotFound("bookmark", id)
	}
	delete(s.byID, id)
	ids := s.users[userID]
	for i, v := range ids {
		if v == id {
			s.users[userID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publish(ctx, domain.Change{Kind: domain.ChangeDelete, UserID: userID, BookmarkID: id})
	return nil
}

func (s *Store) Subscribe(ctx context.Context, userID string, fn func(domain.Change)) (domain.Subscription, error) {
	return s.feed.Subscribe(ctx, userID, fn)
}

// publish is best effort: the write is already committed.
func (s *Store) publish(ctx context.Context, c domain.Change) {
	if err := s.feed.Publish(ctx, c); err != nil {
		s.logger.Warn("failed to publish change",
			logger.String("user_id", c.UserID),
			logger.String("kind", string(c.Kind)),
			logger.Error(err))
	}
}
