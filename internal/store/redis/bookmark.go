package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Query returns the user's bookmarks, newest first
func (s *Store) Query(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	ids, err := s.client.ZRevRange(ctx, UserBookmarksKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmark IDs: %w", err)
	}

	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	bookmarks := make([]domain.Bookmark, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a record: skip it
			s.logger.Debug("dangling bookmark id", logger.String("id", ids[i]))
			continue
		}
		b, err := unmarshalBookmark(raw)
		if err != nil {
			return nil, err
		}
		bookmarks = append(bookmarks, b)
	}

	domain.SortNewestFirst(bookmarks)
	return bookmarks, nil
}

// Insert stores the record and its index entry in one transaction
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

	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bookmark: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BookmarkKey(b.ID), data, 0)
		pipe.ZAdd(ctx, UserBookmarksKey(b.UserID), redis.Z{Score: score(b.CreatedAt), Member: b.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save bookmark: %w", err)
	}

	s.publish(ctx, domain.Change{Kind: domain.ChangeInsert, UserID: b.UserID, BookmarkID: b.ID})
	return &b, nil
}

// Delete removes a bookmark owned by userID. The index entry and the
// record go in one transaction, guarded by a WATCH on the user's index.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	index := UserBookmarksKey(userID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		// membership in the user's index scopes the delete to the owner
		if err := tx.ZScore(ctx, index, id).Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.NotFound("bookmark", id)
			}
			return fmt.Errorf("failed to look up bookmark: %w", err)
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, index, id)
			pipe.Del(ctx, BookmarkKey(id))
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to delete bookmark: %w", err)
		}
		return nil
	}, index)
	if err != nil {
		return err
	}

	s.publish(ctx, domain.Change{Kind: domain.ChangeDelete, UserID: userID, BookmarkID: id})
	return nil
}
