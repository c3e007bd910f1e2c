package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Store is a domain.RecordStore over Redis. Records live at
// marks:bookmark:<id>, ordering in marks:user:<uid>:bookmarks and
// changes go out on marks:changes:<uid>.
type Store struct {
	client *redis.Client
	logger logger.Logger
	now    func() time.Time
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client, log logger.Logger) *Store {
	return &Store{
		client: client,
		logger: log.Named("redis_store"),
		now:    time.Now,
	}
}

// publish announces a committed write. Failures are logged, not returned.
func (s *Store) publish(ctx context.Context, c domain.Change) {
	data, err := json.Marshal(c)
	if err != nil {
		s.logger.Warn("failed to marshal change", logger.Error(err))
		return
	}
	if err := s.client.Publish(ctx, ChangesChannel(c.UserID), data).Err(); err != nil {
		s.logger.Warn("failed to publish change",
			logger.String("user_id", c.UserID),
			logger.String("kind", string(c.Kind)),
			logger.Error(err))
	}
}

// score orders by creation time; microseconds stay exact in a float64.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func unmarshalBookmark(raw string) (domain.Bookmark, error) {
	var b domain.Bookmark
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return b, fmt.Errorf("failed to unmarshal bookmark: %w", err)
	}
	return b, nil
}
