package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

const (
	listenRetryMin = 500 * time.Millisecond
	listenRetryMax = 30 * time.Second
)

// listen holds one pooled connection on LISTEN and republishes every
// notification to the hub, reconnecting with backoff until ctx ends.
func (s *Store) listen(ctx context.Context) {
	defer s.wg.Done()

	wait := listenRetryMin
	first := true
	for {
		err := s.listenOnce(ctx, func() {
			if first {
				close(s.listening)
				first = false
			}
			wait = listenRetryMin
		})
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("change listener interrupted, reconnecting",
			logger.Duration("retry_in", wait),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > listenRetryMax {
			wait = listenRetryMax
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, onListening func()) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listener connection: %w", err)
	}
	// a LISTENing connection must never go back to the pool
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.logger.Debug("listening for bookmark changes", logger.String("channel", NotifyChannel))
	onListening()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		c, err := parseNotification(n.Payload)
		if err != nil {
			s.logger.Warn("dropping malformed notification", logger.Error(err))
			continue
		}
		_ = s.hub.Publish(ctx, c)
	}
}

func parseNotification(payload string) (domain.Change, error) {
	var c domain.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return c, fmt.Errorf("decoding notification: %w", err)
	}
	if c.UserID == "" {
		return c, errors.New("notification has no user_id")
	}
	switch c.Kind {
	case domain.ChangeInsert, domain.ChangeUpdate, domain.ChangeDelete:
	default:
		return c, fmt.Errorf("unknown change kind %q", c.Kind)
	}
	return c, nil
}
