package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Subscribe listens on the user's change channel. It returns once Redis
// has confirmed the subscription, so writes made afterwards are seen.
func (s *Store) Subscribe(ctx context.Context, userID string, fn func(domain.Change)) (domain.Subscription, error) {
	ps := s.client.Subscribe(ctx, ChangesChannel(userID))

	// First reply is the subscription confirmation
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	ch := ps.Channel()
	go func() {
		for msg := range ch {
			var c domain.Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				s.logger.Warn("dropping malformed change",
					logger.String("channel", msg.Channel),
					logger.Error(err))
				continue
			}
			fn(c)
		}
	}()

	var once sync.Once
	var closeErr error
	return domain.SubscriptionFunc(func() error {
		once.Do(func() { closeErr = ps.Close() })
		return closeErr
	}), nil
}
