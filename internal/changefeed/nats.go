package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// SubjectPrefix is prepended to the per-user subject: marks.changes.<user>.
const SubjectPrefix = "marks.changes."

const flushTimeout = 5 * time.Second

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// Subject returns the NATS subject carrying userID's changes.
func Subject(userID string) string {
	return SubjectPrefix + subjectReplacer.Replace(userID)
}

// NATS is a Feed backed by a NATS connection, so every agent connected
// to the same server sees the others' writes.
type NATS struct {
	conn   *nats.Conn
	logger logger.Logger
}

// ConnectNATS dials url and keeps reconnecting for the agent's lifetime.
func ConnectNATS(url string, log logger.Logger) (*NATS, error) {
	log = log.Named("nats")
	conn, err := nats.Connect(url,
		nats.Name("marks"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	log.Info("connected to nats", logger.String("url", conn.ConnectedUrl()))
	return &NATS{conn: conn, logger: log}, nil
}

func (n *NATS) Publish(_ context.Context, c domain.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := n.conn.Publish(Subject(c.UserID), data); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Subscribe returns after the server has registered the subscription.
func (n *NATS) Subscribe(ctx context.Context, userID string, fn func(domain.Change)) (domain.Subscription, error) {
	sub, err := n.conn.Subscribe(Subject(userID), func(m *nats.Msg) {
		var c domain.Change
		if err := json.Unmarshal(m.Data, &c); err != nil {
			n.logger.Warn("dropping malformed change", logger.String("subject", m.Subject), logger.Error(err))
			return
		}
		// sanitized subjects can collide
		if c.UserID != userID {
			return
		}
		fn(c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to confirm subscription: %w", err)
	}
	return domain.SubscriptionFunc(sub.Unsubscribe), nil
}

// Close drains pending messages and closes the connection.
// Ping reports whether the connection is currently up.
func (n *NATS) Ping(_ context.Context) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("nats: %s", n.conn.Status())
	}
	return nil
}

func (n *NATS) Close() error {
	return n.conn.Drain()
}
