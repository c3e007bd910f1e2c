package changefeed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

func TestHubDeliversToMatchingUserOnly(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	var alice, bob atomic.Int32
	subA, err := hub.Subscribe(ctx, "alice", func(domain.Change) { alice.Add(1) })
	require.NoError(t, err)
	defer subA.Unsubscribe()
	subB, err := hub.Subscribe(ctx, "bob", func(domain.Change) { bob.Add(1) })
	require.NoError(t, err)
	defer subB.Unsubscribe()

	require.NoError(t, hub.Publish(ctx, domain.Change{Kind: domain.ChangeInsert, UserID: "alice", BookmarkID: "b1"}))

	require.Eventually(t, func() bool { return alice.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), bob.Load())
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	var got atomic.Int32
	sub, err := hub.Subscribe(ctx, "alice", func(domain.Change) { got.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers("alice"))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe(), "second unsubscribe is a no-op")
	assert.Equal(t, 0, hub.Subscribers("alice"))

	require.NoError(t, hub.Publish(ctx, domain.Change{Kind: domain.ChangeDelete, UserID: "alice"}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), got.Load())
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	release := make(chan struct{})
	sub, err := hub.Subscribe(ctx, "alice", func(domain.Change) { <-release })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			_ = hub.Publish(ctx, domain.Change{Kind: domain.ChangeInsert, UserID: "alice"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)
}
