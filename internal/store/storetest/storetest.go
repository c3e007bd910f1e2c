// Package storetest holds the behaviour every domain.RecordStore must share.
// Each store package runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// Factory returns an empty store. Cleanup is the caller's job (t.Cleanup).
type Factory func(t *testing.T) domain.RecordStore

// Run exercises s against the RecordStore contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("query empty", func(t *testing.T) { testQueryEmpty(t, newStore(t)) })
	t.Run("insert then query newest first", func(t *testing.T) { testInsertOrder(t, newStore(t)) })
	t.Run("insert rejects empty fields", func(t *testing.T) { testInsertValidation(t, newStore(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("delete scoped by user", func(t *testing.T) { testDeleteOtherUser(t, newStore(t)) })
	t.Run("subscribe sees writes", func(t *testing.T) { testSubscribe(t, newStore(t)) })
	t.Run("unsubscribe stops delivery", func(t *testing.T) { testUnsubscribe(t, newStore(t)) })
}

func testQueryEmpty(t *testing.T, s domain.RecordStore) {
	got, err := s.Query(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testInsertOrder(t *testing.T, s domain.RecordStore) {
	ctx := context.Background()

	var inserted []*domain.Bookmark
	for _, title := range []string{"first", "second", "third"} {
		b, err := s.Insert(ctx, domain.NewBookmark{UserID: "alice", URL: "https://example.com/" + title, Title: title})
		require.NoError(t, err)
		require.NotEmpty(t, b.ID)
		assert.False(t, b.IsPlaceholder())
		assert.False(t, b.CreatedAt.IsZero())
		assert.Equal(t, "alice", b.UserID)
		inserted = append(inserted, b)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := s.Insert(ctx, domain.NewBookmark{UserID: "bob", URL: "https://bob.example", Title: "bob"})
	require.NoError(t, err)

	got, err := s.Query(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"third", "second", "first"}, titles(got))
	assert.Equal(t, inserted[2].ID, got[0].ID)
	for _, b := range got {
		assert.Equal(t, "alice", b.UserID)
	}

	again, err := s.Query(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, got, again, "two queries without writes must agree")
}

func testInsertValidation(t *testing.T, s domain.RecordStore) {
	ctx := context.Background()
	for _, in := range []domain.NewBookmark{
		{UserID: "alice", URL: "", Title: "title"},
		{UserID: "alice", URL: "http://x", Title: ""},
		{UserID: "", URL: "http://x", Title: "title"},
	} {
		_, err := s.Insert(ctx, in)
		assert.True(t, errors.Is(err, domain.ErrValidation), "insert %+v: %v", in, err)
	}

	got, err := s.Query(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testDelete(t *testing.T, s domain.RecordStore) {
	ctx := context.Background()
	keep, err := s.Insert(ctx, domain.NewBookmark{UserID: "alice", URL: "https://keep.example", Title: "keep"})
	require.NoError(t, err)
	drop, err := s.Insert(ctx, domain.NewBookmark{UserID: "alice", URL: "https://drop.example", Title: "drop"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "alice", drop.ID))

	got, err := s.Query(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, keep.ID, got[0].ID)

	err = s.Delete(ctx, "alice", drop.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "second delete: %v", err)
}

func testDeleteOtherUser(t *testing.T, s domain.RecordStore) {
	ctx := context.Background()
	b, err := s.Insert(ctx, domain.NewBookmark{UserID: "alice", URL: "https://a.example", Title: "a"})
	require.NoError(t, err)

	err = s.Delete(ctx, "mallory", b.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "foreign delete: %v", err)

	got, err := s.Query(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

type recorder struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (r *recorder) add(c domain.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []domain.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Change(nil), r.changes...)
}

func testSubscribe(t *testing.T, s domain.RecordStore) {
	ctx := context.Background()
	rec := &recorder{}
	sub, err := s.Subscribe(ctx, "alice", rec.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	b, err := s.Insert(ctx, domain.NewBookmark{UserID: "alice", URL: "https://a.example", Title: "a"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, domain.NewBookmark{UserID: "bob", URL: "https://b.example", Title: "b"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "alice", b.ID))

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 2 }, 5*time.Second, 10*time.Millisecond)

	got := rec.snapshot()
	for _, c := range got {
		assert.Equal(t, "alice", c.UserID)
	}
	assert.Equal(t, domain.ChangeInsert, got[0].Kind)
	assert.Equal(t, b.ID, got[0].BookmarkID)
	assert.Equal(t, domain.ChangeDelete, got[1].Kind)
}

func testUnsubscribe(t *testing.T, s domain.RecordStore) {
	ctx := context.Background()
	rec := &recorder{}
	sub, err := s.Subscribe(ctx, "alice", rec.add)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	_, err = s.Insert(ctx, domain.NewBookmark{UserID: "alice", URL: "https://a.example", Title: "a"})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func titles(list []domain.Bookmark) []string {
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = b.Title
	}
	return out
}
