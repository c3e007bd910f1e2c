package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marks/internal/changefeed"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/store/storetest"
)

// newTestDB returns a store over a fresh in-memory database.
func newTestDB(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", changefeed.NewHub(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.RecordStore { return newTestDB(t) })
}

func TestCreatedAtRoundTripsNanoseconds(t *testing.T) {
	s := newTestDB(t)
	at := time.Date(2025, 2, 3, 4, 5, 6, 789, time.UTC)
	s.now = func() time.Time { return at }

	b, err := s.Insert(context.Background(), domain.NewBookmark{UserID: "u", URL: "https://x.example", Title: "x"})
	require.NoError(t, err)

	got, err := s.Query(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, at.Equal(got[0].CreatedAt))
	assert.Equal(t, *b, got[0])
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marks.db")
	ctx := context.Background()

	s, err := New(path, changefeed.NewHub(), logger.NewNop())
	require.NoError(t, err)
	b, err := s.Insert(ctx, domain.NewBookmark{UserID: "u", URL: "https://x.example", Title: "x"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path, changefeed.NewHub(), logger.NewNop())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Query(ctx, "u")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)
}
