package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marks/internal/changefeed"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/store/memory"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

var (
	alice = &domain.Identity{ID: "alice", Name: "Alice"}
	bob   = &domain.Identity{ID: "bob", Name: "Bob"}
)

type queryResult struct {
	items []domain.Bookmark
	err   error
}

type pendingQuery struct {
	userID string
	reply  chan queryResult
}

// fakeStore wraps the memory store with switches to hold or fail calls.
type fakeStore struct {
	*memory.Store
	hub *changefeed.Hub

	mu          sync.Mutex
	gateQueries bool
	insertGate  chan struct{}
	deleteGate  chan struct{}
	insertErr   error
	deleteErr   error

	queries    chan *pendingQuery
	subscribes atomic.Int32
}

func newFakeStore() *fakeStore {
	hub := changefeed.NewHub()
	return &fakeStore{
		Store:   memory.New(memory.WithFeed(hub)),
		hub:     hub,
		queries: make(chan *pendingQuery, 16),
	}
}

func (f *fakeStore) Query(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	f.mu.Lock()
	gated := f.gateQueries
	f.mu.Unlock()
	if !gated {
		return f.Store.Query(ctx, userID)
	}
	p := &pendingQuery{userID: userID, reply: make(chan queryResult, 1)}
	f.queries <- p
	r := <-p.reply
	return r.items, r.err
}

func (f *fakeStore) Insert(ctx context.Context, in domain.NewBookmark) (*domain.Bookmark, error) {
	f.mu.Lock()
	gate, err := f.insertGate, f.insertErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return f.Store.Insert(ctx, in)
}

func (f *fakeStore) Delete(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	gate, err := f.deleteGate, f.deleteErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	return f.Store.Delete(ctx, userID, id)
}

func (f *fakeStore) Subscribe(ctx context.Context, userID string, fn func(domain.Change)) (domain.Subscription, error) {
	f.subscribes.Add(1)
	return f.Store.Subscribe(ctx, userID, fn)
}

func (f *fakeStore) set(fn func(f *fakeStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// nextQuery waits for a held Query call.
func (f *fakeStore) nextQuery(t *testing.T) *pendingQuery {
	t.Helper()
	select {
	case p := <-f.queries:
		return p
	case <-time.After(waitFor):
		t.Fatal("no query issued")
		return nil
	}
}

// passThrough answers p with the memory store's current result.
func (f *fakeStore) passThrough(p *pendingQuery) {
	items, err := f.Store.Query(context.Background(), p.userID)
	p.reply <- queryResult{items: items, err: err}
}

func newTestList(t *testing.T, store domain.RecordStore) *List {
	t.Helper()
	var n atomic.Int64
	l := NewList(store, logger.NewNop(), Options{
		ToastDuration: 300 * time.Millisecond,
		NewPlaceholderID: func() string {
			return fmt.Sprintf("p%d", n.Add(1))
		},
	})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func seed(t *testing.T, s domain.RecordStore, userID string, titles ...string) {
	t.Helper()
	for _, title := range titles {
		_, err := s.Insert(context.Background(), domain.NewBookmark{
			UserID: userID, URL: "https://" + title + ".example.com", Title: title,
		})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
}

func storeSet(t *testing.T, s domain.RecordStore, userID string) []domain.Bookmark {
	t.Helper()
	items, err := s.Query(context.Background(), userID)
	require.NoError(t, err)
	return items
}

// settled reports a view with no requests in flight.
func settled(v View) bool {
	return v.Status == StatusReady && !v.Loading && !v.Adding && len(v.Deleting) == 0
}

func waitSettled(t *testing.T, l *List) View {
	t.Helper()
	require.Eventually(t, func() bool { return settled(l.Snapshot()) }, waitFor, tick)
	return l.Snapshot()
}

func barrier(t *testing.T, l *List) {
	t.Helper()
	require.NoError(t, l.do(context.Background(), func() {}))
}

func TestUnauthenticatedList(t *testing.T) {
	store := newFakeStore()
	l := newTestList(t, store)

	v := l.Snapshot()
	assert.Equal(t, StatusUnauthenticated, v.Status)
	assert.Empty(t, v.Bookmarks)
	assert.False(t, v.Empty(), "not fetched is not the empty state")

	ok, err := l.Add(context.Background(), "https://example.com", "Example")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Remove(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Load())
	barrier(t, l)
	assert.Empty(t, l.Snapshot().Bookmarks)
	assert.Equal(t, int32(0), store.subscribes.Load())
}

func TestLoadEmpty(t *testing.T) {
	l := newTestList(t, newFakeStore())
	l.SetIdentity(alice)

	v := waitSettled(t, l)
	assert.True(t, v.Empty())
	assert.Empty(t, v.Error)
	assert.NoError(t, v.Err)
	assert.Equal(t, "alice", v.Identity.ID)
	assert.False(t, v.LastLoad.IsZero())
}

func TestLoadMatchesStore(t *testing.T) {
	store := newFakeStore()
	seed(t, store, "alice", "first", "second", "third")
	seed(t, store, "bob", "other")

	l := newTestList(t, store)
	l.SetIdentity(alice)

	v := waitSettled(t, l)
	want := storeSet(t, store, "alice")
	assert.Equal(t, want, v.Bookmarks)
	assert.Equal(t, "third", v.Bookmarks[0].Title)

	require.NoError(t, l.Load())
	again := waitSettled(t, l)
	assert.Equal(t, v.Bookmarks, again.Bookmarks)
}

func TestLoadFailureKeepsList(t *testing.T) {
	store := newFakeStore()
	seed(t, store, "alice", "kept")
	l := newTestList(t, store)
	l.SetIdentity(alice)
	before := waitSettled(t, l)
	require.Len(t, before.Bookmarks, 1)

	store.set(func(f *fakeStore) { f.gateQueries = true })
	require.NoError(t, l.Load())
	store.nextQuery(t).reply <- queryResult{err: errors.New("connection refused")}

	require.Eventually(t, func() bool { return l.Snapshot().Error != "" }, waitFor, tick)
	v := l.Snapshot()
	assert.ErrorIs(t, v.Err, domain.ErrStoreRead)
	assert.Equal(t, before.Bookmarks, v.Bookmarks)
	assert.Equal(t, StatusReady, v.Status)

	require.NoError(t, l.Load())
	store.passThrough(store.nextQuery(t))
	require.Eventually(t, func() bool { return l.Snapshot().Error == "" }, waitFor, tick)
}

func TestAddBlankIsNoop(t *testing.T) {
	store := newFakeStore()
	l := newTestList(t, store)
	l.SetIdentity(alice)
	waitSettled(t, l)

	tests := []struct {
		name, url, title string
	}{
		{"empty url", "", "title"},
		{"empty title", "http://x", ""},
		{"blank url", "   ", "title"},
		{"blank title", "http://x", "\t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := l.Add(context.Background(), tt.url, tt.title)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, l.Snapshot().Bookmarks)
		})
	}
	assert.Empty(t, storeSet(t, store, "alice"))
}

func TestAddShowsPlaceholderThenReconciles(t *testing.T) {
	store := newFakeStore()
	l := newTestList(t, store)
	l.SetIdentity(alice)
	waitSettled(t, l)

	gate := make(chan struct{})
	store.set(func(f *fakeStore) { f.insertGate = gate })

	ok, err := l.Add(context.Background(), " https://example.com ", "Example")
	require.NoError(t, err)
	require.True(t, ok)

	v := l.Snapshot()
	require.Len(t, v.Bookmarks, 1)
	assert.True(t, v.Bookmarks[0].IsPlaceholder())
	assert.Equal(t, "temp-p1", v.Bookmarks[0].ID)
	assert.Equal(t, "https://example.com", v.Bookmarks[0].URL)
	assert.True(t, v.Adding)

	close(gate)
	require.Eventually(t, func() bool {
		v := l.Snapshot()
		return settled(v) && len(v.Bookmarks) == 1 && !v.Bookmarks[0].IsPlaceholder()
	}, waitFor, tick)

	v = l.Snapshot()
	assert.Equal(t, storeSet(t, store, "alice"), v.Bookmarks)
	assert.Equal(t, "Example", v.Bookmarks[0].Title)
	assert.Equal(t, toastAdded, v.Toast)

	require.Eventually(t, func() bool { return l.Snapshot().Toast == "" }, waitFor, tick)
}

func TestAddFailureDropsPlaceholder(t *testing.T) {
	store := newFakeStore()
	l := newTestList(t, store)
	l.SetIdentity(alice)
	waitSettled(t, l)

	store.set(func(f *fakeStore) {
		f.insertErr = errors.New("disk full")
		f.gateQueries = true
	})

	ok, err := l.Add(context.Background(), "https://example.com", "Example")
	require.NoError(t, err)
	require.True(t, ok)

	// the reconciling load is held, so the write error is observable
	p := store.nextQuery(t)
	v := l.Snapshot()
	assert.Empty(t, v.Bookmarks)
	assert.False(t, v.Adding)
	assert.ErrorIs(t, v.Err, domain.ErrStoreWrite)
	assert.Empty(t, v.Toast)

	store.passThrough(p)
	v = waitSettled(t, l)
	assert.Empty(t, v.Bookmarks)
}

func TestWriteErrorSurvivesReconcilingLoad(t *testing.T) {
	store := newFakeStore()
	seed(t, store, "alice", "sticky")
	l := newTestList(t, store)
	l.SetIdentity(alice)
	before := waitSettled(t, l)

	store.set(func(f *fakeStore) { f.insertErr = errors.New("disk full") })
	ok, err := l.Add(context.Background(), "https://example.com", "Example")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		v := l.Snapshot()
		return settled(v) && v.LastLoad.After(before.LastLoad)
	}, waitFor, tick)
	v := l.Snapshot()
	assert.ErrorIs(t, v.Err, domain.ErrStoreWrite)
	assert.NotEmpty(t, v.Error)
	require.Len(t, v.Bookmarks, 1)

	// a later load keeps it too
	require.NoError(t, l.Load())
	barrier(t, l)
	v = waitSettled(t, l)
	assert.ErrorIs(t, v.Err, domain.ErrStoreWrite)

	// the next applied write clears it
	store.set(func(f *fakeStore) { f.insertErr = nil })
	ok, err = l.Add(context.Background(), "https://example.com", "Example")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, l.Snapshot().Err)
	require.Eventually(t, func() bool { return len(l.Snapshot().Bookmarks) == 2 }, waitFor, tick)
	v = waitSettled(t, l)
	assert.NoError(t, v.Err)
	assert.Empty(t, v.Error)
}

func TestDeleteErrorSurvivesReconcilingLoad(t *testing.T) {
	store := newFakeStore()
	seed(t, store, "alice", "sticky")
	l := newTestList(t, store)
	l.SetIdentity(alice)
	before := waitSettled(t, l)
	id := before.Bookmarks[0].ID

	store.set(func(f *fakeStore) { f.deleteErr = errors.New("permission denied") })
	ok, err := l.Remove(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		v := l.Snapshot()
		return settled(v) && v.LastLoad.After(before.LastLoad)
	}, waitFor, tick)
	v := l.Snapshot()
	assert.ErrorIs(t, v.Err, domain.ErrStoreWrite)
	require.Len(t, v.Bookmarks, 1)
	assert.Equal(t, id, v.Bookmarks[0].ID)
}

func TestWriteErrorWinsOverReadError(t *testing.T) {
	store := newFakeStore()
	l := newTestList(t, store)
	l.SetIdentity(alice)
	waitSettled(t, l)

	store.set(func(f *fakeStore) {
		f.insertErr = errors.New("disk full")
		f.gateQueries = true
	})
	ok, err := l.Add(context.Background(), "https://example.com", "Example")
	require.NoError(t, err)
	require.True(t, ok)

	store.nextQuery(t).reply <- queryResult{err: errors.New("connection refused")}
	v := waitSettled(t, l)
	assert.ErrorIs(t, v.Err, domain.ErrStoreWrite)

	l.SetIdentity(bob)
	store.passThrough(store.nextQuery(t))
	v = waitSettled(t, l)
	assert.NoError(t, v.Err, "identity change clears feedback")
}

func TestRemove(t *testing.T) {
	store := newFakeStore()
	seed(t, store, "alice", "doomed", "kept")
	l := newTestList(t, store)
	l.SetIdentity(alice)
	v := waitSettled(t, l)
	require.Len(t, v.Bookmarks, 2)
	doomed := v.Bookmarks[1]
	require.Equal(t, "doomed", doomed.Title)

	gate := make(chan struct{})
	store.set(func(f *fakeStore) { f.deleteGate = gate })

	ok, err := l.Remove(context.Background(), doomed.ID)
	require.NoError(t, err)
	require.True(t, ok)

	v = l.Snapshot()
	require.Len(t, v.Bookmarks, 1)
	assert.Equal(t, "kept", v.Bookmarks[0].Title)
	assert.True(t, v.IsDeleting(doomed.ID))

	ok, err = l.Remove(context.Background(), doomed.ID)
	require.NoError(t, err)
	assert.False(t, ok, "delete already in flight")

	close(gate)
	require.Eventually(t, func() bool {
		v := l.Snapshot()
		return settled(v) && v.Toast == toastDeleted
	}, waitFor, tick)

	assert.Equal(t, storeSet(t, store, "alice"), l.Snapshot().Bookmarks)
	assert.Len(t, storeSet(t, store, "alice"), 1)
}

func TestRemoveNoops(t *testing.T) {
	store := newFakeStore()
	seed(t, store, "bob", "bobs")
	l := newTestList(t, store)
	l.SetIdentity(alice)
	waitSettled(t, l)

	gate := make(chan struct{})
	defer close(gate)
	store.set(func(f *fakeStore) { f.insertGate = gate })
	ok, err := l.Add(context.Background(), "https://example.com", "Example")
	require.NoError(t, err)
	require.True(t, ok)
	placeholder := l.Snapshot().Bookmarks[0]

	tests := []struct {
		name string
		id   string
	}{
		{"unknown id", "does-not-exist"},
		{"placeholder", placeholder.ID},
		{"another user's bookmark", storeSet(t, store, "bob")[0].ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := l.Remove(context.Background(), tt.id)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
	assert.Len(t, l.Snapshot().Bookmarks, 1)
	assert.Len(t, storeSet(t, store, "bob"), 1)
}

func TestRemoveFailureReconciles(t *testing.T) {
	store := newFakeStore()
	seed(t, store, "alice", "sticky")
	l := newTestList(t, store)
	l.SetIdentity(alice)
	v := waitSettled(t, l)
	id := v.Bookmarks[0].ID

	store.set(func(f *fakeStore) {
		f.deleteErr = errors.New("permission denied")
		f.gateQueries = true
	})

	ok, err := l.Remove(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	p := store.nextQuery(t)
	v = l.Snapshot()
	assert.Empty(t, v.Bookmarks, "not restored before reconciliation")
	assert.ErrorIs(t, v.Err, domain.ErrStoreWrite)

	store.passThrough(p)
	v = waitSettled(t, l)
	require.Len(t, v.Bookmarks, 1)
	assert.Equal(t, id, v.Bookmarks[0].ID)
}

func TestOverlappingLoadsLastResolvedWins(t *testing.T) {
	store := newFakeStore()
	store.set(func(f *fakeStore) { f.gateQueries = true })
	l := newTestList(t, store)
	l.SetIdentity(alice)
	store.nextQuery(t).reply <- queryResult{}
	waitSettled(t, l)

	older := []domain.Bookmark{{ID: "a", UserID: "alice", URL: "https://a", Title: "A"}}
	newer := []domain.Bookmark{{ID: "b", UserID: "alice", URL: "https://b", Title: "B"}}

	require.NoError(t, l.Load())
	require.NoError(t, l.Load())
	first := store.nextQuery(t)
	second := store.nextQuery(t)

	second.reply <- queryResult{items: newer}
	require.Eventually(t, func() bool {
		b := l.Snapshot().Bookmarks
		return len(b) == 1 && b[0].ID == "b"
	}, waitFor, tick)
	assert.True(t, l.Snapshot().Loading, "first load still in flight")

	first.reply <- queryResult{items: older}
	v := waitSettled(t, l)
	require.Len(t, v.Bookmarks, 1)
	assert.Equal(t, "a", v.Bookmarks[0].ID)
}

func TestIdentitySwitchDiscardsStaleResults(t *testing.T) {
	store := newFakeStore()
	seed(t, store, "alice", "alices")
	seed(t, store, "bob", "bobs")
	store.set(func(f *fakeStore) { f.gateQueries = true })

	l := newTestList(t, store)
	l.SetIdentity(alice)
	l.SetIdentity(bob)

	pending := map[string]*pendingQuery{}
	for range 2 {
		p := store.nextQuery(t)
		pending[p.userID] = p
	}
	require.Contains(t, pending, "alice")
	require.Contains(t, pending, "bob")

	store.passThrough(pending["alice"])
	time.Sleep(10 * time.Millisecond)
	barrier(t, l)
	v := l.Snapshot()
	assert.Equal(t, StatusLoading, v.Status)
	assert.Empty(t, v.Bookmarks)

	store.passThrough(pending["bob"])
	v = waitSettled(t, l)
	require.Len(t, v.Bookmarks, 1)
	assert.Equal(t, "bobs", v.Bookmarks[0].Title)
	assert.Equal(t, "bob", v.Identity.ID)
}

func TestSignOutClearsList(t *testing.T) {
	store := newFakeStore()
	seed(t, store, "alice", "one")
	l := newTestList(t, store)
	l.SetIdentity(alice)
	waitSettled(t, l)
	require.Eventually(t, func() bool { return store.hub.Subscribers("alice") == 1 }, waitFor, tick)

	l.SetIdentity(nil)
	barrier(t, l)
	v := l.Snapshot()
	assert.Equal(t, StatusUnauthenticated, v.Status)
	assert.Nil(t, v.Identity)
	assert.Empty(t, v.Bookmarks)
	require.Eventually(t, func() bool { return store.hub.Subscribers("alice") == 0 }, waitFor, tick)
}

func TestOneSubscriptionPerIdentity(t *testing.T) {
	store := newFakeStore()
	l := newTestList(t, store)

	l.SetIdentity(alice)
	l.SetIdentity(bob)
	l.SetIdentity(alice)
	waitSettled(t, l)

	require.Eventually(t, func() bool {
		return store.hub.Subscribers("alice") == 1 && store.hub.Subscribers("bob") == 0
	}, waitFor, tick)
	assert.Equal(t, int32(3), store.subscribes.Load())

	l.SetIdentity(&domain.Identity{ID: "alice", Name: "Alice Renamed"})
	barrier(t, l)
	assert.Equal(t, "Alice Renamed", l.Snapshot().Identity.Name)
	assert.Equal(t, int32(3), store.subscribes.Load(), "same user keeps its subscription")
}

func TestRemoteChangeTriggersLoad(t *testing.T) {
	store := newFakeStore()
	l := newTestList(t, store)
	l.SetIdentity(alice)
	waitSettled(t, l)
	require.Eventually(t, func() bool { return store.hub.Subscribers("alice") == 1 }, waitFor, tick)

	// another agent writes to the same store
	seed(t, store, "alice", "remote")

	require.Eventually(t, func() bool {
		b := l.Snapshot().Bookmarks
		return len(b) == 1 && b[0].Title == "remote"
	}, waitFor, tick)
}

func TestCloseDiscardsPendingResults(t *testing.T) {
	store := newFakeStore()
	store.set(func(f *fakeStore) { f.gateQueries = true })
	gate := make(chan struct{})
	store.set(func(f *fakeStore) { f.insertGate = gate })

	l := NewList(store, logger.NewNop(), Options{})
	l.SetIdentity(alice)
	p := store.nextQuery(t)
	p.reply <- queryResult{}
	require.Eventually(t, func() bool { return l.Snapshot().Status == StatusReady }, waitFor, tick)

	ok, err := l.Add(context.Background(), "https://example.com", "Example")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Load())
	pending := store.nextQuery(t)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	before := l.Snapshot()

	close(gate)
	pending.reply <- queryResult{items: []domain.Bookmark{{ID: "x", UserID: "alice"}}}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, before, l.Snapshot())
	assert.ErrorIs(t, l.Load(), ErrClosed)
	_, err = l.Add(context.Background(), "https://example.com", "Example")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusUnauthenticated, "unauthenticated"},
		{StatusLoading, "loading"},
		{StatusReady, "ready"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestCloseReleasesSubscription(t *testing.T) {
	store := newFakeStore()
	l := newTestList(t, store)
	l.SetIdentity(alice)
	waitSettled(t, l)
	require.Eventually(t, func() bool { return store.hub.Subscribers("alice") == 1 }, waitFor, tick)

	require.NoError(t, l.Close())
	require.Eventually(t, func() bool { return store.hub.Subscribers("alice") == 0 }, waitFor, tick)
}
