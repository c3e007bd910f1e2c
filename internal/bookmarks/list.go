// Package bookmarks keeps the signed-in user's bookmark list in sync with
// the record store.
//
// A List is an actor: one goroutine owns all list state and handles
// commands, store completions, change notifications and timer expiries in
// order. Store calls run on their own goroutines and post their results
// back. Readers get copies through Snapshot.
package bookmarks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("bookmark list closed")

// Options tunes a List; zero values take the defaults.
type Options struct {
	ToastDuration    time.Duration    // default DefaultToastDuration
	Now              func() time.Time // placeholder timestamps, default time.Now
	NewPlaceholderID func() string    // default uuid.NewString
}

type List struct {
	store  domain.RecordStore
	logger logger.Logger
	opts   Options

	events    chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	view      viewStore

	// Owned by the loop goroutine.
	identity     *domain.Identity
	epoch        uint64
	sub          domain.Subscription
	confirmed    []domain.Bookmark   // last store result, adjusted by completed writes
	placeholders []domain.Bookmark   // inserts in flight, newest first
	deleting     map[string]struct{} // deletes in flight
	loads        int
	fetched      bool
	readErr      error // last load failure, cleared by a successful load
	writeErr     error // last write failure, cleared by the next applied write
	lastLoad     time.Time
	toast        string
	toastSeq     uint64
	toastTimer   *time.Timer
}

func NewList(store domain.RecordStore, log logger.Logger, opts Options) *List {
	if opts.ToastDuration <= 0 {
		opts.ToastDuration = DefaultToastDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewPlaceholderID == nil {
		opts.NewPlaceholderID = uuid.NewString
	}

	l := &List{
		store:    store,
		logger:   log.Named("bookmarks"),
		opts:     opts,
		events:   make(chan func()),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		deleting: make(map[string]struct{}),
	}
	l.publish()
	go l.run()
	return l
}

func (l *List) run() {
	defer close(l.stopped)
	for {
		select {
		case fn := <-l.events:
			fn()
		case <-l.done:
			l.teardown()
			return
		}
	}
}

// post queues fn on the loop. It reports false once the list is closed;
// fn is then dropped.
func (l *List) post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.done:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (l *List) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.post(func() { fn(); close(finished) }) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─────────────────────────────────────────────────────────────────
// Commands
// ─────────────────────────────────────────────────────────────────

// SetIdentity switches the list to id (nil when signed out). The list and
// its feedback are cleared; for a present identity a change subscription
// is acquired and a load started.
func (l *List) SetIdentity(id *domain.Identity) {
	var cp *domain.Identity
	if id != nil {
		v := *id
		cp = &v
	}
	l.post(func() { l.setIdentity(cp) })
}

// Load fetches the identity's bookmarks in the background.
func (l *List) Load() error {
	if !l.post(l.load) {
		return ErrClosed
	}
	return nil
}

// Add shows a placeholder for (url, title) and inserts it. It returns
// false without touching the list when no one is signed in or a field is
// blank. It returns once the placeholder is visible.
func (l *List) Add(ctx context.Context, url, title string) (bool, error) {
	var applied bool
	writeCtx := context.WithoutCancel(ctx)
	err := l.do(ctx, func() { applied = l.add(writeCtx, url, title) })
	return applied, err
}

// Remove hides the confirmed bookmark id and deletes it. It returns false
// when id is not displayed, is a placeholder, is already being deleted or
// no one is signed in.
func (l *List) Remove(ctx context.Context, id string) (bool, error) {
	var applied bool
	writeCtx := context.WithoutCancel(ctx)
	err := l.do(ctx, func() { applied = l.remove(writeCtx, id) })
	return applied, err
}

// Snapshot returns a copy of the current view.
func (l *List) Snapshot() View {
	return l.view.snapshot()
}

// Close stops the loop and releases the subscription and toast timer.
// Store calls still in flight finish on their own; their results are
// dropped.
func (l *List) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	<-l.stopped
	return nil
}

// ─────────────────────────────────────────────────────────────────
// Loop handlers
// ─────────────────────────────────────────────────────────────────

func (l *List) setIdentity(id *domain.Identity) {
	if id == nil && l.identity == nil {
		return
	}
	if id != nil && l.identity != nil && id.ID == l.identity.ID {
		l.identity = id
		l.publish()
		return
	}

	l.epoch++
	l.releaseSubscription()
	l.stopToast()
	l.identity = id
	l.confirmed = nil
	l.placeholders = nil
	l.deleting = make(map[string]struct{})
	l.loads = 0
	l.fetched = false
	l.readErr = nil
	l.writeErr = nil
	l.lastLoad = time.Time{}

	if id == nil {
		l.logger.Debug("identity cleared")
		l.publish()
		return
	}

	l.logger.Debug("identity set", logger.String("user_id", id.ID))
	l.subscribe(l.epoch, id.ID)
	l.load()
}

func (l *List) subscribe(epoch uint64, userID string) {
	onChange := func(c domain.Change) {
		l.post(func() {
			if l.epoch != epoch {
				return
			}
			l.logger.Debug("remote change",
				logger.String("kind", string(c.Kind)),
				logger.String("bookmark_id", c.BookmarkID))
			l.load()
		})
	}

	go func() {
		sub, err := l.store.Subscribe(context.Background(), userID, onChange)
		if err != nil {
			l.logger.Warn("change subscription failed",
				logger.String("user_id", userID), logger.Error(err))
			return
		}
		accepted := l.post(func() {
			if l.epoch != epoch || l.sub != nil {
				go release(l.logger, sub)
				return
			}
			l.sub = sub
		})
		if !accepted {
			release(l.logger, sub)
		}
	}()
}

// releaseSubscription drops the current subscription without waiting:
// its delivery goroutine may itself be blocked posting to the loop.
func (l *List) releaseSubscription() {
	if l.sub == nil {
		return
	}
	sub := l.sub
	l.sub = nil
	go release(l.logger, sub)
}

func release(log logger.Logger, sub domain.Subscription) {
	if err := sub.Unsubscribe(); err != nil {
		log.Warn("unsubscribe failed", logger.Error(err))
	}
}

func (l *List) load() {
	if l.identity == nil {
		return
	}
	epoch, userID := l.epoch, l.identity.ID
	l.loads++
	l.publish()

	go func() {
		items, err := l.store.Query(context.Background(), userID)
		l.post(func() { l.loadDone(epoch, items, err) })
	}()
}

func (l *List) loadDone(epoch uint64, items []domain.Bookmark, err error) {
	if epoch != l.epoch {
		return
	}
	l.loads--
	l.fetched = true

	if err != nil {
		l.readErr = domain.StoreReadError("load", err)
		l.logger.Warn("failed to load bookmarks", logger.Error(err))
	} else {
		domain.SortNewestFirst(items)
		l.confirmed = items
		l.readErr = nil
		l.lastLoad = time.Now()
	}
	l.publish()
}

func (l *List) add(ctx context.Context, url, title string) bool {
	if l.identity == nil {
		return false
	}
	url, title = strings.TrimSpace(url), strings.TrimSpace(title)
	if url == "" || title == "" {
		return false
	}

	epoch := l.epoch
	placeholder := domain.Bookmark{
		ID:        domain.PlaceholderPrefix + l.opts.NewPlaceholderID(),
		UserID:    l.identity.ID,
		URL:       url,
		Title:     title,
		CreatedAt: l.opts.Now(),
	}
	l.placeholders = append([]domain.Bookmark{placeholder}, l.placeholders...)
	l.writeErr = nil
	l.publish()

	in := domain.NewBookmark{UserID: placeholder.UserID, URL: url, Title: title}
	go func() {
		created, err := l.store.Insert(ctx, in)
		l.post(func() { l.insertDone(epoch, placeholder.ID, created, err) })
	}()
	return true
}

func (l *List) insertDone(epoch uint64, placeholderID string, created *domain.Bookmark, err error) {
	if epoch != l.epoch {
		return
	}
	l.placeholders = removeID(l.placeholders, placeholderID)

	if err != nil {
		l.writeErr = domain.StoreWriteError("insert", err)
		l.logger.Warn("failed to add bookmark", logger.Error(err))
	} else {
		if created != nil && indexOf(l.confirmed, created.ID) < 0 {
			l.confirmed = append([]domain.Bookmark{*created}, l.confirmed...)
			domain.SortNewestFirst(l.confirmed)
		}
		l.showToast(toastAdded)
	}
	l.publish()
	l.load()
}

func (l *List) remove(ctx context.Context, id string) bool {
	if l.identity == nil || strings.HasPrefix(id, domain.PlaceholderPrefix) {
		return false
	}
	if _, busy := l.deleting[id]; busy || indexOf(l.confirmed, id) < 0 {
		return false
	}

	epoch, userID := l.epoch, l.identity.ID
	l.deleting[id] = struct{}{}
	l.writeErr = nil
	l.publish()

	go func() {
		err := l.store.Delete(ctx, userID, id)
		l.post(func() { l.deleteDone(epoch, id, err) })
	}()
	return true
}

func (l *List) deleteDone(epoch uint64, id string, err error) {
	if epoch != l.epoch {
		return
	}
	delete(l.deleting, id)
	l.confirmed = removeID(l.confirmed, id)

	if err != nil {
		l.writeErr = domain.StoreWriteError("delete", err)
		l.logger.Warn("failed to delete bookmark",
			logger.String("bookmark_id", id), logger.Error(err))
	} else {
		l.showToast(toastDeleted)
	}
	l.publish()
	l.load()
}

func (l *List) teardown() {
	if l.toastTimer != nil {
		l.toastTimer.Stop()
		l.toastTimer = nil
	}
	if l.sub != nil {
		release(l.logger, l.sub)
		l.sub = nil
	}
	l.logger.Debug("bookmark list closed")
}

// publish copies loop state into the view readers see. Placeholders come
// first; confirmed entries with a delete in flight are hidden. Loop only.
func (l *List) publish() {
	v := View{
		Identity: l.identity,
		Loading:  l.loads > 0,
		Adding:   len(l.placeholders) > 0,
		Toast:    l.toast,
		LastLoad: l.lastLoad,
		Err:      l.writeErr,
	}
	if v.Err == nil {
		v.Err = l.readErr
	}
	switch {
	case l.identity == nil:
		v.Status = StatusUnauthenticated
	case !l.fetched:
		v.Status = StatusLoading
	default:
		v.Status = StatusReady
	}
	if v.Err != nil {
		v.Error = v.Err.Error()
	}

	v.Bookmarks = make([]domain.Bookmark, 0, len(l.placeholders)+len(l.confirmed))
	v.Bookmarks = append(v.Bookmarks, l.placeholders...)
	for _, b := range l.confirmed {
		if _, gone := l.deleting[b.ID]; !gone {
			v.Bookmarks = append(v.Bookmarks, b)
		}
	}
	for id := range l.deleting {
		v.Deleting = append(v.Deleting, id)
	}
	sort.Strings(v.Deleting)

	l.view.publish(v)
}

func indexOf(items []domain.Bookmark, id string) int {
	for i, b := range items {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func removeID(items []domain.Bookmark, id string) []domain.Bookmark {
	i := indexOf(items, id)
	if i < 0 {
		return items
	}
	out := make([]domain.Bookmark, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}
