// Package session tracks who is signed in and tells interested parties
// when that changes.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// DefaultProvider is the sign-in provider used when none is configured.
const DefaultProvider = "google"

var ErrAlreadyStarted = errors.New("session tracker already started")

// Tracker mirrors the identity provider's current user.
//
// The provider's change stream is authoritative: once a stream event has
// been seen, the result of the initial CurrentIdentity fetch is discarded.
type Tracker struct {
	provider     domain.IdentityProvider
	providerName string
	logger       logger.Logger

	// deliver serializes identity updates with their watcher callbacks so
	// watchers observe changes in order.
	deliver sync.Mutex

	mu        sync.Mutex
	identity  *domain.Identity
	fetching  bool // initial identity not known yet
	inflight  int  // sign-in/out calls in progress
	started   bool
	streamed  bool
	closed    bool
	sub       domain.Subscription
	nextWatch uint64
	watchers  map[uint64]func(*domain.Identity)
}

// NewTracker builds a tracker; providerName is the fixed sign-in provider
// ("" means DefaultProvider).
func NewTracker(provider domain.IdentityProvider, providerName string, log logger.Logger) *Tracker {
	if providerName == "" {
		providerName = DefaultProvider
	}
	return &Tracker{
		provider:     provider,
		providerName: providerName,
		logger:       log.Named("session"),
		fetching:     true,
		watchers:     make(map[uint64]func(*domain.Identity)),
	}
}

// Start subscribes to session changes, then fetches the current identity.
// It blocks until that fetch resolves. A fetch failure is logged and
// returned; the tracker keeps running on stream events.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	sub := t.provider.OnSessionChange(t.onSessionChange)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil
	}
	t.sub = sub
	t.mu.Unlock()

	id, err := t.provider.CurrentIdentity(ctx)
	if err != nil {
		err = asProviderError("current_identity", err)
		t.logger.Warn("failed to fetch current identity", logger.Error(err))
		t.mu.Lock()
		t.fetching = false
		t.mu.Unlock()
		return err
	}

	t.deliver.Lock()
	defer t.deliver.Unlock()

	t.mu.Lock()
	t.fetching = false
	if t.streamed || t.closed {
		t.mu.Unlock()
		t.logger.Debug("discarding initial identity fetch, stream already reported")
		return nil
	}
	fns := t.setLocked(id)
	t.mu.Unlock()

	call(fns, id)
	return nil
}

func (t *Tracker) onSessionChange(id *domain.Identity) {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.streamed = true
	t.fetching = false
	fns := t.setLocked(id)
	t.mu.Unlock()

	call(fns, id)
}

// setLocked stores id and returns the watchers to notify, if the
// identity changed. Callers hold deliver and mu.
func (t *Tracker) setLocked(id *domain.Identity) []func(*domain.Identity) {
	changed := !domain.SameIdentity(t.identity, id)
	t.identity = clone(id)
	if !changed {
		return nil
	}
	if id == nil {
		t.logger.Info("signed out")
	} else {
		t.logger.Info("identity changed", logger.String("user_id", id.ID))
	}
	fns := make([]func(*domain.Identity), 0, len(t.watchers))
	for _, fn := range t.watchers {
		fns = append(fns, fn)
	}
	return fns
}

func call(fns []func(*domain.Identity), id *domain.Identity) {
	for _, fn := range fns {
		fn(clone(id))
	}
}

// CurrentIdentity returns the latest known identity, nil when signed out.
func (t *Tracker) CurrentIdentity() *domain.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.identity)
}

// Loading is true until the initial fetch resolves and while a sign-in
// or sign-out call is in flight.
func (t *Tracker) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fetching || t.inflight > 0
}

// Watch calls fn with the current identity now and again on every change.
// The returned func stops further calls.
func (t *Tracker) Watch(fn func(*domain.Identity)) (cancel func()) {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	t.mu.Lock()
	t.nextWatch++
	id := t.nextWatch
	t.watchers[id] = fn
	cur := clone(t.identity)
	t.mu.Unlock()

	fn(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers, id)
			t.mu.Unlock()
		})
	}
}

// SignIn starts sign-in with the configured provider. The identity
// arrives later through the provider's change stream.
func (t *Tracker) SignIn(ctx context.Context) error {
	t.beginCall()
	err := t.provider.SignInWithProvider(ctx, t.providerName)
	t.endCall()

	if err != nil {
		err = asProviderError("sign_in", err)
		t.logger.Warn("sign-in failed", logger.String("provider", t.providerName), logger.Error(err))
		return err
	}
	return nil
}

// SignOut asks the provider to end the session and clears the local
// identity whatever the provider answers.
func (t *Tracker) SignOut(ctx context.Context) error {
	t.beginCall()
	err := t.provider.SignOut(ctx)
	t.endCall()

	t.deliver.Lock()
	t.mu.Lock()
	var fns []func(*domain.Identity)
	if !t.closed {
		fns = t.setLocked(nil)
	}
	t.mu.Unlock()
	call(fns, nil)
	t.deliver.Unlock()

	if err != nil {
		err = asProviderError("sign_out", err)
		t.logger.Warn("sign-out failed", logger.Error(err))
		return err
	}
	return nil
}

func (t *Tracker) beginCall() {
	t.mu.Lock()
	t.inflight++
	t.mu.Unlock()
}

func (t *Tracker) endCall() {
	t.mu.Lock()
	t.inflight--
	t.mu.Unlock()
}

// Close releases the provider subscription. Later events are ignored.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sub := t.sub
	t.sub = nil
	t.watchers = map[uint64]func(*domain.Identity){}
	t.mu.Unlock()

	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

func clone(id *domain.Identity) *domain.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

func asProviderError(op string, err error) error {
	if errors.Is(err, domain.ErrProvider) {
		return err
	}
	return domain.ProviderError(op, err)
}
