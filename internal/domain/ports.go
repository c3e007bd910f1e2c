package domain

import "context"

// Subscription is a live registration that must be released exactly once.
type Subscription interface {
	Unsubscribe() error
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }

// ChangeKind tells what happened to a record.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is a notification that a user's records changed. Consumers
// only rely on "something changed for this user" and reload.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	UserID     string     `json:"user_id"`
	BookmarkID string     `json:"bookmark_id,omitempty"`
}

// RecordStore is the authoritative per-user bookmark storage.
type RecordStore interface {
	// Query returns all of the user's bookmarks, newest first.
	Query(ctx context.Context, userID string) ([]Bookmark, error)
	// Insert stores a bookmark and returns it with ID and CreatedAt assigned.
	Insert(ctx context.Context, b NewBookmark) (*Bookmark, error)
	// Delete removes one of the user's bookmarks. Unknown ids yield ErrNotFound.
	Delete(ctx context.Context, userID, id string) error
	// Subscribe registers fn for every change to the user's bookmarks.
	// fn runs on a store-owned goroutine.
	Subscribe(ctx context.Context, userID string, fn func(Change)) (Subscription, error)
}

// IdentityProvider is the external authentication service.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (*Identity, error)
	// OnSessionChange registers fn for sign-in and sign-out events.
	OnSessionChange(fn func(*Identity)) Subscription
	// SignInWithProvider returns once the sign-in flow has been initiated.
	// The resulting identity arrives through OnSessionChange.
	SignInWithProvider(ctx context.Context, provider string) error
	SignOut(ctx context.Context) error
}
