package domain

import (
	"sort"
	"strings"
	"time"
)

// PlaceholderPrefix marks bookmarks that exist only in the local view
// until the store confirms the insert.
const PlaceholderPrefix = "temp-"

// Bookmark is a saved URL owned by a single user.
type Bookmark struct {
	// ─────────────────────────────
	// Identity (store-assigned)
	// ─────────────────────────────

	// ID is assigned by the record store on insert.
	// Locally synthesized entries carry the "temp-" prefix.
	ID string `json:"id"`

	// UserID is the owner. Every bookmark in a list belongs to the
	// identity that was active when the list was loaded.
	UserID string `json:"user_id"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	URL   string `json:"url"`
	Title string `json:"title"`

	// CreatedAt orders the list (newest first).
	CreatedAt time.Time `json:"created_at"`
}

// IsPlaceholder reports whether the bookmark was synthesized locally
// and has not been confirmed by the store.
func (b Bookmark) IsPlaceholder() bool {
	return strings.HasPrefix(b.ID, PlaceholderPrefix)
}

// NewBookmark is the insert payload sent to a record store.
type NewBookmark struct {
	UserID string
	URL    string
	Title  string
}

// Validate checks the fields a store requires before inserting.
func (n NewBookmark) Validate() error {
	switch {
	case strings.TrimSpace(n.UserID) == "":
		return Invalid("user_id", "user id is required")
	case strings.TrimSpace(n.URL) == "":
		return Invalid("url", "url is required")
	case strings.TrimSpace(n.Title) == "":
		return Invalid("title", "title is required")
	}
	return nil
}

// SortNewestFirst orders bookmarks by CreatedAt descending, ties broken by
// ID descending so two stores holding the same set return the same order.
func SortNewestFirst(bookmarks []Bookmark) {
	sort.SliceStable(bookmarks, func(i, j int) bool {
		return newer(bookmarks[i], bookmarks[j])
	})
}

func newer(a, b Bookmark) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
