package bookmarks

import (
	"sync"
	"time"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// Status is the list's state for the current identity.
type Status int

const (
	StatusUnauthenticated Status = iota // no identity; nothing fetched
	StatusLoading                       // first fetch for this identity in flight
	StatusReady                         // a fetch completed, successfully or not
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	default:
		return "unauthenticated"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is a point-in-time copy of everything a client displays.
type View struct {
	Status    Status            `json:"status"`
	Identity  *domain.Identity  `json:"identity,omitempty"`
	Bookmarks []domain.Bookmark `json:"bookmarks"`
	Loading   bool              `json:"loading"`
	Adding    bool              `json:"adding"`
	Deleting  []string          `json:"deleting,omitempty"`
	Error     string            `json:"error,omitempty"` // a write failure wins over a read failure
	Err       error             `json:"-"`
	Toast     string            `json:"toast,omitempty"`
	LastLoad  time.Time         `json:"last_load,omitzero"`
}

// Empty reports the "no bookmarks" state: a completed fetch and nothing to show.
func (v View) Empty() bool {
	return v.Status == StatusReady && len(v.Bookmarks) == 0
}

// IsDeleting reports whether a delete of id is in flight.
func (v View) IsDeleting(id string) bool {
	for _, d := range v.Deleting {
		if d == id {
			return true
		}
	}
	return false
}

func (v View) clone() View {
	cp := v
	if v.Identity != nil {
		id := *v.Identity
		cp.Identity = &id
	}
	cp.Bookmarks = append(make([]domain.Bookmark, 0, len(v.Bookmarks)), v.Bookmarks...)
	if v.Deleting != nil {
		cp.Deleting = append([]string(nil), v.Deleting...)
	}
	return cp
}

// viewStore holds the last published View for concurrent readers.
type viewStore struct {
	mu   sync.RWMutex
	view View
}

func (s *viewStore) publish(v View) {
	v = v.clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}

func (s *viewStore) snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.clone()
}
