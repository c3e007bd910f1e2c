package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/marks/internal/bookmarks"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/sources/homepage"
)

// Session is the signed-in state the handlers read and drive.
type Session interface {
	CurrentIdentity() *domain.Identity
	Loading() bool
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// Authenticator finishes the OAuth redirect.
type Authenticator interface {
	Complete(ctx context.Context, state, code string) (*domain.Identity, error)
}

// Bookmarks is the synchronized list.
type Bookmarks interface {
	Snapshot() bookmarks.View
	Add(ctx context.Context, url, title string) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
}

type Importer interface {
	Import(ctx context.Context) (homepage.Result, error)
}

// Check reports whether a backing component is usable.
type Check func(ctx context.Context) error

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string

	Session   Session
	Auth      Authenticator
	Bookmarks Bookmarks
	Importer  Importer         // nil when no import file is configured
	Checks    map[string]Check // readiness checks by component name

	ResyncTrigger chan struct{} // manual bookmark resync

	AllowedCIDRS    []string // IPs allowed to reach the server
	AllowedHosts    []string // Host headers allowed
	TrustProxy      bool     // true if running behind a trusted reverse proxy
	SignInPerMinute int
	SignInBurst     int
}
