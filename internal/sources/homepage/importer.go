package homepage

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/marks/internal/bookmarks"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

var ErrNotSignedIn = errors.New("import needs a signed-in user")

// Target is the bookmark list entries are added to.
type Target interface {
	Add(ctx context.Context, url, title string) (bool, error)
	Snapshot() bookmarks.View
}

// Result counts what an import did.
type Result struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Importer adds the bookmarks of a Homepage file to the current user's list.
type Importer struct {
	loader *Loader
	target Target
	logger logger.Logger
}

func NewImporter(filePath string, target Target, log logger.Logger) *Importer {
	return &Importer{
		loader: NewLoader(filePath),
		target: target,
		logger: log,
	}
}

// Import loads the file and adds every entry whose URL is not already in
// the list. Each add goes through the list like a user add would.
func (i *Importer) Import(ctx context.Context) (Result, error) {
	var res Result

	view := i.target.Snapshot()
	if view.Identity == nil {
		return res, ErrNotSignedIn
	}

	config, err := i.loader.Load()
	if err != nil {
		return res, err
	}
	entries, err := MapBookmarks(config)
	if err != nil {
		return res, fmt.Errorf("failed to map bookmarks: %w", err)
	}

	existing := make(map[string]bool, len(view.Bookmarks))
	for _, b := range view.Bookmarks {
		existing[b.URL] = true
	}

	for _, e := range entries {
		if existing[e.URL] {
			res.Skipped++
			continue
		}
		ok, err := i.target.Add(ctx, e.URL, e.Title)
		if err != nil {
			return res, fmt.Errorf("failed to add %q: %w", e.URL, err)
		}
		if !ok {
			res.Skipped++
			continue
		}
		res.Added++
	}

	i.logger.Info("imported homepage bookmarks",
		logger.Int("added", res.Added),
		logger.Int("skipped", res.Skipped))
	return res, nil
}
