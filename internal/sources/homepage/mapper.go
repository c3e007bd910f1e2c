package homepage

import (
	"errors"
	"net/url"
	"sort"
	"strings"
)

var ErrNoBookmarks = errors.New("no valid bookmarks found in config")

// Entry is one importable bookmark.
type Entry struct {
	Group string
	Title string
	URL   string
}

// MapBookmarks flattens config into entries in file order. Groups and
// names inside a single YAML mapping are sorted so the order is stable.
// Entries without an http(s) href are skipped, as are repeated URLs.
func MapBookmarks(config BookmarksConfig) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]bool)

	for _, group := range config {
		for _, groupName := range sortedKeys(group) {
			for _, bookmarkMap := range group[groupName] {
				for _, name := range sortedKeys(bookmarkMap) {
					list := bookmarkMap[name]
					if len(list) == 0 {
						continue
					}
					entry := list[0]

					href := strings.TrimSpace(entry.Href)
					if !isWebURL(href) || seen[href] {
						continue
					}
					seen[href] = true

					title := strings.TrimSpace(name)
					if title == "" {
						title = strings.TrimSpace(entry.Abbr)
					}
					if title == "" {
						title = href
					}

					entries = append(entries, Entry{Group: groupName, Title: title, URL: href})
				}
			}
		}
	}

	if len(entries) == 0 {
		return nil, ErrNoBookmarks
	}
	return entries, nil
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
