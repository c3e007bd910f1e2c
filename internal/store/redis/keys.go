package redis

const (
	// KeyPrefixBookmark is the prefix for bookmark records (JSON)
	KeyPrefixBookmark = "marks:bookmark:"
	// KeyPrefixUser is the prefix for per-user sorted sets of bookmark IDs
	KeyPrefixUser = "marks:user:"
	// ChannelPrefixChanges is the prefix for per-user change channels
	ChannelPrefixChanges = "marks:changes:"
)

// BookmarkKey returns the Redis key for a bookmark record
func BookmarkKey(id string) string {
	return KeyPrefixBookmark + id
}

// UserBookmarksKey returns the sorted set holding a user's bookmark IDs,
// scored by creation time
func UserBookmarksKey(userID string) string {
	return KeyPrefixUser + userID + ":bookmarks"
}

// ChangesChannel returns the pub/sub channel carrying a user's changes
func ChangesChannel(userID string) string {
	return ChannelPrefixChanges + userID
}
