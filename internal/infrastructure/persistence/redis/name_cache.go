package redis

import (
	"context"
	"strconv"
	"strings"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// maxNameLen caps stored names, in runes.
const maxNameLen = 256

// NameCache remembers the last display name seen for each chat member.
// Names live in one hash per chat so a leaderboard page is a single HMGET.
type NameCache struct {
	cache *Cache
}

// NewNameCache creates a new NameCache.
func NewNameCache(cache *Cache) *NameCache {
	return &NameCache{cache: cache}
}

// RememberName stores the display name of userID in chatID.
func (n *NameCache) RememberName(ctx context.Context, chatID shared.ChatID, userID shared.UserID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	return n.cache.HSetWithTTL(ctx, NamesKey(chatID.Int64()), userID.String(), name, TTLNames)
}

// DisplayName returns the cached name or ErrCacheMiss.
func (n *NameCache) DisplayName(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (string, error) {
	return n.cache.HGetString(ctx, NamesKey(chatID.Int64()), userID.String())
}

// DisplayNames returns cached names for several users; misses are omitted.
func (n *NameCache) DisplayNames(ctx context.Context, chatID shared.ChatID, userIDs []shared.UserID) (map[shared.UserID]string, error) {
	fields := make([]string, len(userIDs))
	for i, id := range userIDs {
		fields[i] = id.String()
	}

	raw, err := n.cache.HMGetStrings(ctx, NamesKey(chatID.Int64()), fields...)
	if err != nil {
		return nil, err
	}

	out := make(map[shared.UserID]string, len(raw))
	for field, name := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		out[shared.UserID(id)] = name
	}
	return out, nil
}
