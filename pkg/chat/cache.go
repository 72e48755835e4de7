package chat

import (
	"sync"
	"time"
)

// snapshot is one cached conversation view plus the pagination markers the
// view was taken with.
type snapshot struct {
	messages       []*Message
	oldestLoadedID string
	hasMore        bool
	newestID       string
	storedAt       time.Time
}

// snapshotCache holds the last served view per conversation. Entries are
// replaced wholesale; there is no partial invalidation.
type snapshotCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*snapshot
	now     func() time.Time
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	return &snapshotCache{
		ttl:     ttl,
		entries: make(map[string]*snapshot),
		now:     time.Now,
	}
}

// get returns the entry for the conversation and whether it is still fresh.
// A stale entry is still returned; the caller decides whether staleness
// matters for its path.
func (c *snapshotCache) get(conversationID string) (*snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[conversationID]
	if !ok {
		return nil, false
	}
	return entry, c.now().Sub(entry.storedAt) <= c.ttl
}

// put replaces the conversation's entry with a copy of the given view.
func (c *snapshotCache) put(conversationID string, messages []*Message, oldestLoadedID string, hasMore bool) {
	entry := &snapshot{
		messages:       make([]*Message, len(messages)),
		oldestLoadedID: oldestLoadedID,
		hasMore:        hasMore,
	}
	for i, m := range messages {
		entry.messages[i] = m.clone()
	}
	if n := len(messages); n > 0 {
		entry.newestID = messages[n-1].ID
	}

	c.mu.Lock()
	entry.storedAt = c.now()
	c.entries[conversationID] = entry
	c.mu.Unlock()
}

// drop removes the conversation's entry.
func (c *snapshotCache) drop(conversationID string) {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()
}
