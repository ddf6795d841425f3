package toolexec

import (
	"os"
	"sync"
)

// StatCache memoizes filesystem probes within one invocation so guards
// and handlers do not re-stat the same path repeatedly. Any handler
// that mutates a path it may have queried must call Invalidate for that
// path, or later probes will see stale state.
type StatCache struct {
	mu      sync.RWMutex
	entries map[string]statEntry
}

type statEntry struct {
	info os.FileInfo
	err  error
}

// NewStatCache returns an empty cache
func NewStatCache() *StatCache {
	return &StatCache{entries: make(map[string]statEntry)}
}

// Stat returns the cached os.Stat result for path, probing once on the
// first call. Negative results (not-exist) are cached too.
func (c *StatCache) Stat(path string) (os.FileInfo, error) {
	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if ok {
		return entry.info, entry.err
	}

	info, err := os.Stat(path)

	c.mu.Lock()
	c.entries[path] = statEntry{info: info, err: err}
	c.mu.Unlock()

	return info, err
}

// Invalidate drops the cached entry for path
func (c *StatCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Reset drops every cached entry
func (c *StatCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]statEntry)
	c.mu.Unlock()
}

// Len returns the number of cached entries
func (c *StatCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
