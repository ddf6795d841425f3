package commandqueue

import (
	"context"
	"sync"
	"time"
)

// dedupEntry remembers one finished result until it expires
type dedupEntry struct {
	res     outcome
	expires time.Time
}

// dedupCache keeps recent results keyed by request ID. Gateway clients
// may resend a request after a dropped connection; the ID lets the
// queue answer the retry from the first execution instead of running
// the task twice.
type dedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]dedupEntry

	stop chan struct{}
	once sync.Once
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &dedupCache{
		ttl:     ttl,
		entries: make(map[string]dedupEntry),
		stop:    make(chan struct{}),
	}
	go c.janitor(ctx)
	return c
}

// Get returns the remembered result for a request ID, dropping it when
// it has already expired
func (c *dedupCache) Get(requestID string) (outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[requestID]
	if !ok {
		return outcome{}, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, requestID)
		return outcome{}, false
	}
	return entry.res, true
}

// Set remembers a result for the cache TTL
func (c *dedupCache) Set(requestID string, res outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[requestID] = dedupEntry{res: res, expires: time.Now().Add(c.ttl)}
}

// Size reports how many entries the cache holds
func (c *dedupCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop ends the janitor. Safe to call more than once.
func (c *dedupCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// janitor sweeps expired entries so an idle cache does not grow forever
func (c *dedupCache) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			c.sweep(now)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *dedupCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, id)
		}
	}
}
