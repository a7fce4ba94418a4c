package bots

import (
	"sync"
	"time"
)

type cacheEntry struct {
	bot     Bot
	expires time.Time
}

type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: map[string]cacheEntry{}}
}

func (c *ttlCache) get(key string, now time.Time) (Bot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Bot{}, false
	}
	if !now.Before(entry.expires) {
		delete(c.entries, key)
		return Bot{}, false
	}
	return entry.bot, true
}

func (c *ttlCache) put(key string, bot Bot, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{bot: bot, expires: expires}
}
