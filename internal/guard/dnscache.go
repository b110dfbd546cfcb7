package guard

import (
	"sync"
	"time"
)

// dnsCache memoises resolution verdicts for a short window to bound
// the TOCTOU gap between validation and the actual connection. Entries
// are swept opportunistically once the map grows past maxEntries.
const (
	dnsTTL     = 5 * time.Second
	maxEntries = 500
)

type dnsEntry struct {
	private   bool
	expiresAt time.Time
}

type dnsCache struct {
	mu      sync.Mutex
	entries map[string]dnsEntry
	now     func() time.Time
}

func newDNSCache() *dnsCache {
	return &dnsCache{entries: make(map[string]dnsEntry), now: time.Now}
}

func (c *dnsCache) get(host string) (private, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[host]
	if !ok || c.now().After(e.expiresAt) {
		return false, false
	}
	return e.private, true
}

func (c *dnsCache) put(host string, private bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[host] = dnsEntry{private: private, expiresAt: c.now().Add(dnsTTL)}
	if len(c.entries) > maxEntries {
		c.sweep()
	}
}

// sweep removes expired entries; must be called with mu held.
func (c *dnsCache) sweep() {
	now := c.now()
	for host, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, host)
		}
	}
}
