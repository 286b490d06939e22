package dedup

import (
	"sync"

	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/domain"
)

// Cache maps a content key to a resolved local file path for the lifetime of
// one process. It is the only shared mutable structure inside the media core,
// so it must tolerate concurrent lookups and inserts from in-flight jobs.
// Cross-run dedup is not its job: that is handled by the deterministic
// final-path existence check in the download manager.
type Cache struct {
	mu      sync.RWMutex
	entries map[domain.ContentKey]string
}

func New() *Cache {
	return &Cache{entries: make(map[domain.ContentKey]string)}
}

// Lookup returns the recorded path for key, if any.
func (c *Cache) Lookup(key domain.ContentKey) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	path, ok := c.entries[key]
	return path, ok
}

// Record stores the resolved path for key. A key maps to at most one path;
// later records for the same key are idempotent because paths are
// deterministic.
func (c *Cache) Record(key domain.ContentKey, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = path
}

// Len reports the number of distinct media items recorded this run.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
