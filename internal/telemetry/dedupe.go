package telemetry

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// recentIDs remembers the most recently seen packet keys. The cache is not
// safe for concurrent use on its own.
type recentIDs struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newRecentIDs(size int) *recentIDs {
	return &recentIDs{cache: lru.New(size)}
}

// seen records key and reports whether it was already present.
func (r *recentIDs) seen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache.Get(key); ok {
		return true
	}
	r.cache.Add(key, struct{}{})
	return false
}
