package cache

import (
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/scholarsift/retrieval-service/internal/config"
)

// MemoryTier is the in-process hot tier: one size-bounded LRU with per-entry
// TTL per namespace. Sizing is independent of the durable tier, so the memory
// tier holds at most the hottest slice of what PostgreSQL holds.
type MemoryTier struct {
	caches map[Namespace]*namespaceCache
}

type namespaceCache struct {
	lru       *expirable.LRU[string, []byte]
	evictions atomic.Int64
}

// NewMemoryTier builds the per-namespace LRUs from config. onEvict, when
// non-nil, is called once per evicted, expired or removed entry; it runs
// under the LRU lock and must not call back into the tier.
func NewMemoryTier(cfg config.CacheConfig, onEvict func(ns Namespace)) *MemoryTier {
	tier := &MemoryTier{caches: make(map[Namespace]*namespaceCache, 3)}

	for ns, nsCfg := range map[Namespace]config.CacheNamespaceConfig{
		NamespacePaper:    cfg.Paper,
		NamespaceSearch:   cfg.Search,
		NamespaceAnalysis: cfg.Analysis,
	} {
		nc := &namespaceCache{}
		callbackNS := ns
		nc.lru = expirable.NewLRU[string, []byte](nsCfg.MemoryCapacity, func(string, []byte) {
			nc.evictions.Add(1)
			if onEvict != nil {
				onEvict(callbackNS)
			}
		}, nsCfg.TTL)
		tier.caches[ns] = nc
	}

	return tier
}

// Get returns the cached value for key, or false when absent or expired.
func (t *MemoryTier) Get(ns Namespace, key string) ([]byte, bool) {
	nc, ok := t.caches[ns]
	if !ok {
		return nil, false
	}
	return nc.lru.Get(key)
}

// Set stores a value, evicting the oldest entry if the namespace is full.
// Overwriting an existing key restarts its TTL.
func (t *MemoryTier) Set(ns Namespace, key string, value []byte) {
	nc, ok := t.caches[ns]
	if !ok {
		return
	}
	nc.lru.Add(key, value)
}

// Delete removes an entry, returning true if it was present.
func (t *MemoryTier) Delete(ns Namespace, key string) bool {
	nc, ok := t.caches[ns]
	if !ok {
		return false
	}
	return nc.lru.Remove(key)
}

// Len returns the number of live entries in a namespace.
func (t *MemoryTier) Len(ns Namespace) int {
	nc, ok := t.caches[ns]
	if !ok {
		return 0
	}
	return nc.lru.Len()
}

// Evictions returns the total entries evicted from a namespace since startup.
func (t *MemoryTier) Evictions(ns Namespace) int64 {
	nc, ok := t.caches[ns]
	if !ok {
		return 0
	}
	return nc.evictions.Load()
}

// Purge drops every entry in every namespace.
func (t *MemoryTier) Purge() {
	for _, nc := range t.caches {
		nc.lru.Purge()
	}
}
