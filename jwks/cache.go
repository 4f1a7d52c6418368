package jwks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a resolved key is served from cache
const DefaultTTL = time.Hour

// ResolvedKey is an RSA signing key fetched from a provider's key set
type ResolvedKey struct {
	Provider  string    `json:"provider"`
	KeyID     string    `json:"kid"`
	Modulus   []byte    `json:"n"`
	Exponent  []byte    `json:"e"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache stores resolved keys by (provider, key id). Entries are immutable once
// stored; Put replaces an entry as a whole.
type Cache interface {
	Get(ctx context.Context, provider, keyID string) (*ResolvedKey, bool, error)
	Put(ctx context.Context, key *ResolvedKey) error
	Invalidate(ctx context.Context, provider, keyID string) error
}

// Lister is implemented by caches that can enumerate their entries
type Lister interface {
	Snapshot() []ResolvedKey
}

type cacheKey struct {
	provider string
	keyID    string
}

// MemoryCache is a process-local Cache
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*ResolvedKey
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[cacheKey]*ResolvedKey),
	}
}

func (c *MemoryCache) Get(_ context.Context, provider, keyID string) (*ResolvedKey, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	k, ok := c.entries[cacheKey{provider, keyID}]
	return k, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, key *ResolvedKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{key.Provider, key.KeyID}] = key
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, provider, keyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, cacheKey{provider, keyID})
	return nil
}

// Len returns the number of cached entries
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns copies of all entries sorted by provider and key id
func (c *MemoryCache) Snapshot() []ResolvedKey {
	c.mu.RLock()
	out := make([]ResolvedKey, 0, len(c.entries))
	for _, k := range c.entries {
		out = append(out, *k)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].KeyID < out[j].KeyID
	})
	return out
}
