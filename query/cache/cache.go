package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/expression"
)

type Config struct {
	NumCounters int64
	MaxCost     int64
}

func DefaultConfig() Config {
	return Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
	}
}

// KeyCache remembers the result keys of executed queries by query and parameters.
// Each cached key costs one unit. Writes are buffered, so a Put may become visible with a delay or get dropped.
type KeyCache struct {
	cache *ristretto.Cache

	mu sync.Mutex
	// byKind holds the cache keys of the entries with keys of each kind.
	byKind map[string]map[string]struct{}
}

func NewKeyCache(cfg Config) (*KeyCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64, // number of keys per Get buffer.
	})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't initialize key cache")
	}
	return &KeyCache{
		cache:  cache,
		byKind: make(map[string]map[string]struct{}),
	}, nil
}

func (c *KeyCache) Put(cacheKey string, keys []*datastore.Key) {
	stored := make([]*datastore.Key, len(keys))
	copy(stored, keys)
	c.cache.Set(cacheKey, stored, int64(len(stored)+1))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range stored {
		entries, ok := c.byKind[key.Kind]
		if !ok {
			entries = make(map[string]struct{})
			c.byKind[key.Kind] = entries
		}
		entries[cacheKey] = struct{}{}
	}
}

func (c *KeyCache) Get(cacheKey string) ([]*datastore.Key, bool) {
	value, ok := c.cache.Get(cacheKey)
	if !ok {
		return nil, false
	}
	keys := value.([]*datastore.Key)
	out := make([]*datastore.Key, len(keys))
	copy(out, keys)
	return out, true
}

func (c *KeyCache) Invalidate(cacheKey string) {
	c.cache.Del(cacheKey)
}

// InvalidateKeys drops every entry holding keys of the same kind as any of the given keys.
func (c *KeyCache) InvalidateKeys(keys []*datastore.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		for cacheKey := range c.byKind[key.Kind] {
			c.Invalidate(cacheKey)
		}
		delete(c.byKind, key.Kind)
	}
}

func (c *KeyCache) Close() {
	c.cache.Close()
}

// CacheKey identifies a query execution by the query text and its parameter values.
func CacheKey(query string, params expression.Parameters) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(query)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf(" :%s=%v", name, formatParameter(params[name])))
	}
	return sb.String()
}

func formatParameter(v interface{}) string {
	if key, ok := v.(*datastore.Key); ok {
		return key.String()
	}
	return fmt.Sprintf("%#v", v)
}
