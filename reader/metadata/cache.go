package metadata

import (
	"sync"

	"github.com/metrico/chartql/reader/metric"
	"golang.org/x/sync/singleflight"
)

// Cache is an append-only key/value store with single-flight fetching.
// Entries never expire; a new Cache starts cold.
type Cache struct {
	mtx    sync.RWMutex
	values map[string]any
	flight singleflight.Group
}

func NewCache() *Cache {
	return &Cache{values: map[string]any{}}
}

func (c *Cache) Get(key string) (any, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Cache) Set(key string, value any) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.values[key] = value
}

// GetOrFetch returns the cached value for key or runs fetch once for all concurrent callers.
// A failed fetch is handed to every waiting caller and is not cached.
func GetOrFetch[T any](c *Cache, key string, fetch func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		metric.MetadataCacheHits.Inc()
		return v.(T), nil
	}
	metric.MetadataCacheMisses.Inc()
	res, err, _ := c.flight.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fetch()
		if err != nil {
			metric.MetadataFetches.WithLabelValues("error").Inc()
			return nil, err
		}
		metric.MetadataFetches.WithLabelValues("ok").Inc()
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}
