// Package cache provides a small generic in-process keyed cache, used by
// the Job Configuration Resolver (C4) as its read-through cache of
// resolved config per jobDir, and by other components that only need an
// in-memory keyed store without persistence or TTL semantics.
package cache

import (
	"sync"

	"github.com/cp-whisperx/pipeline/log"
)

type Cache[T interface{}] struct {
	cache map[string]T
	mutex sync.Mutex
}

func New[T interface{}]() *Cache[T] {
	return &Cache[T]{
		cache: make(map[string]T),
	}
}

func (c *Cache[T]) Remove(jobID, key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, key)
	log.Log(jobID, "deleting from cache", "key", key)
}

func (c *Cache[T]) Get(key string) (T, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	info, ok := c.cache[key]
	return info, ok
}

func (c *Cache[T]) Store(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = value
}

func (c *Cache[T]) UnittestIntrospection() *map[string]T {
	return &c.cache
}
