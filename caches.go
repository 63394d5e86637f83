package objbus

import (
	"errors"
	"sync"
)

var errNotFound = errors.New("value not found in cache")

// cache is a concurrency-safe memoization map. Both successful values
// and errors are cached, so that repeated lookups of an
// unrepresentable type fail fast without redoing the analysis.
type cache[K comparable, V any] struct {
	m sync.Map // K -> entry[V]
}

type entry[V any] struct {
	val V
	err error
}

// Get returns the cached value or error for k. If k has no cache
// entry, Get returns errNotFound.
func (c *cache[K, V]) Get(k K) (V, error) {
	if e, ok := c.m.Load(k); ok {
		ent := e.(entry[V])
		return ent.val, ent.err
	}
	var zero V
	return zero, errNotFound
}

func (c *cache[K, V]) Set(k K, v V) {
	c.m.Store(k, entry[V]{val: v})
}

func (c *cache[K, V]) SetErr(k K, err error) {
	var zero V
	c.m.Store(k, entry[V]{zero, err})
}
