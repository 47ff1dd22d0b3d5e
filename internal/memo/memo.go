// Package memo wraps pure functions in a bounded least-recently-used cache.
package memo

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"permission-explorer/internal/valuehash"
)

// DefaultSize is used when a memoizer is created with a non-positive capacity.
const DefaultSize = 100

// Memoizer caches the results of fn keyed by the content hash of its
// argument. fn must be referentially transparent: the same argument value
// always yields the same result and calling it has no side effects.
//
// Lookup, compute-on-miss and insert-with-eviction happen under one lock, so a
// Memoizer may be shared between goroutines.
type Memoizer[A any, R any] struct {
	mu    sync.Mutex
	fn    func(A) R
	size  int
	cache *simplelru.LRU[string, R]
}

// New returns a memoizer holding at most size results.
func New[A any, R any](fn func(A) R, size int) *Memoizer[A, R] {
	if size <= 0 {
		size = DefaultSize
	}
	// NewLRU only fails for non-positive sizes.
	cache, _ := simplelru.NewLRU[string, R](size, nil)
	return &Memoizer[A, R]{fn: fn, size: size, cache: cache}
}

// Call returns the cached result for args, computing and caching it on a miss.
// A hit promotes the entry to most recently used.
func (m *Memoizer[A, R]) Call(args A) R {
	key := valuehash.Sum(args)

	m.mu.Lock()
	defer m.mu.Unlock()

	if result, ok := m.cache.Get(key); ok {
		return result
	}
	result := m.fn(args)
	m.cache.Add(key, result)
	return result
}

// Clear drops every cached result.
func (m *Memoizer[A, R]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
}

// Len reports the number of cached results.
func (m *Memoizer[A, R]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// Cap reports the maximum number of cached results.
func (m *Memoizer[A, R]) Cap() int {
	return m.size
}
