// Package resolver provides explicit, request-scoped memoization.
package resolver

import (
	"context"
	"sync"
)

// Func resolves a key to a value.
type Func[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Memo caches the successful results of a Func. It is meant to live for one
// request and be discarded with it; there is no eviction.
//
// Concurrent calls for the same key while it is unresolved may each invoke
// the Func. Errors are not cached.
type Memo[K comparable, V any] struct {
	fn Func[K, V]

	mu     sync.Mutex
	values map[K]V
}

// NewMemo creates a Memo around fn.
func NewMemo[K comparable, V any](fn Func[K, V]) *Memo[K, V] {
	return &Memo[K, V]{
		fn:     fn,
		values: make(map[K]V),
	}
}

// Get returns the cached value for key, resolving it on first use.
func (m *Memo[K, V]) Get(ctx context.Context, key K) (V, error) {
	m.mu.Lock()
	v, ok := m.values[key]
	m.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := m.fn(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	m.mu.Lock()
	m.values[key] = v
	m.mu.Unlock()
	return v, nil
}

// Len returns the number of resolved keys.
func (m *Memo[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
