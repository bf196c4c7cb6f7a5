package server

import (
	"sync"
	"sync/atomic"
)

// lazy builds a value once on first use. A failed build is not remembered,
// so the next caller tries again.
type lazy[T any] struct {
	build func() (T, error)

	mu    sync.Mutex
	ready atomic.Bool
	value T
}

func newLazy[T any](build func() (T, error)) *lazy[T] {
	return &lazy[T]{build: build}
}

// Get returns the built value, building it under the lock if needed.
func (l *lazy[T]) Get() (T, error) {
	if l.ready.Load() {
		return l.value, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready.Load() {
		return l.value, nil
	}

	v, err := l.build()
	if err != nil {
		var zero T
		return zero, err
	}
	l.value = v
	l.ready.Store(true)
	return v, nil
}
