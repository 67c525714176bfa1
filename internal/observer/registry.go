// Package observer provides a typed listener registry used by components
// that publish notifications to callers.
package observer

import (
	"sort"
	"sync"
)

// Registry holds listeners for a single notification type. It is safe for
// concurrent use; listeners are invoked outside the lock in registration
// order.
type Registry[T any] struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(T)
}

// Add registers fn and returns a function that removes it again.
func (r *Registry[T]) Add(fn func(T)) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fns == nil {
		r.fns = make(map[uint64]func(T))
	}
	r.next++
	id := r.next
	r.fns[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.fns, id)
		r.mu.Unlock()
	}
}

// Emit calls every registered listener with v.
func (r *Registry[T]) Emit(v T) {
	for _, fn := range r.snapshot() {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fns)
}

// Clear removes every listener.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	r.fns = nil
	r.mu.Unlock()
}

func (r *Registry[T]) snapshot() []func(T) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.fns) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(r.fns))
	for id := range r.fns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.fns[id])
	}
	return out
}
