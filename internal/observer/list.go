// Package observer provides an ordered list of handlers that is safe for concurrent use.
package observer

import "sync"

// List holds handlers of type T in registration order.  The zero value is ready to use.
//
// Handlers are invoked outside of the list's lock so a handler may add or remove
// handlers, including itself.
type List[T any] struct {
	mu       sync.Mutex
	next     uint64
	handlers []entry[T]
}

type entry[T any] struct {
	id uint64
	fn T
}

// Add appends fn and returns a func that removes it.  The returned func may be called
// more than once.
func (l *List[T]) Add(fn T) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.handlers = append(l.handlers, entry[T]{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for k, e := range l.handlers {
			if e.id == id {
				l.handlers = append(l.handlers[:k:k], l.handlers[k+1:]...)
				return
			}
		}
	}
}

// Each calls visit for a snapshot of the handlers in registration order.
func (l *List[T]) Each(visit func(T)) {
	for _, fn := range l.Snapshot() {
		visit(fn)
	}
}

// Snapshot returns the current handlers in registration order.
func (l *List[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	rv := make([]T, len(l.handlers))
	for k, e := range l.handlers {
		rv[k] = e.fn
	}
	return rv
}

// Len returns the number of registered handlers.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers)
}

// Clear removes every handler.
func (l *List[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = nil
}
