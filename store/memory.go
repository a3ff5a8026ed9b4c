package store

import "sync"

// Memory is an unbounded in-memory Store.  The zero value is ready to use.
type Memory struct {
	mu       sync.Mutex
	messages []string
}

// NewMemory returns an empty Memory store; it satisfies Factory.
func NewMemory(string) Store {
	return &Memory{}
}

// Enqueue implements Store.
func (m *Memory) Enqueue(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, body)
}

// TryDequeue implements Store.
func (m *Memory) TryDequeue() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return "", false
	}
	body := m.messages[0]
	m.messages[0] = ""
	m.messages = m.messages[1:]
	if len(m.messages) == 0 {
		m.messages = nil // release the backing array
	}
	return body, true
}

// Peek implements Store.
func (m *Memory) Peek() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return "", false
	}
	return m.messages[0], true
}

// HasMessages implements Store.
func (m *Memory) HasMessages() bool {
	return m.Len() > 0
}

// Len implements Store.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Snapshot implements Store.
func (m *Memory) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv := make([]string, len(m.messages))
	copy(rv, m.messages)
	return rv
}

// Bounded is an in-memory Store that holds at most Capacity bodies; enqueueing
// into a full store discards the oldest body.
type Bounded struct {
	Memory

	// Capacity<=0 means unbounded.
	Capacity int

	dropped int
}

// NewBoundedFactory returns a Factory creating Bounded stores of the given capacity.
func NewBoundedFactory(capacity int) Factory {
	return func(string) Store {
		return &Bounded{Capacity: capacity}
	}
}

// Enqueue implements Store.
func (b *Bounded) Enqueue(body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Capacity > 0 && len(b.messages) >= b.Capacity {
		drop := len(b.messages) - b.Capacity + 1
		b.messages = append(b.messages[:0:0], b.messages[drop:]...)
		b.dropped += drop
	}
	b.messages = append(b.messages, body)
}

// DroppedCount returns the number of discarded bodies.
func (b *Bounded) DroppedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
