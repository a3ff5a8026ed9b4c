// Package store contains the message stores used by destination queues to hold
// messages published while a destination has no subscribers.
package store

// Store is a FIFO buffer of message bodies.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Enqueue appends body to the end of the store.
	Enqueue(body string)

	// TryDequeue removes and returns the oldest body.  The boolean is false
	// when the store is empty.
	TryDequeue() (string, bool)

	// Peek returns the oldest body without removing it.  The boolean is false
	// when the store is empty.
	Peek() (string, bool)

	// HasMessages returns true if at least one body is stored.
	HasMessages() bool

	// Len returns the number of stored bodies.
	Len() int

	// Snapshot returns the stored bodies oldest first without removing them.
	Snapshot() []string
}

// Factory creates the Store for a destination address.
type Factory func(address string) Store
