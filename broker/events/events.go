// Package events is a collection of events emitted by the STOMP broker.
package events

// ClientConnect is emitted when a client's CONNECT is accepted.
type ClientConnect struct {
	SessionID string
}

// ClientDisconnect is emitted when a connected client's connection closes.
type ClientDisconnect struct {
	SessionID string
}

// ServerStop is emitted once Stop has closed every client and listener.
type ServerStop struct{}

// QueueStart is emitted when a destination queue is registered.
type QueueStart struct {
	Destination string
}

// QueueStop is emitted when a destination queue is removed from the registry.
type QueueStop struct {
	Destination string
}
