package broker

import (
	"errors"
	"fmt"

	"github.com/ernstnaezer/ultralight"
)

var (
	// ErrNilListener is returned by New when no listener or a nil listener is given.
	ErrNilListener = errors.New("broker: nil listener")

	// ErrEmptyAddress is returned when a queue is created without an address.
	ErrEmptyAddress = errors.New("broker: empty queue address")

	// ErrQueueRetired is returned by a queue that lost its last subscriber and was
	// removed from the broker; callers look the address up again.
	ErrQueueRetired = errors.New("broker: queue retired")

	// ErrConnClosed is returned by Conn.Send after the connection closed.
	ErrConnClosed = errors.New("broker: connection closed")

	// ErrNilConn is returned when a nil Conn is subscribed.
	ErrNilConn = errors.New("broker: nil connection")

	// ErrBacklogUndelivered is returned by AddSubscriber when the stored messages could
	// not be sent to the new subscriber.  The subscriber is not added and the messages
	// it did not receive stay stored.
	ErrBacklogUndelivered = errors.New("broker: stored messages could not be delivered")

	// ErrStarted is returned by Start on a running broker.
	ErrStarted = errors.New("broker: already started")
)

// HeaderError is returned for a frame missing a header its command requires.  The
// message is sent verbatim to the client in an ERROR frame.
type HeaderError struct {
	Command ultralight.Command
	Header  string
}

// Error implements error.
func (e *HeaderError) Error() string {
	return fmt.Sprintf("Missing required header '%v' for '%v'", e.Header, e.Command)
}

// Unwrap allows errors.Is(err, ultralight.ErrMissingHeader).
func (e *HeaderError) Unwrap() error {
	return ultralight.ErrMissingHeader
}
