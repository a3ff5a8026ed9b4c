// Package transport contains the pieces shared by the broker's transport bindings.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker"
)

// DefaultOutboxSize is the number of frames a connection buffers for its writer.
const DefaultOutboxSize = 256

// ErrOutboxFull is returned by Put when the writer has fallen DefaultOutboxSize (or
// the configured size) frames behind.
var ErrOutboxFull = errors.New("transport: outbox full")

// Outbox is the outgoing frame queue of one connection.  Any number of goroutines may
// Put frames; a single writer goroutine drains them with Run.
type Outbox struct {
	frames chan ultralight.Frame
	done   chan struct{}
	once   sync.Once
}

// NewOutbox returns an Outbox buffering size frames; size<=0 means DefaultOutboxSize.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		frames: make(chan ultralight.Frame, size),
		done:   make(chan struct{}),
	}
}

// Put queues f without blocking.
func (o *Outbox) Put(f ultralight.Frame) error {
	select {
	case <-o.done:
		return broker.ErrConnClosed
	default:
	}
	select {
	case o.frames <- f:
		return nil
	default:
		return ErrOutboxFull
	}
}

// PutWait queues f, waiting for room until ctx is done.
func (o *Outbox) PutWait(ctx context.Context, f ultralight.Frame) error {
	select {
	case <-o.done:
		return broker.ErrConnClosed
	default:
	}
	select {
	case o.frames <- f:
		return nil
	case <-o.done:
		return broker.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting frames.  Frames already queued are still written by Run.  Close
// returns true the first time it is called.
func (o *Outbox) Close() bool {
	closed := false
	o.once.Do(func() {
		close(o.done)
		closed = true
	})
	return closed
}

// Done is closed by Close.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Run calls write for every queued frame until Close is called and the queue is empty
// or write returns an error.
func (o *Outbox) Run(write func(ultralight.Frame) error) error {
	for {
		select {
		case f := <-o.frames:
			if err := write(f); err != nil {
				return err
			}
		case <-o.done:
			for {
				select {
				case f := <-o.frames:
					if err := write(f); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}
