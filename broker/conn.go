package broker

import (
	"context"
	"sync"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/internal/observer"
)

// Conn is a client connection as seen by the broker.  Transports own the underlying
// socket; the broker owns the session-level bookkeeping keyed by the Conn's identity.
//
// Implementations must be comparable (pointer types are) and safe for concurrent use.
type Conn interface {
	// Send queues f for delivery to the client and returns without waiting on the
	// network.  Send must not invoke frame or close handlers synchronously.
	Send(f ultralight.Frame) error

	// Close closes the connection.  Close is idempotent.
	Close() error

	// IsConnected returns true once the client has a session and the connection is open.
	IsConnected() bool

	// SessionID returns the session id assigned on CONNECT or empty.
	SessionID() string

	// SetSessionID is called by the broker when it accepts a CONNECT.
	SetSessionID(id string)

	// OnFrame registers fn to be called for every frame received from the client.
	OnFrame(fn func(ultralight.Frame)) (remove func())

	// OnClose registers fn to be called once when the connection closes.  If the
	// connection is already closed fn is called before OnClose returns.
	OnClose(fn func()) (remove func())
}

// WaitSender is implemented by Conns whose Send can wait for room in a full outbound
// buffer.  A queue uses it to hand its stored messages to a new subscriber.
type WaitSender interface {
	SendWait(ctx context.Context, f ultralight.Frame) error
}

// Listener accepts connections for one transport binding.
type Listener interface {
	// Start begins accepting connections.
	Start() error

	// Stop stops accepting connections.
	Stop() error

	// OnConnect registers fn to be called for every accepted connection.
	OnConnect(fn func(Conn))
}

// Hooks implements the session and observer parts of Conn.  Transports embed it and
// call EmitFrame and EmitClose from their reader goroutines.
//
// The zero value is ready to use.
type Hooks struct {
	mu      sync.Mutex
	session string
	closed  bool

	frames observer.List[func(ultralight.Frame)]
	closes observer.List[func()]
}

// SessionID implements Conn.
func (h *Hooks) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// SetSessionID implements Conn.
func (h *Hooks) SetSessionID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = id
}

// IsConnected implements Conn.
func (h *Hooks) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session != "" && !h.closed
}

// IsClosed returns true after EmitClose.
func (h *Hooks) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// OnFrame implements Conn.
func (h *Hooks) OnFrame(fn func(ultralight.Frame)) (remove func()) {
	return h.frames.Add(fn)
}

// OnClose implements Conn.
func (h *Hooks) OnClose(fn func()) (remove func()) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		fn()
		return func() {}
	}
	remove = h.closes.Add(fn)
	h.mu.Unlock()
	return remove
}

// EmitFrame calls the frame handlers with f.  Frames emitted after EmitClose are dropped.
func (h *Hooks) EmitFrame(f ultralight.Frame) {
	if h.IsClosed() {
		return
	}
	h.frames.Each(func(fn func(ultralight.Frame)) {
		fn(f)
	})
}

// EmitClose marks the connection closed and calls the close handlers.  Only the first
// call has any effect; the return value reports whether this call was the first.
func (h *Hooks) EmitClose() bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.closed = true
	h.mu.Unlock()
	//
	handlers := h.closes.Snapshot()
	h.closes.Clear()
	for _, fn := range handlers {
		fn()
	}
	h.frames.Clear()
	return true
}
