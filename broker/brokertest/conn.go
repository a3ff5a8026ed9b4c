// Package brokertest provides mock connections and listeners for testing code that
// uses package broker.
package brokertest

import (
	"fmt"
	"sync"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/frames"
)

// MockConn is an in-process broker.Conn that records every frame sent to it.
//
// Frames given to Receive are dispatched synchronously to the frame handlers.
type MockConn struct {
	broker.Hooks

	// SendErr!=nil means Send returns SendErr and records nothing.
	SendErr error

	// SendPanics=true means Send panics.
	SendPanics bool

	mu     sync.Mutex
	sent   []ultralight.Frame
	closes int
}

// NewMockConn returns a MockConn.
func NewMockConn() *MockConn {
	return &MockConn{}
}

// Send implements broker.Conn.
func (c *MockConn) Send(f ultralight.Frame) error {
	if c.SendPanics {
		panic(fmt.Sprintf("mock conn: send %v", f.Command))
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	if c.IsClosed() {
		return broker.ErrConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

// Close implements broker.Conn.
func (c *MockConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.EmitClose()
	return nil
}

// Receive dispatches f as if the client had sent it.
func (c *MockConn) Receive(f ultralight.Frame) {
	c.EmitFrame(f)
}

// Connect sends CONNECT and returns the CONNECTED frame or an error.
func (c *MockConn) Connect() (ultralight.Frame, error) {
	n := len(c.Frames())
	c.Receive(frames.Connect())
	sent := c.Frames()
	if len(sent) != n+1 || sent[n].Command != ultralight.CommandConnected {
		return ultralight.Frame{}, fmt.Errorf("mock conn: expected %v; got %v", ultralight.CommandConnected, sent[n:])
	}
	return sent[n], nil
}

// Frames returns a copy of the frames sent to the conn.
func (c *MockConn) Frames() []ultralight.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ultralight.Frame(nil), c.sent...)
}

// Commands returns the commands of the frames sent to the conn.
func (c *MockConn) Commands() []ultralight.Command {
	var rv []ultralight.Command
	for _, f := range c.Frames() {
		rv = append(rv, f.Command)
	}
	return rv
}

// Messages returns the MESSAGE frames sent to the conn.
func (c *MockConn) Messages() []ultralight.Frame {
	var rv []ultralight.Frame
	for _, f := range c.Frames() {
		if f.Command == ultralight.CommandMessage {
			rv = append(rv, f)
		}
	}
	return rv
}

// Bodies returns the bodies of the MESSAGE frames sent to the conn.
func (c *MockConn) Bodies() []string {
	var rv []string
	for _, f := range c.Messages() {
		rv = append(rv, f.Body)
	}
	return rv
}

// Last returns the last frame sent to the conn.
func (c *MockConn) Last() ultralight.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return frames.Empty
	}
	return c.sent[len(c.sent)-1]
}

// Reset forgets the recorded frames.
func (c *MockConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// CloseCalls returns the number of times Close was called.
func (c *MockConn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
