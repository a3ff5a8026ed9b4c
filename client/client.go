// Package client is a small STOMP client that buffers commands until the broker
// acknowledges the connection.
package client

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/frames"
)

// ErrNotConnected is returned by Disconnect when the client never received CONNECTED.
var ErrNotConnected = errors.New("client: not connected")

// Transport carries frames between a Client and a broker.  The transports in the
// memory, tcp and websocket packages implement it.
type Transport interface {
	Connect() error
	Send(ultralight.Frame) error
	Close() error
	OnOpen(func())
	OnFrame(func(ultralight.Frame))
	OnClose(func())
}

// Client is a STOMP client.
//
// Set the exported fields before calling Connect; the handlers are called from the
// transport's goroutine.
type Client struct {
	// CacheMessages keeps a copy of every MESSAGE for Messages.
	CacheMessages bool

	// OnMessage, OnReceipt and OnError receive the matching frames from the broker.
	OnMessage func(ultralight.Frame)
	OnReceipt func(ultralight.Frame)
	OnError   func(ultralight.Frame)

	// Logger receives client diagnostics.
	Logger zerolog.Logger

	transport Transport

	mu        sync.Mutex
	connected bool
	session   string
	pending   []ultralight.Frame
	messages  []ultralight.Frame
}

// New creates a client over t.
func New(t Transport) *Client {
	c := &Client{transport: t}
	t.OnOpen(func() {
		if err := t.Send(frames.Connect()); err != nil {
			c.Logger.Warn().Err(err).Msg("sending CONNECT")
		}
	})
	t.OnFrame(c.handle)
	t.OnClose(func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	})
	return c
}

// Connect opens the transport and sends CONNECT.  Commands issued before the broker
// answers with CONNECTED are sent once it does.
func (c *Client) Connect() error {
	return c.transport.Connect()
}

// Disconnect sends DISCONNECT and closes the transport.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.connected = false
	c.pending = nil
	err := c.transport.Send(frames.Disconnect())
	c.mu.Unlock()
	return errors.Join(err, c.transport.Close())
}

// Send sends body to dest.
func (c *Client) Send(dest, body string) error {
	return c.execute(frames.Send(broker.Canonical(dest), body))
}

// SendWithReceipt sends body to dest and asks the broker for a RECEIPT carrying
// receipt once the message is accepted.
func (c *Client) SendWithReceipt(dest, body, receipt string) error {
	f := frames.Send(broker.Canonical(dest), body)
	if receipt != "" {
		f = frames.WithReceipt(f, receipt)
	}
	return c.execute(f)
}

// Subscribe subscribes to dest.
func (c *Client) Subscribe(dest string) error {
	return c.SubscribeWithID(dest, "")
}

// SubscribeWithID subscribes to dest; MESSAGE frames for the subscription carry id
// in their subscription header.
func (c *Client) SubscribeWithID(dest, id string) error {
	return c.execute(frames.Subscribe(broker.Canonical(dest), id))
}

// Unsubscribe removes the subscription to dest.
func (c *Client) Unsubscribe(dest string) error {
	return c.execute(frames.Unsubscribe(broker.Canonical(dest)))
}

// IsConnected returns true between CONNECTED and Disconnect or the transport closing.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SessionID returns the session-id from the last CONNECTED frame.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Messages returns the cached MESSAGE frames in arrival order.
func (c *Client) Messages() []ultralight.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ultralight.Frame(nil), c.messages...)
}

// execute sends f now when connected or buffers it until CONNECTED.
func (c *Client) execute(f ultralight.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		c.pending = append(c.pending, f)
		return nil
	}
	return c.transport.Send(f)
}

func (c *Client) handle(f ultralight.Frame) {
	switch f.Command {
	case ultralight.CommandConnected:
		c.onConnected(f.Get(ultralight.HeaderSessionID))
	case ultralight.CommandMessage:
		if c.CacheMessages {
			c.mu.Lock()
			c.messages = append(c.messages, f)
			c.mu.Unlock()
		}
		if c.OnMessage != nil {
			c.OnMessage(f)
		}
	case ultralight.CommandReceipt:
		if c.OnReceipt != nil {
			c.OnReceipt(f)
		}
	case ultralight.CommandError:
		if c.OnError != nil {
			c.OnError(f)
		}
	}
}

// onConnected records the session and flushes the buffered commands in order.
func (c *Client) onConnected(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.session = session
	pending := c.pending
	c.pending = nil
	for _, f := range pending {
		if err := c.transport.Send(f); err != nil {
			c.Logger.Warn().Err(err).Str("command", f.Command.String()).Msg("sending buffered frame")
		}
	}
}
