// Package memory connects clients to a broker inside the same process.
//
// Every frame still crosses the connection as encoded text so in-process clients
// exercise the same codec as network clients.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/internal/observer"
	"github.com/ernstnaezer/ultralight/transport"
)

// ErrNotListening is returned by Transport.Connect while the Listener is stopped.
var ErrNotListening = errors.New("memory: listener not started")

// Conn is one end of an in-memory connection.  It implements broker.Conn.
//
// Frames passed to Send are encoded, decoded and delivered to the other end's frame
// handlers on this end's delivery goroutine.
type Conn struct {
	broker.Hooks

	outbox *transport.Outbox
	peer   *Conn
	log    zerolog.Logger
}

// pair returns two connected ends.
func pair(log zerolog.Logger) (*Conn, *Conn) {
	a := &Conn{outbox: transport.NewOutbox(0), log: log}
	b := &Conn{outbox: transport.NewOutbox(0), log: log}
	a.peer, b.peer = b, a
	return a, b
}

// Send implements broker.Conn.
func (c *Conn) Send(f ultralight.Frame) error {
	return c.outbox.Put(f)
}

// SendWait implements broker.WaitSender.
func (c *Conn) SendWait(ctx context.Context, f ultralight.Frame) error {
	return c.outbox.PutWait(ctx, f)
}

// Close implements broker.Conn.  Frames already sent are delivered before the other
// end is closed.
func (c *Conn) Close() error {
	if c.outbox.Close() {
		c.EmitClose()
	}
	return nil
}

func (c *Conn) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.outbox.Run(c.deliver)
		_ = c.Close()
		_ = c.peer.Close()
	}()
}

func (c *Conn) deliver(f ultralight.Frame) error {
	decoded, err := ultralight.Decode(ultralight.Encode(f))
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping malformed frame")
		return nil
	}
	c.peer.EmitFrame(decoded)
	return nil
}

// Listener is an in-process broker.Listener.
type Listener struct {
	// Logger receives connection diagnostics.
	Logger zerolog.Logger

	handlers observer.List[func(broker.Conn)]

	mu        sync.Mutex
	listening bool
	conns     map[*Conn]struct{}
	wg        sync.WaitGroup
}

// NewListener returns a Listener.
func NewListener() *Listener {
	return &Listener{}
}

// OnConnect implements broker.Listener.
func (l *Listener) OnConnect(fn func(broker.Conn)) {
	l.handlers.Add(fn)
}

// Start implements broker.Listener.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening = true
	return nil
}

// Stop closes every connection and waits for their delivery goroutines to end.
func (l *Listener) Stop() error {
	l.mu.Lock()
	l.listening = false
	conns := make([]*Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	l.wg.Wait()
	return nil
}

// NewTransport returns a client Transport that connects through l.
func (l *Listener) NewTransport() *Transport {
	return &Transport{listener: l}
}

// accept creates a connection and hands its server end to the OnConnect handlers.
func (l *Listener) accept() (*Conn, error) {
	l.mu.Lock()
	if !l.listening {
		l.mu.Unlock()
		return nil, ErrNotListening
	}
	server, client := pair(l.Logger.With().Str("transport", "memory").Logger())
	if l.conns == nil {
		l.conns = map[*Conn]struct{}{}
	}
	l.conns[server] = struct{}{}
	l.mu.Unlock()
	server.OnClose(func() {
		l.mu.Lock()
		delete(l.conns, server)
		l.mu.Unlock()
	})
	l.handlers.Each(func(fn func(broker.Conn)) {
		fn(server)
	})
	server.start(&l.wg)
	client.start(&l.wg)
	return client, nil
}

// Transport is the client side of an in-memory connection for use with package client.
type Transport struct {
	listener *Listener

	opens  observer.List[func()]
	frames observer.List[func(ultralight.Frame)]
	closes observer.List[func()]

	mu   sync.Mutex
	conn *Conn
}

// Connect connects to the listener and calls the OnOpen handlers.  Connect on an open
// Transport does nothing.
func (t *Transport) Connect() error {
	t.mu.Lock()
	if t.conn != nil && !t.conn.IsClosed() {
		t.mu.Unlock()
		return nil
	}
	c, err := t.listener.accept()
	if err != nil {
		t.mu.Unlock()
		return err
	}
	c.OnFrame(func(f ultralight.Frame) {
		t.frames.Each(func(fn func(ultralight.Frame)) { fn(f) })
	})
	c.OnClose(func() {
		t.closes.Each(func(fn func()) { fn() })
	})
	t.conn = c
	t.mu.Unlock()
	t.opens.Each(func(fn func()) { fn() })
	return nil
}

// Send queues f for the broker.
func (t *Transport) Send(f ultralight.Frame) error {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()
	if c == nil {
		return broker.ErrConnClosed
	}
	return c.Send(f)
}

// Close closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// OnOpen registers fn to be called when Connect succeeds.
func (t *Transport) OnOpen(fn func()) {
	t.opens.Add(fn)
}

// OnFrame registers fn to be called for every frame from the broker.
func (t *Transport) OnFrame(fn func(ultralight.Frame)) {
	t.frames.Add(fn)
}

// OnClose registers fn to be called when the connection closes.
func (t *Transport) OnClose(fn func()) {
	t.closes.Add(fn)
}
