package tcp

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/internal/observer"
)

// Transport is the client side of a TCP connection for use with package client.
type Transport struct {
	// Addr is the broker's "host:port".
	Addr string

	// TLSConfig!=nil means the connection is made with TLS.
	TLSConfig *tls.Config

	// Logger receives connection diagnostics.
	Logger zerolog.Logger

	opens  observer.List[func()]
	frames observer.List[func(ultralight.Frame)]
	closes observer.List[func()]

	mu   sync.Mutex
	conn *Conn
	wg   sync.WaitGroup
}

// NewTransport returns a Transport for the broker at addr.
func NewTransport(addr string) *Transport {
	return &Transport{Addr: addr}
}

// Connect dials the broker and calls the OnOpen handlers.  Connect on an open
// Transport does nothing.
func (t *Transport) Connect() error {
	t.mu.Lock()
	if t.conn != nil && !t.conn.IsClosed() {
		t.mu.Unlock()
		return nil
	}
	var rwc net.Conn
	var err error
	if t.TLSConfig != nil {
		rwc, err = tls.Dial("tcp", t.Addr, t.TLSConfig)
	} else {
		rwc, err = net.Dial("tcp", t.Addr)
	}
	if err != nil {
		t.mu.Unlock()
		return err
	}
	c := NewConn(rwc, t.Logger, 0)
	c.OnFrame(func(f ultralight.Frame) {
		t.frames.Each(func(fn func(ultralight.Frame)) { fn(f) })
	})
	c.OnClose(func() {
		t.closes.Each(func(fn func()) { fn() })
	})
	t.conn = c
	t.mu.Unlock()
	//
	t.opens.Each(func(fn func()) { fn() })
	c.Start(&t.wg)
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

// Close closes the connection.  Use Wait to block until its goroutines end.
func (t *Transport) Close() error {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// Wait blocks until the goroutines of every connection made by Connect have ended.
func (t *Transport) Wait() {
	t.wg.Wait()
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
