package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/internal/observer"
)

// Transport is the client side of a WebSocket connection for use with package client.
type Transport struct {
	// URL is the broker endpoint, e.g. "ws://127.0.0.1:61614/stomp".
	URL string

	// Dialer=nil means websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger receives connection diagnostics.
	Logger zerolog.Logger

	opens  observer.List[func()]
	frames observer.List[func(ultralight.Frame)]
	closes observer.List[func()]

	mu   sync.Mutex
	conn *Conn
	wg   sync.WaitGroup
}

// NewTransport returns a Transport for the broker endpoint url.
func NewTransport(url string) *Transport {
	return &Transport{URL: url}
}

// Connect dials the broker and calls the OnOpen handlers.  Connect on an open
// Transport does nothing.
func (t *Transport) Connect() error {
	t.mu.Lock()
	if t.conn != nil && !t.conn.IsClosed() {
		t.mu.Unlock()
		return nil
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.Dial(t.URL, nil)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	c := newConn(ws, t.Logger, 0)
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
	c.start(&t.wg)
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
