package tcp

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/internal/observer"
)

// Listener accepts STOMP clients on a TCP address.  It implements broker.Listener.
type Listener struct {
	// Addr specifies the TCP address for the listener in the form of "host:port".
	//
	// If empty then a random port is used with 127.0.0.1 and this field is updated
	// accordingly by Start.
	Addr string

	// TLSConfig specifies an optional TLS configuration.
	TLSConfig *tls.Config

	// Logger receives connection diagnostics.
	Logger zerolog.Logger

	// OutboxSize is the number of frames each connection may queue; 0 means
	// transport.DefaultOutboxSize.
	OutboxSize int

	handlers observer.List[func(broker.Conn)]

	mu    sync.Mutex
	ln    net.Listener
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// OnConnect implements broker.Listener.
func (l *Listener) OnConnect(fn func(broker.Conn)) {
	l.handlers.Add(fn)
}

// Start listens on Addr and accepts connections in a new goroutine.
func (l *Listener) Start() error {
	addr := l.Addr
	if addr == "" {
		addr = "127.0.0.1:"
	}
	var ln net.Listener
	var err error
	if l.TLSConfig != nil {
		ln, err = tls.Listen("tcp", addr, l.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}
	l.Addr = ln.Addr().String()
	l.Serve(ln)
	return nil
}

// Serve accepts connections on ln in a new goroutine until Stop is called.
func (l *Listener) Serve(ln net.Listener) {
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	l.Logger.Info().Str("addr", ln.Addr().String()).Msg("tcp listener started")
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			rwc, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				l.Logger.Warn().Err(err).Msg("accept failed")
				continue
			}
			l.ServeConn(rwc)
		}
	}()
}

// ServeConn serves an already established connection.
func (l *Listener) ServeConn(rwc net.Conn) *Conn {
	c := NewConn(rwc, l.Logger, l.OutboxSize)
	l.mu.Lock()
	if l.conns == nil {
		l.conns = map[*Conn]struct{}{}
	}
	l.conns[c] = struct{}{}
	l.mu.Unlock()
	c.OnClose(func() {
		l.mu.Lock()
		delete(l.conns, c)
		l.mu.Unlock()
	})
	l.handlers.Each(func(fn func(broker.Conn)) {
		fn(c)
	})
	c.Start(&l.wg)
	return c
}

// Pipe serves one end of an in-memory connection and returns the other end, started.
// The returned Conn can be used to talk to the broker as if it had joined via network
// connection.
func (l *Listener) Pipe() *Conn {
	server, client := net.Pipe()
	l.ServeConn(server)
	c := NewConn(client, l.Logger, l.OutboxSize)
	c.Start(&l.wg)
	return c
}

// Stop closes the network listener and every connection and waits for their
// goroutines to end.
func (l *Listener) Stop() error {
	l.mu.Lock()
	ln := l.ln
	l.ln = nil
	conns := make([]*Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	//
	var err error
	if ln != nil {
		if err = ln.Close(); errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	for _, c := range conns {
		_ = c.Close()
	}
	l.wg.Wait()
	return err
}
