// Package tcp carries STOMP frames over raw TCP or TLS streams.
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/transport"
)

// FlushTimeout bounds how long a closing Conn spends writing frames still queued.
const FlushTimeout = 5 * time.Second

// Conn is a STOMP connection over a net.Conn.  It implements broker.Conn.
//
// After Start a reader goroutine parses frames from the stream and hands them to the
// frame handlers while a writer goroutine writes queued frames to the stream.
type Conn struct {
	broker.Hooks

	rwc    net.Conn
	outbox *transport.Outbox
	log    zerolog.Logger
}

// NewConn wraps rwc.  outbox is the number of frames Send may queue; see transport.NewOutbox.
func NewConn(rwc net.Conn, log zerolog.Logger, outbox int) *Conn {
	return &Conn{
		rwc:    rwc,
		outbox: transport.NewOutbox(outbox),
		log:    log.With().Str("transport", "tcp").Str("remote", rwc.RemoteAddr().String()).Logger(),
	}
}

// Pipe creates a pair of started Conns connected to each other in memory.
func Pipe() (*Conn, *Conn) {
	a, b := net.Pipe()
	ca, cb := NewConn(a, zerolog.Nop(), 0), NewConn(b, zerolog.Nop(), 0)
	ca.Start(nil)
	cb.Start(nil)
	return ca, cb
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.rwc.RemoteAddr()
}

// Send implements broker.Conn.
func (c *Conn) Send(f ultralight.Frame) error {
	return c.outbox.Put(f)
}

// SendWait implements broker.WaitSender.
func (c *Conn) SendWait(ctx context.Context, f ultralight.Frame) error {
	return c.outbox.PutWait(ctx, f)
}

// Close implements broker.Conn.  Frames already queued are written before the stream
// is closed.
func (c *Conn) Close() error {
	if !c.outbox.Close() {
		return nil
	}
	_ = c.rwc.SetWriteDeadline(time.Now().Add(FlushTimeout))
	c.EmitClose()
	return nil
}

// Start launches the reader and writer goroutines.  The wait group is optional.
func (c *Conn) Start(wg *sync.WaitGroup) {
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.reader()
	}()
	go func() {
		defer wg.Done()
		c.writer()
	}()
}

// reader parses frames until the stream fails or ends and then closes the Conn.
func (c *Conn) reader() {
	parser := ultralight.NewParser(c.rwc)
	for parser.Next() {
		f, err := parser.Frame()
		if err != nil {
			if parser.Next() {
				c.log.Debug().Err(err).Msg("dropping malformed frame")
			}
			continue
		}
		c.EmitFrame(f)
	}
	_ = c.Close()
}

// writer writes queued frames until the Conn is closed and then closes the stream.
func (c *Conn) writer() {
	err := c.outbox.Run(func(f ultralight.Frame) error {
		_, err := f.WriteTo(c.rwc)
		return err
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("write failed")
	}
	_ = c.Close()
	_ = c.rwc.Close()
}
