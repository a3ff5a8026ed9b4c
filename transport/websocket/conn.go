// Package websocket carries STOMP frames over WebSocket connections, one frame per
// text message.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/transport"
)

// WriteTimeout bounds every write to the socket.
const WriteTimeout = 5 * time.Second

// Conn is a STOMP connection over a WebSocket.  It implements broker.Conn.
type Conn struct {
	broker.Hooks

	ws     *websocket.Conn
	outbox *transport.Outbox
	log    zerolog.Logger
}

func newConn(ws *websocket.Conn, log zerolog.Logger, outbox int) *Conn {
	return &Conn{
		ws:     ws,
		outbox: transport.NewOutbox(outbox),
		log:    log.With().Str("transport", "websocket").Str("remote", ws.RemoteAddr().String()).Logger(),
	}
}

// Send implements broker.Conn.
func (c *Conn) Send(f ultralight.Frame) error {
	return c.outbox.Put(f)
}

// SendWait implements broker.WaitSender.
func (c *Conn) SendWait(ctx context.Context, f ultralight.Frame) error {
	return c.outbox.PutWait(ctx, f)
}

// Close implements broker.Conn.  Frames already queued are written before the socket
// is closed.
func (c *Conn) Close() error {
	if c.outbox.Close() {
		c.EmitClose()
	}
	return nil
}

func (c *Conn) start(wg *sync.WaitGroup) {
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

// reader decodes one frame per text message until the socket fails.
func (c *Conn) reader() {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		f, err := ultralight.Decode(string(data))
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.EmitFrame(f)
	}
	_ = c.Close()
}

// writer writes queued frames, then says goodbye and closes the socket.
func (c *Conn) writer() {
	err := c.outbox.Run(func(f ultralight.Frame) error {
		_ = c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
		return c.ws.WriteMessage(websocket.TextMessage, []byte(ultralight.Encode(f)))
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("write failed")
	}
	_ = c.Close()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.ws.Close()
}
