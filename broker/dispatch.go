package broker

import (
	"errors"
	"fmt"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker/events"
	"github.com/ernstnaezer/ultralight/frames"
)

// handler processes one client frame.  A returned error is sent to the client as an
// ERROR frame and suppresses the receipt.
type handler func(conn Conn, f ultralight.Frame) error

// dispatchTable maps the client commands the broker understands to their handlers.
func (b *Broker) dispatchTable() map[ultralight.Command]handler {
	return map[ultralight.Command]handler{
		ultralight.CommandConnect:     b.onConnect,
		ultralight.CommandDisconnect:  b.onDisconnect,
		ultralight.CommandSend:        b.onSend,
		ultralight.CommandSubscribe:   b.onSubscribe,
		ultralight.CommandUnsubscribe: b.onUnsubscribe,
	}
}

// handle is the frame handler registered on every accepted connection.
func (b *Broker) handle(conn Conn, f ultralight.Frame) {
	fn, ok := b.handlers[f.Command]
	if !ok {
		b.Logger.Debug().Str("command", f.Command.String()).Msg("ignoring frame")
		return
	}
	b.Metrics.frameReceived(f.Command)
	if f.Command != ultralight.CommandConnect && !conn.IsConnected() {
		b.sendError(conn, fmt.Sprintf("Please connect before sending '%v'", f.Command))
		return
	}
	if err := fn(conn, f); err != nil {
		b.Logger.Debug().Err(err).Str("session", conn.SessionID()).Str("command", f.Command.String()).Msg("frame rejected")
		b.sendError(conn, err.Error())
		return
	}
	if f.Command != ultralight.CommandConnect {
		if receipt := f.Get(ultralight.HeaderReceipt); receipt != "" {
			b.send(conn, frames.Receipt(receipt))
		}
	}
	if f.Command == ultralight.CommandDisconnect {
		_ = conn.Close()
	}
}

func (b *Broker) onConnect(conn Conn, f ultralight.Frame) error {
	session := b.NewSessionID()
	conn.SetSessionID(session)
	b.send(conn, frames.Connected(session))
	b.Logger.Debug().Str("session", session).Msg("client connected")
	b.emit(events.ClientConnect{SessionID: session})
	return nil
}

// onDisconnect does nothing; handle closes the connection after the receipt.
func (b *Broker) onDisconnect(conn Conn, f ultralight.Frame) error {
	return nil
}

func (b *Broker) onSubscribe(conn Conn, f ultralight.Frame) error {
	dest := f.Get(ultralight.HeaderDestination)
	if dest == "" {
		return &HeaderError{Command: f.Command, Header: ultralight.HeaderDestination}
	}
	id := f.Get(ultralight.HeaderID)
	for {
		q, err := b.lookupOrCreate(dest)
		if err != nil {
			return err
		}
		if err = q.AddSubscriber(conn, id); !errors.Is(err, ErrQueueRetired) {
			return err
		}
	}
}

func (b *Broker) onUnsubscribe(conn Conn, f ultralight.Frame) error {
	dest := f.Get(ultralight.HeaderDestination)
	if dest == "" {
		return nil
	}
	if q := b.Queue(dest); q == nil || !q.RemoveSubscriber(conn) {
		b.sendError(conn, fmt.Sprintf("You are not subscribed to queue '%v'", dest))
	}
	return nil
}

func (b *Broker) onSend(conn Conn, f ultralight.Frame) error {
	dest := f.Get(ultralight.HeaderDestination)
	if dest == "" {
		return &HeaderError{Command: f.Command, Header: ultralight.HeaderDestination}
	}
	for {
		q, err := b.lookupOrCreate(dest)
		if err != nil {
			return err
		}
		if err = q.Publish(f.Body); !errors.Is(err, ErrQueueRetired) {
			return err
		}
	}
}

func (b *Broker) sendError(conn Conn, message string) {
	b.Metrics.errorSent()
	b.send(conn, frames.Error(message))
}

func (b *Broker) send(conn Conn, f ultralight.Frame) {
	if err := conn.Send(f); err != nil {
		b.Logger.Debug().Err(err).Str("session", conn.SessionID()).Str("command", f.Command.String()).Msg("send failed")
	}
}
