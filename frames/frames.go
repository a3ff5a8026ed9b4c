// Package frames creates the STOMP frames exchanged by the broker and its clients.
package frames

import (
	"github.com/ernstnaezer/ultralight"
)

// Empty is an empty STOMP frame and is provided as a convenience.
var Empty ultralight.Frame

// Connect creates a CONNECT frame.
func Connect() ultralight.Frame {
	return ultralight.Frame{
		Command: ultralight.CommandConnect,
	}
}

// Connected creates a CONNECTED frame carrying the session-id assigned by the broker.
func Connected(session string) ultralight.Frame {
	return ultralight.NewFrame(ultralight.CommandConnected, "", ultralight.HeaderSessionID, session)
}

// Disconnect creates a DISCONNECT frame.
func Disconnect() ultralight.Frame {
	return ultralight.Frame{
		Command: ultralight.CommandDisconnect,
	}
}

// Error creates an ERROR frame whose body is the human readable message.  The
// message is repeated in the message header for clients that only inspect headers.
func Error(message string) ultralight.Frame {
	return ultralight.NewFrame(ultralight.CommandError, message, ultralight.HeaderMessage, message)
}

// Message creates a MESSAGE frame for delivery to a subscriber.
//
// subscription is only added as a header when it is not empty.
func Message(destination, messageID, subscription, body string) ultralight.Frame {
	f := ultralight.NewFrame(ultralight.CommandMessage, body,
		ultralight.HeaderMessageID, messageID,
		ultralight.HeaderDestination, destination,
	)
	if subscription != "" {
		f.Set(ultralight.HeaderSubscription, subscription)
	}
	return f
}

// Receipt creates a RECEIPT frame acknowledging the frame that carried receipt:id.
func Receipt(id string) ultralight.Frame {
	return ultralight.NewFrame(ultralight.CommandReceipt, "", ultralight.HeaderReceiptID, id)
}

// Send creates a SEND frame.
//
// dest is required by STOMP protocol but not enforced by this function.
func Send(dest, body string) ultralight.Frame {
	return ultralight.NewFrame(ultralight.CommandSend, body, ultralight.HeaderDestination, dest)
}

// Subscribe creates a SUBSCRIBE frame.
//
// dest is required by STOMP protocol but not enforced by this function.
// id is optional and only added when not empty.
func Subscribe(dest, id string) ultralight.Frame {
	f := ultralight.NewFrame(ultralight.CommandSubscribe, "", ultralight.HeaderDestination, dest)
	if id != "" {
		f.Set(ultralight.HeaderID, id)
	}
	return f
}

// Unsubscribe creates an UNSUBSCRIBE frame.
func Unsubscribe(dest string) ultralight.Frame {
	return ultralight.NewFrame(ultralight.CommandUnsubscribe, "", ultralight.HeaderDestination, dest)
}

// WithReceipt returns a copy of f that requests a RECEIPT with the given id.
func WithReceipt(f ultralight.Frame, id string) ultralight.Frame {
	f = f.Clone()
	f.Set(ultralight.HeaderReceipt, id)
	return f
}
