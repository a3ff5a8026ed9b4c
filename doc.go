// Package ultralight contains the STOMP frame model shared by the broker, its
// transports, and the client: Frame and Headers, the text codec (Encode and Decode),
// and a Parser for reading frames from a byte stream.
//
// The broker itself lives in package broker; transports live under transport/.
package ultralight
