package ultralight

import (
	"errors"
	"fmt"
)

var (
	// ErrFrame occurs when the reader returns any error during parsing of a STOMP frame
	// or when the frame text is malformed.
	ErrFrame = errors.New("stomp: invalid frame")

	// ErrMissingHeader occurs when a frame is missing a required header.
	ErrMissingHeader = errors.New("stomp: missing required header")

	// ErrNoFrame is returned by Decode when the input holds no frame at all; it is
	// not a protocol violation and callers should simply drop the input.
	ErrNoFrame = errors.New("stomp: no frame")
)

// FormatError describes frame text that can not be decoded.
type FormatError struct {
	// Line is the offending line without its line terminator.
	Line string

	// Reason is a short description of the problem.
	Reason string
}

// Error implements error.
func (e *FormatError) Error() string {
	return fmt.Sprintf("%v: %v: %q", ErrFrame.Error(), e.Reason, e.Line)
}

// Unwrap allows errors.Is(err, ErrFrame).
func (e *FormatError) Unwrap() error {
	return ErrFrame
}
