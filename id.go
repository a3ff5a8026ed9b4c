package ultralight

import "github.com/google/uuid"

// NewSessionID generates and returns a new session ID.
func NewSessionID() string {
	return uuid.NewString()
}

// NewMessageID generates and returns a new message-id value.
func NewMessageID() string {
	return uuid.NewString()
}
