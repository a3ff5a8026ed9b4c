package ultralight

import (
	"strings"
)

// Encode serializes f into STOMP text.  It is the string form of Frame.WriteTo.
func Encode(f Frame) string {
	return f.String()
}

// Decode parses a single STOMP frame from s.
//
// Decode returns ErrNoFrame when s is empty or has no command line and a *FormatError
// when the command line is not a valid command token.  Header lines without a colon
// are skipped.  Header keys and values are trimmed of surrounding whitespace and the
// last duplicate key wins.  The body is everything after the blank line that ends the
// headers with any trailing "\r", "\n" and "\x00" removed.
func Decode(s string) (Frame, error) {
	var line string
	var ok bool
	//
	// Leading line terminators are the remains of a previous frame or heart-beat EOLs.
	s = strings.TrimLeft(s, "\r\n\x00")
	if strings.TrimSpace(s) == "" {
		return Frame{}, ErrNoFrame
	}
	line, s, _ = cutLine(s)
	command := strings.TrimSpace(line)
	if command == "" {
		return Frame{}, ErrNoFrame
	} else if !validCommand(command) {
		return Frame{}, &FormatError{Line: line, Reason: "invalid command"}
	}
	f := Frame{
		Command: Command(command),
	}
	//
	for {
		if line, s, ok = cutLine(s); !ok && line == "" {
			// Input ended inside the header block; there is no body.
			break
		} else if line == "" {
			break
		}
		if key, value, valid := splitHeader(line); valid {
			f.Headers.Set(key, value)
		}
		if !ok {
			break
		}
	}
	f.Body = strings.TrimRight(s, "\r\n\x00")
	return f, nil
}

// cutLine returns the next line of s with its "\n" or "\r\n" terminator removed,
// the remainder of s, and true if a terminator was found.
func cutLine(s string) (string, string, bool) {
	line, rest, found := strings.Cut(s, "\n")
	return strings.TrimSuffix(line, "\r"), rest, found
}

// splitHeader splits a header line at its first colon.  Lines without a colon
// or with an empty key are not valid headers.
func splitHeader(line string) (string, string, bool) {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	if key = strings.TrimSpace(key); key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// validCommand returns true if command is a single printable token.
func validCommand(command string) bool {
	for _, r := range command {
		if r <= ' ' || r == ':' || r == 0x7f {
			return false
		}
	}
	return true
}
