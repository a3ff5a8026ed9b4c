package ultralight

import (
	"io"
	"strconv"
	"strings"
)

// Frame is a STOMP frame.
type Frame struct {
	Command Command
	Headers Headers
	Body    string
}

// NewFrame creates a frame with the given command and body and alternating
// header key and value arguments.
func NewFrame(command Command, body string, kv ...string) Frame {
	return Frame{
		Command: command,
		Headers: NewHeaders(kv...),
		Body:    body,
	}
}

// Empty returns true if the frame is empty.  An empty frame has no command,
// no headers, and a zero-length body.
func (f Frame) Empty() bool {
	return f.Command == "" && len(f.Headers) == 0 && f.Body == ""
}

// Get returns the value of header key or the empty string.
func (f Frame) Get(key string) string {
	return f.Headers.Get(key)
}

// Set sets header key to value.
func (f *Frame) Set(key, value string) {
	f.Headers.Set(key, value)
}

// Clone returns a deep copy of f so the copy's headers may be mutated.
func (f Frame) Clone() Frame {
	f.Headers = f.Headers.Clone()
	return f
}

// lineBreaks are replaced in header values so a value can not end its header line.
var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// String returns the STOMP frame as a string.
func (f Frame) String() string {
	s := &strings.Builder{}
	if _, err := f.WriteTo(s); err != nil {
		return ""
	}
	return s.String()
}

// WriteTo writes data to w until there's no more data to write or when an error occurs.
// The return value n is the number of bytes written. Any error encountered during the
// write is also returned.
//
// The content-length header is derived from the body; a content-length header present
// in Headers is never written.
//
// A header key that is empty or holds a colon or line break is a *FormatError and
// nothing is written.  Line breaks in header values are written as spaces.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	for _, header := range f.Headers {
		if header.Key == "" || strings.ContainsAny(header.Key, ":\r\n") {
			return 0, &FormatError{Line: header.Key, Reason: "invalid header key"}
		}
	}
	var total, n int
	var err error
	//
	n, err = io.WriteString(w, string(f.Command)+"\n")
	total += n
	if err != nil {
		return int64(total), err
	}
	//
	if contentLength := len(f.Body); contentLength > 0 {
		n, err = io.WriteString(w, HeaderContentLength+":"+strconv.Itoa(contentLength)+"\n")
		total += n
		if err != nil {
			return int64(total), err
		}
	}
	//
	for _, header := range f.Headers {
		if header.Key == HeaderContentLength {
			continue
		}
		n, err = io.WriteString(w, header.Key+":"+lineBreaks.Replace(header.Value)+"\n")
		total += n
		if err != nil {
			return int64(total), err
		}
	}
	n, err = io.WriteString(w, "\n")
	total += n
	if err != nil {
		return int64(total), err
	}
	//
	n, err = io.WriteString(w, f.Body)
	total += n
	if err != nil {
		return int64(total), err
	}
	n, err = w.Write([]byte{0x00})
	total += n
	if err != nil {
		return int64(total), err
	}
	//
	return int64(total), nil
}
