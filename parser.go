package ultralight

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// Parser accepts a reader and parses a stream of STOMP frames.
type Parser struct {
	// b is the io.Reader providing data to the Parser.
	b *bufio.Reader

	// raw accumulates the text of the frame currently being read.
	raw strings.Builder

	// contentLength is the content-length header of the current frame or -1.
	contentLength int

	// err is our sticky I/O error.
	err error
}

// NewParser returns a new STOMP Parser.
func NewParser(r io.Reader) *Parser {
	return &Parser{
		b: bufio.NewReader(r),
	}
}

// Next returns true if parsing can continue.
//
// Next returns false once Frame has returned an I/O error or io.EOF.  A malformed
// frame does not stop the parser because the stream is still positioned at the
// start of the next frame.
func (p *Parser) Next() bool {
	return p.err == nil
}

// Frame returns the next Frame or an error.
//
// io.EOF is returned when the stream ends cleanly between frames.  An error wrapping
// ErrFrame is returned for a malformed frame; if errors.Is(err, ErrNoFrame) or the
// error is a *FormatError the frame was consumed and parsing may continue.
func (p *Parser) Frame() (Frame, error) {
	if p.err != nil {
		return Frame{}, p.err
	}
	p.raw.Reset()
	p.contentLength = -1
	if p.err = p.readCommand(); p.err != nil {
		return Frame{}, p.err
	} else if p.err = p.readHeaders(); p.err != nil {
		return Frame{}, p.err
	} else if p.err = p.readBody(); p.err != nil {
		return Frame{}, p.err
	}
	return Decode(p.raw.String())
}

// readCommand reads the frame command line.
//
// If the error is io.EOF then nothing was read and EOF has occurred cleanly
// between STOMP frames.
func (p *Parser) readCommand() error {
	var c string
	var err error
	// Empty lines and stray null bytes between frames are skipped.
	for c, err = p.b.ReadString('\n'); err == nil && strings.Trim(c, "\r\n\x00") == ""; c, err = p.b.ReadString('\n') {
	}
	if err != nil {
		// Certain errors represent a clean break between frames if c
		// is empty.  All such errors are coalesced to io.EOF to ease
		// error checking when using the parser.
		asEOF := errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded)
		if strings.Trim(c, "\r\n\x00") == "" && asEOF {
			return io.EOF
		}
		return fmt.Errorf("%w: reading command: %v", ErrFrame, err.Error())
	}
	//
	p.raw.WriteString(strings.TrimLeft(c, "\x00"))
	//
	return nil
}

// readHeaders reads header lines up to and including the blank line.
func (p *Parser) readHeaders() error {
	var s string
	var err error
	//
	for {
		s, err = p.b.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: reading headers: %v", ErrFrame, err.Error())
		}
		p.raw.WriteString(s)
		line := strings.TrimSuffix(strings.TrimSuffix(s, "\n"), "\r")
		if line == "" {
			return nil
		}
		// The first content-length wins for framing; it is only a hint.
		if key, value, ok := splitHeader(line); ok && key == HeaderContentLength && p.contentLength == -1 {
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				p.contentLength = n
			}
		}
	}
}

// readBody reads the body.
//
// If the current frame has a valid content-length header then the body is read up to
// that content length followed by the null byte.  Otherwise reading stops at the first
// null byte.
func (p *Parser) readBody() error {
	var tmp []byte
	var err error
	//
	if n := p.contentLength; n >= 0 {
		tmp = make([]byte, n+1) // +1 for null byte
		if _, err = io.ReadFull(p.b, tmp); err != nil {
			return fmt.Errorf("%w: reading content-length %v byte(s): %v", ErrFrame, n+1, err.Error())
		}
		if tmp[n] != 0x00 {
			// The length lied; resynchronize on the next null byte.
			var rest []byte
			if rest, err = p.b.ReadBytes('\x00'); err != nil {
				return fmt.Errorf("%w: reading until null byte: %v", ErrFrame, err.Error())
			}
			tmp = append(tmp, rest...)
		}
	} else {
		if tmp, err = p.b.ReadBytes('\x00'); err != nil {
			return fmt.Errorf("%w: reading until null byte: %v", ErrFrame, err.Error())
		}
	}
	p.raw.Write(tmp)
	//
	return nil
}
