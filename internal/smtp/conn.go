// Package smtp implements the client side of the SMTP protocol (RFC 5321):
// the line-oriented transcript channel, the command/reply state machine and
// the associated error taxonomy. Message construction and session lifecycle
// live in internal/mailer.
package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// maxReplyLineLen bounds a single reply line to guard against a misbehaving
// server exhausting memory.
const maxReplyLineLen = 2048

// Channel is the transcript channel the protocol client drives: it writes
// CRLF-terminated command lines and reads numeric-coded replies. Implemented
// by Conn for real connections and by fakes in tests.
type Channel interface {
	WriteLine(line string) error
	ReadReply() (Reply, error)
	DotWriter() io.WriteCloser
	SetDeadline(ctx context.Context)
	StartTLS(cfg *tls.Config) error
	Close() error
}

// Conn wraps a network connection with buffered SMTP wire I/O. All reads and
// writes are blocking; deadlines come from the configured timeout or from the
// caller's context, whichever is tighter.
type Conn struct {
	nc      net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
}

// NewConn wraps an established network connection. A non-positive timeout
// disables the per-operation deadline.
func NewConn(nc net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		nc:      nc,
		r:       bufio.NewReaderSize(nc, 4096),
		w:       bufio.NewWriterSize(nc, 4096),
		timeout: timeout,
	}
}

// SetDeadline arms the connection deadline for the next protocol exchange.
// The context deadline wins when it is earlier than the configured timeout.
func (c *Conn) SetDeadline(ctx context.Context) {
	deadline := time.Time{}
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok {
		if deadline.IsZero() || ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
	}
	_ = c.nc.SetDeadline(deadline)
}

// WriteLine writes a single command line followed by CRLF and flushes.
func (c *Conn) WriteLine(line string) error {
	if _, err := c.w.WriteString(line); err != nil {
		return err
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// ReadReply reads one reply, assembling multi-line replies (hyphen after the
// status code on all but the last line) into a single Reply value.
func (c *Conn) ReadReply() (Reply, error) {
	var lines []string
	first := 0
	for {
		line, err := c.readLine()
		if err != nil {
			return Reply{}, fmt.Errorf("smtp: read reply: %w", err)
		}

		if len(line) < 3 {
			return Reply{}, fmt.Errorf("smtp: reply line %q too short", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return Reply{}, fmt.Errorf("smtp: malformed reply code in %q", line)
		}
		// Every continuation line must repeat the code of the first line.
		if len(lines) == 0 {
			first = code
		} else if code != first {
			return Reply{}, fmt.Errorf("smtp: inconsistent reply code in %q, expected %d", line, first)
		}

		if len(line) == 3 {
			lines = append(lines, "")
			return Reply{Code: code, Lines: lines}, nil
		}

		text := line[4:]
		switch line[3] {
		case '-':
			lines = append(lines, text)
		case ' ':
			lines = append(lines, text)
			return Reply{Code: code, Lines: lines}, nil
		default:
			return Reply{}, fmt.Errorf("smtp: malformed reply separator in %q", line)
		}
	}
}

func (c *Conn) readLine() (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.r.ReadLine()
		line = append(line, chunk...)
		if err != nil {
			return "", err
		}
		if len(line) > maxReplyLineLen {
			return "", errors.New("reply line exceeds maximum length")
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}

// DotWriter returns a writer that dot-stuffs the message payload and, on
// Close, emits the end-of-data sequence and flushes (RFC 5321 §4.5.2).
func (c *Conn) DotWriter() io.WriteCloser {
	return &dotWriter{w: c.w, atLineStart: true}
}

// StartTLS upgrades the connection to TLS and resets the buffered reader and
// writer onto the encrypted stream.
func (c *Conn) StartTLS(cfg *tls.Config) error {
	tlsConn := tls.Client(c.nc, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("smtp: tls handshake: %w", err)
	}
	c.nc = tlsConn
	c.r = bufio.NewReaderSize(tlsConn, 4096)
	c.w = bufio.NewWriterSize(tlsConn, 4096)
	return nil
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
