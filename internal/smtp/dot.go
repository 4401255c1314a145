package smtp

import (
	"bufio"
	"io"
)

// dotWriter streams a DATA payload with dot-stuffing: a leading dot on any
// line is doubled, and Close writes the ".\r\n" terminator. If the payload
// does not end with CRLF, Close supplies it before the terminator.
type dotWriter struct {
	w           *bufio.Writer
	atLineStart bool
	closed      bool
}

func (d *dotWriter) Write(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}

	written := 0
	for _, b := range p {
		if d.atLineStart && b == '.' {
			if err := d.w.WriteByte('.'); err != nil {
				return written, err
			}
		}
		if err := d.w.WriteByte(b); err != nil {
			return written, err
		}
		written++
		d.atLineStart = b == '\n'
	}
	return written, nil
}

func (d *dotWriter) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if !d.atLineStart {
		if _, err := d.w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	if _, err := d.w.WriteString(".\r\n"); err != nil {
		return err
	}
	return d.w.Flush()
}
