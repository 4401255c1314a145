package smtp

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying protocol failures by the stage they occur in.
// Callers use errors.Is against these to decide policy; the underlying
// *ReplyError (when the failure came from a server reply) is reachable via
// errors.As.
var (
	// ErrConnect covers dial failures and rejected greeting banners.
	ErrConnect = errors.New("smtp: connect failed")
	// ErrHandshake covers EHLO/HELO rejections.
	ErrHandshake = errors.New("smtp: handshake rejected")
	// ErrAuth covers credential rejections and malformed challenges.
	ErrAuth = errors.New("smtp: authentication failed")
	// ErrTransaction covers MAIL, RCPT and DATA rejections.
	ErrTransaction = errors.New("smtp: transaction rejected")
	// ErrProtocol covers malformed replies, unexpected reply classes outside
	// a transaction, and commands issued in an illegal session state.
	ErrProtocol = errors.New("smtp: protocol violation")
)

// ReplyError reports a server reply outside the expected class for a command.
// Kind is one of the sentinel errors above and is exposed through Unwrap so
// that errors.Is classification works across wrapping layers.
type ReplyError struct {
	Kind error
	Cmd  string
	Code int
	Text string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%v: %s: %d %s", e.Kind, e.Cmd, e.Code, e.Text)
}

// Unwrap returns the stage sentinel the error was classified under.
func (e *ReplyError) Unwrap() error { return e.Kind }

// Permanent reports whether the server reply was in the 5xx class.
func (e *ReplyError) Permanent() bool { return e.Code >= 500 }

// Temporary reports whether the server reply was in the 4xx class.
func (e *ReplyError) Temporary() bool { return e.Code >= 400 && e.Code < 500 }

func replyError(kind error, cmd string, reply Reply) *ReplyError {
	return &ReplyError{Kind: kind, Cmd: cmd, Code: reply.Code, Text: reply.Text()}
}
