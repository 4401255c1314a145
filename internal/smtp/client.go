package smtp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/mail-courier/internal/smtp/auth"
)

// Reply codes the state machine matches exactly.
const (
	codeServiceReady   = 220
	codeClosing        = 221
	codeAuthSucceeded  = 235
	codeOK             = 250
	codeAuthContinue   = 334
	codeStartMailInput = 354
)

// State is the protocol-state cursor of one SMTP session.
type State int

const (
	// StateDisconnected is the initial and final state.
	StateDisconnected State = iota
	// StateConnected means the greeting banner has been accepted.
	StateConnected
	// StateReady means the handshake (and authentication, when configured)
	// has completed and a mail transaction may begin.
	StateReady
	// StateMail means MAIL FROM has been accepted.
	StateMail
	// StateRcpt means at least one RCPT TO has been accepted.
	StateRcpt
	// StateFailed is terminal: the session suffered an unrecoverable
	// protocol or I/O failure and the channel must be discarded.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateMail:
		return "mail"
	case StateRcpt:
		return "rcpt"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client enforces the legal SMTP command sequence over a transcript channel.
// It owns the channel for the lifetime of the session. Client is not safe for
// concurrent use; SMTP is a strict request/response protocol and all calls on
// one session must be serialized by the caller.
type Client struct {
	ch     Channel
	logger zerolog.Logger
	local  string
	exts   map[string]string
	state  State
	closed bool
}

// NewClient wraps an open channel whose greeting banner has not been read
// yet. local is the client name presented in EHLO/HELO.
func NewClient(ch Channel, local string, logger zerolog.Logger) *Client {
	if strings.TrimSpace(local) == "" {
		local = "localhost"
	}
	return &Client{
		ch:     ch,
		logger: logger,
		local:  local,
		state:  StateDisconnected,
	}
}

// State returns the current protocol-state cursor.
func (c *Client) State() State { return c.state }

// Greet consumes the server greeting. It must be the first exchange on the
// channel and transitions the session to the connected state.
func (c *Client) Greet(ctx context.Context) error {
	if c.state != StateDisconnected {
		return c.sequenceError("greeting")
	}

	c.ch.SetDeadline(ctx)
	reply, err := c.ch.ReadReply()
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: reading greeting: %v", ErrConnect, err)
	}
	if reply.Code != codeServiceReady {
		c.state = StateFailed
		return replyError(ErrConnect, "greeting", reply)
	}

	c.logger.Debug().Str("banner", reply.Text()).Msg("smtp greeting accepted")
	c.state = StateConnected
	return nil
}

// Hello performs the session handshake: EHLO first, falling back to HELO
// when the server does not implement it. On success the advertised
// extensions are recorded and the session becomes ready for a transaction.
func (c *Client) Hello(ctx context.Context) error {
	if c.state != StateConnected {
		return c.sequenceError("EHLO")
	}
	return c.hello(ctx)
}

func (c *Client) hello(ctx context.Context) error {
	reply, err := c.cmd(ctx, "EHLO "+c.local)
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: EHLO: %v", ErrHandshake, err)
	}

	if reply.Code == codeOK {
		c.exts = parseExtensions(reply.Lines)
		c.state = StateReady
		return nil
	}

	// EHLO not implemented: retry with the minimal handshake.
	if reply.Code == 500 || reply.Code == 502 {
		reply, err = c.cmd(ctx, "HELO "+c.local)
		if err != nil {
			c.state = StateFailed
			return fmt.Errorf("%w: HELO: %v", ErrHandshake, err)
		}
		if reply.Code != codeOK {
			c.state = StateFailed
			return replyError(ErrHandshake, "HELO", reply)
		}
		c.exts = nil
		c.state = StateReady
		return nil
	}

	c.state = StateFailed
	return replyError(ErrHandshake, "EHLO", reply)
}

// Extension reports whether the server advertised the named extension in its
// EHLO response, together with any parameter string.
func (c *Client) Extension(name string) (bool, string) {
	if c.exts == nil {
		return false, ""
	}
	param, ok := c.exts[strings.ToUpper(name)]
	return ok, param
}

// StartTLS upgrades the channel to TLS and repeats the handshake to refresh
// the server's extension list (RFC 3207). Valid only before a transaction.
func (c *Client) StartTLS(ctx context.Context, cfg *tls.Config) error {
	if c.state != StateReady {
		return c.sequenceError("STARTTLS")
	}

	reply, err := c.cmd(ctx, "STARTTLS")
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: STARTTLS: %v", ErrHandshake, err)
	}
	if reply.Code != codeServiceReady {
		c.state = StateFailed
		return replyError(ErrHandshake, "STARTTLS", reply)
	}

	if err := c.ch.StartTLS(cfg); err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	c.state = StateConnected
	return c.hello(ctx)
}

// Auth runs the mechanism's challenge/response loop (RFC 4954). It is valid
// once per session, after the handshake and before any transaction. On any
// failure the session is marked failed: a half-authenticated connection must
// not be reused.
func (c *Client) Auth(ctx context.Context, mech auth.Mechanism) error {
	if c.state != StateReady {
		return c.sequenceError("AUTH")
	}

	initial, err := mech.Start()
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: %s start: %v", ErrAuth, mech.Name(), err)
	}

	line := "AUTH " + mech.Name()
	if initial != nil {
		line += " " + base64.StdEncoding.EncodeToString(initial)
	}

	c.ch.SetDeadline(ctx)
	if err := c.ch.WriteLine(line); err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: AUTH: %v", ErrAuth, err)
	}

	for {
		reply, err := c.ch.ReadReply()
		if err != nil {
			c.state = StateFailed
			return fmt.Errorf("%w: AUTH: %v", ErrAuth, err)
		}

		switch {
		case reply.Code == codeAuthSucceeded:
			c.logger.Debug().Str("mechanism", mech.Name()).Msg("smtp authentication succeeded")
			return nil
		case reply.Code != codeAuthContinue:
			c.state = StateFailed
			return replyError(ErrAuth, "AUTH "+mech.Name(), reply)
		}

		challenge, err := base64.StdEncoding.DecodeString(strings.TrimSpace(reply.Text()))
		if err != nil {
			c.state = StateFailed
			return fmt.Errorf("%w: malformed challenge: %v", ErrAuth, err)
		}

		resp, err := mech.Next(challenge)
		if err != nil {
			c.state = StateFailed
			return fmt.Errorf("%w: %s: %v", ErrAuth, mech.Name(), err)
		}
		if err := c.ch.WriteLine(base64.StdEncoding.EncodeToString(resp)); err != nil {
			c.state = StateFailed
			return fmt.Errorf("%w: AUTH response: %v", ErrAuth, err)
		}
	}
}

// Mail opens a transaction with the envelope sender. The state does not
// advance when the server rejects the command.
func (c *Client) Mail(ctx context.Context, from string) error {
	if c.state != StateReady {
		return c.sequenceError("MAIL")
	}

	cmd := fmt.Sprintf("MAIL FROM:<%s>", from)
	reply, err := c.cmd(ctx, cmd)
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: MAIL FROM: %v", ErrTransaction, err)
	}
	if reply.Code != codeOK {
		return replyError(ErrTransaction, cmd, reply)
	}

	c.state = StateMail
	return nil
}

// Rcpt adds one envelope recipient to the open transaction. It may be called
// once per recipient. A rejection is reported per recipient and leaves the
// transaction open; whether to continue with the remaining recipients or
// abort is the caller's policy.
func (c *Client) Rcpt(ctx context.Context, to string) error {
	if c.state != StateMail && c.state != StateRcpt {
		return c.sequenceError("RCPT")
	}

	cmd := fmt.Sprintf("RCPT TO:<%s>", to)
	reply, err := c.cmd(ctx, cmd)
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: RCPT TO: %v", ErrTransaction, err)
	}
	if reply.Code != codeOK {
		return replyError(ErrTransaction, cmd, reply)
	}

	c.state = StateRcpt
	return nil
}

// Data streams the serialized message (header block, blank separator, body)
// after the server grants mail input, then waits for final acceptance. On
// success the transaction is complete and the session is ready again.
func (c *Client) Data(ctx context.Context, msg []byte) error {
	if c.state != StateRcpt {
		return c.sequenceError("DATA")
	}

	reply, err := c.cmd(ctx, "DATA")
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: DATA: %v", ErrTransaction, err)
	}
	if reply.Code != codeStartMailInput {
		return replyError(ErrTransaction, "DATA", reply)
	}

	dw := c.ch.DotWriter()
	if _, err := dw.Write(msg); err != nil {
		dw.Close()
		c.state = StateFailed
		return fmt.Errorf("%w: writing message: %v", ErrTransaction, err)
	}
	if err := dw.Close(); err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: terminating message: %v", ErrTransaction, err)
	}

	reply, err = c.ch.ReadReply()
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: DATA result: %v", ErrTransaction, err)
	}
	if reply.Code != codeOK {
		return replyError(ErrTransaction, "DATA", reply)
	}

	c.logger.Debug().Int("bytes", len(msg)).Msg("smtp message accepted")
	c.state = StateReady
	return nil
}

// Reset aborts any in-progress transaction and returns the session to the
// ready state without closing the connection. Used to reuse a session across
// messages.
func (c *Client) Reset(ctx context.Context) error {
	if c.state != StateReady && c.state != StateMail && c.state != StateRcpt {
		return c.sequenceError("RSET")
	}

	reply, err := c.cmd(ctx, "RSET")
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: RSET: %v", ErrProtocol, err)
	}
	if reply.Code != codeOK {
		c.state = StateFailed
		return replyError(ErrProtocol, "RSET", reply)
	}

	c.state = StateReady
	return nil
}

// Quit requests graceful termination. It does not close the channel; callers
// follow up with Disconnect regardless of the outcome.
func (c *Client) Quit(ctx context.Context) error {
	if c.state == StateDisconnected {
		return c.sequenceError("QUIT")
	}

	reply, err := c.cmd(ctx, "QUIT")
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("%w: QUIT: %v", ErrProtocol, err)
	}
	if reply.Code != codeClosing {
		return replyError(ErrProtocol, "QUIT", reply)
	}
	return nil
}

// Disconnect closes the transcript channel unconditionally. It is idempotent
// and never fails visibly; the session is being discarded regardless.
func (c *Client) Disconnect() {
	if !c.closed {
		c.closed = true
		if err := c.ch.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("smtp channel close")
		}
	}
	c.state = StateDisconnected
}

func (c *Client) cmd(ctx context.Context, line string) (Reply, error) {
	c.ch.SetDeadline(ctx)
	if err := c.ch.WriteLine(line); err != nil {
		return Reply{}, err
	}
	return c.ch.ReadReply()
}

func (c *Client) sequenceError(cmd string) error {
	return fmt.Errorf("%w: %s not valid in state %s", ErrProtocol, cmd, c.state)
}

// parseExtensions maps the EHLO response lines (after the leading server
// identity line) to extension keyword and parameter.
func parseExtensions(lines []string) map[string]string {
	exts := make(map[string]string)
	if len(lines) < 2 {
		return exts
	}
	for _, line := range lines[1:] {
		keyword, param, _ := strings.Cut(strings.TrimSpace(line), " ")
		if keyword == "" {
			continue
		}
		exts[strings.ToUpper(keyword)] = param
	}
	return exts
}
