package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/mail-courier/internal/smtp"
	"github.com/example/mail-courier/internal/smtp/auth"
)

const defaultTimeout = 30 * time.Second

// Sender delivers prepared messages. Close releases any connection the
// implementation holds.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	Close() error
}

// Dialer abstracts net.Dialer so tests can substitute an in-memory server.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config carries the session options the transport needs. It is immutable
// once the transport is constructed.
type Config struct {
	Host          string
	Port          int
	Timeout       time.Duration
	HelloName     string
	AuthMechanism string
	Username      string
	Password      string
}

// Option configures the transport at construction time.
type Option func(*Transport)

// WithDialer swaps the network dialer used to open connections.
func WithDialer(d Dialer) Option {
	return func(t *Transport) {
		if d != nil {
			t.dialer = d
		}
	}
}

// WithTLSConfig overrides the TLS configuration used when negotiating
// STARTTLS. Passing nil disables the upgrade entirely.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(t *Transport) {
		t.tlsConfig = cfg
	}
}

// WithClock replaces the clock used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
	}
}

// Transport manages one SMTP session: it connects lazily on the first Send,
// reuses the live session for subsequent sends by issuing RSET, and releases
// the connection on Close. A transport holds at most one connection.
//
// SMTP is a strict request/response protocol, so commands on the one channel
// must not interleave. Send and Close serialize on an internal mutex;
// concurrent callers share the session and block each other.
type Transport struct {
	cfg       Config
	logger    zerolog.Logger
	dialer    Dialer
	tlsConfig *tls.Config
	now       func() time.Time

	mu     sync.Mutex
	client *smtp.Client
}

var _ Sender = (*Transport)(nil)

// NewTransport validates the configuration and constructs a transport. An
// unknown authentication mechanism name fails here, before any network I/O.
func NewTransport(cfg Config, logger zerolog.Logger, opts ...Option) (*Transport, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mailer: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("mailer: invalid port %d", cfg.Port)
	}
	if cfg.AuthMechanism != "" {
		if _, err := auth.New(cfg.AuthMechanism, auth.Credentials{}); err != nil {
			return nil, fmt.Errorf("mailer: %w", err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	t := &Transport{
		cfg:    cfg,
		logger: logger,
		dialer: &net.Dialer{Timeout: cfg.Timeout},
		now:    time.Now,
		tlsConfig: &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t, nil
}

// Send delivers one message over the managed session. The message view is
// derived before any network activity, so a message without a resolvable
// sender or recipient never touches the wire. Failures surface to the caller
// unmodified; the transport does not retry.
func (t *Transport) Send(ctx context.Context, msg *Message) error {
	v, err := newView(msg, t.now)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil || t.client.State() == smtp.StateFailed || t.client.State() == smtp.StateDisconnected {
		t.drop()
		if err := t.establish(ctx); err != nil {
			return err
		}
	} else {
		// A live session may carry stray transaction state from a prior
		// message; RSET guarantees a clean boundary.
		if err := t.client.Reset(ctx); err != nil {
			return err
		}
	}

	if err := t.client.Mail(ctx, v.from); err != nil {
		return err
	}
	for _, rcpt := range v.rcpts {
		if err := t.client.Rcpt(ctx, rcpt); err != nil {
			return fmt.Errorf("recipient %s: %w", rcpt, err)
		}
	}
	if err := t.client.Data(ctx, v.content); err != nil {
		return err
	}

	t.logger.Debug().
		Str("message_id", msg.ID).
		Str("envelope_from", v.from).
		Int("recipients", len(v.rcpts)).
		Msg("mailer: message delivered")
	return nil
}

// establish opens the connection and runs greeting, handshake, optional
// STARTTLS and optional authentication. Any failure tears the connection
// down; in particular a failed authentication never leaves a usable session
// behind.
func (t *Transport) establish(ctx context.Context) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	nc, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", smtp.ErrConnect, addr, err)
	}

	client := smtp.NewClient(smtp.NewConn(nc, t.cfg.Timeout), t.cfg.HelloName, t.logger)

	if err := client.Greet(ctx); err != nil {
		client.Disconnect()
		return err
	}
	if err := client.Hello(ctx); err != nil {
		client.Disconnect()
		return err
	}

	if t.tlsConfig != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(ctx, t.tlsConfig); err != nil {
				client.Disconnect()
				return err
			}
		}
	}

	if t.cfg.AuthMechanism != "" {
		mech, err := auth.New(t.cfg.AuthMechanism, auth.Credentials{
			Username: t.cfg.Username,
			Password: t.cfg.Password,
		})
		if err != nil {
			client.Disconnect()
			return fmt.Errorf("mailer: %w", err)
		}
		if err := client.Auth(ctx, mech); err != nil {
			client.Disconnect()
			return err
		}
	}

	t.client = client
	t.logger.Debug().Str("addr", addr).Msg("mailer: session established")
	return nil
}

// Close ends the session: a best-effort QUIT whose errors are swallowed,
// followed by an unconditional disconnect. It is safe to call multiple times
// and guarantees no socket outlives the transport even when the server
// misbehaves during QUIT.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Timeout)
	defer cancel()

	if err := t.client.Quit(ctx); err != nil {
		t.logger.Debug().Err(err).Msg("mailer: quit during close")
	}
	t.drop()
	return nil
}

func (t *Transport) drop() {
	if t.client != nil {
		t.client.Disconnect()
		t.client = nil
	}
}
