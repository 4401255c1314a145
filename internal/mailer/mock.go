package mailer

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MockSender is a deterministic Sender for local development and tests. It
// derives the same message view as the real transport, so invalid messages
// fail identically, but records accepted messages instead of delivering them.
type MockSender struct {
	logger zerolog.Logger

	mu     sync.Mutex
	sent   []*Message
	err    error
	closed bool
}

var _ Sender = (*MockSender)(nil)

// NewMockSender constructs a mock sender that accepts every valid message.
func NewMockSender(logger zerolog.Logger) *MockSender {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &MockSender{logger: logger}
}

// FailWith makes subsequent Send calls return err. Passing nil restores
// success behaviour.
func (m *MockSender) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Send validates the message view and records the message.
func (m *MockSender) Send(_ context.Context, msg *Message) error {
	if _, err := newView(msg, time.Now); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	m.logger.Debug().Str("message_id", msg.ID).Msg("mock sender accepted message")
	return nil
}

// Sent returns the messages accepted so far.
func (m *MockSender) Sent() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// Close marks the sender closed. Idempotent.
func (m *MockSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
