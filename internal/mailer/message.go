// Package mailer turns outbound email messages into SMTP transactions. It
// owns the message view derivation (envelope sender and recipients, header
// serialization) and the session-managing Transport that drives the protocol
// client in internal/smtp.
package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
	"time"
)

// Errors detected while deriving the message view, before any network I/O.
var (
	// ErrNoSender is returned when neither an explicit sender nor a From
	// address can be resolved.
	ErrNoSender = errors.New("mailer: no sender available")
	// ErrNoRecipients is returned when To, Cc and Bcc resolve to an empty
	// recipient set.
	ErrNoRecipients = errors.New("mailer: no recipients available")
)

// Body type identifiers accepted on a Message.
const (
	BodyTypeText = "text"
	BodyTypeHTML = "html"
)

// Message is an outbound email. Sender, when set, takes precedence over the
// first From address for the envelope. Bcc recipients receive the message via
// the envelope only and are never serialized into the header block.
type Message struct {
	ID       string
	Sender   string
	From     []string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	BodyType string
	Body     string
	Headers  map[string]string
}

// view is the read-only projection of a Message actually sent on the wire:
// the envelope sender, the de-duplicated envelope recipients and the
// serialized content (header block, blank separator, body).
type view struct {
	from    string
	rcpts   []string
	content []byte
}

// newView derives the wire projection from msg. It fails with ErrNoSender or
// ErrNoRecipients before the caller performs any network I/O.
func newView(msg *Message, now func() time.Time) (*view, error) {
	if msg == nil {
		return nil, errors.New("mailer: message is required")
	}

	from, err := envelopeFrom(msg)
	if err != nil {
		return nil, err
	}

	rcpts, err := envelopeRecipients(msg)
	if err != nil {
		return nil, err
	}

	return &view{
		from:    from,
		rcpts:   rcpts,
		content: serialize(msg, now),
	}, nil
}

// envelopeFrom resolves the envelope sender: the explicit Sender when set,
// otherwise the first From address.
func envelopeFrom(msg *Message) (string, error) {
	if s := strings.TrimSpace(msg.Sender); s != "" {
		return bareAddress(s)
	}
	for _, raw := range msg.From {
		if strings.TrimSpace(raw) != "" {
			return bareAddress(raw)
		}
	}
	return "", ErrNoSender
}

// envelopeRecipients collects the de-duplicated union of To, Cc and Bcc.
// Order follows first appearance; equality is on the bare address.
func envelopeRecipients(msg *Message) ([]string, error) {
	seen := make(map[string]struct{})
	var rcpts []string
	for _, group := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, raw := range group {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			addr, err := bareAddress(raw)
			if err != nil {
				return nil, fmt.Errorf("mailer: invalid recipient %q: %w", raw, err)
			}
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			rcpts = append(rcpts, addr)
		}
	}
	if len(rcpts) == 0 {
		return nil, ErrNoRecipients
	}
	return rcpts, nil
}

// serialize builds the transmitted bytes: canonical headers in sorted order
// (Bcc always excluded), a blank separator line, and the CRLF-normalized
// body.
func serialize(msg *Message, now func() time.Time) []byte {
	headers := make(map[string]string, len(msg.Headers)+8)
	for key, value := range msg.Headers {
		canonical := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key))
		if canonical == "" || strings.TrimSpace(value) == "" {
			continue
		}
		headers[canonical] = sanitizeHeaderValue(value)
	}

	if len(msg.From) > 0 {
		headers["From"] = sanitizeHeaderValue(strings.Join(msg.From, ", "))
	} else if s := strings.TrimSpace(msg.Sender); s != "" {
		headers["From"] = sanitizeHeaderValue(s)
	}
	if len(msg.To) > 0 {
		headers["To"] = sanitizeHeaderValue(strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		headers["Cc"] = sanitizeHeaderValue(strings.Join(msg.Cc, ", "))
	} else {
		delete(headers, "Cc")
	}
	// Bcc must never reach the wire; bcc recipients are envelope-only.
	delete(headers, "Bcc")

	if msg.Subject != "" {
		headers["Subject"] = sanitizeHeaderValue(msg.Subject)
	}
	if _, ok := headers["Date"]; !ok {
		headers["Date"] = now().UTC().Format(time.RFC1123Z)
	}
	if msg.ID != "" {
		if _, ok := headers["Message-Id"]; !ok {
			headers["Message-Id"] = sanitizeHeaderValue(msg.ID)
		}
	}
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = contentTypeFor(msg.BodyType)

	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, key := range keys {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(headers[key])
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.WriteString(normalizeBody(msg.Body))
	return buf.Bytes()
}

// bareAddress parses value (with or without a display name) and returns the
// plain addr-spec used in the envelope.
func bareAddress(value string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	if addr.Address == "" {
		return "", errors.New("empty address")
	}
	return addr.Address, nil
}

func contentTypeFor(bodyType string) string {
	switch strings.ToLower(strings.TrimSpace(bodyType)) {
	case BodyTypeHTML:
		return "text/html; charset=UTF-8"
	default:
		return "text/plain; charset=UTF-8"
	}
}

func normalizeBody(body string) string {
	if body == "" {
		return ""
	}
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}
