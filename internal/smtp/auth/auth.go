// Package auth implements the client-side SASL mechanisms used for SMTP
// authentication (RFC 4954) and the registry that resolves a configured
// mechanism name to an implementation.
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownMechanism is returned when a configured mechanism name does not
// match any registered implementation.
var ErrUnknownMechanism = errors.New("auth: unknown mechanism")

// Credentials hold the secrets a mechanism responds with. Identity is the
// SASL authorization identity and is usually left empty.
type Credentials struct {
	Identity string
	Username string
	Password string
}

// Mechanism is a client-side challenge/response authentication mechanism.
// Start produces the optional initial response; Next answers each server
// challenge in turn.
type Mechanism interface {
	Name() string
	Start() ([]byte, error)
	Next(challenge []byte) ([]byte, error)
}

var mechanisms = map[string]func(Credentials) Mechanism{
	"PLAIN":    func(c Credentials) Mechanism { return &plain{creds: c} },
	"LOGIN":    func(c Credentials) Mechanism { return &login{creds: c} },
	"CRAM-MD5": func(c Credentials) Mechanism { return &cramMD5{creds: c} },
}

// New resolves name case-insensitively against the registered mechanisms and
// returns a fresh Mechanism bound to the supplied credentials.
func New(name string, creds Credentials) (Mechanism, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	ctor, ok := mechanisms[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownMechanism, name, strings.Join(Known(), ", "))
	}
	return ctor(creds), nil
}

// Known returns the sorted list of registered mechanism names.
func Known() []string {
	names := make([]string, 0, len(mechanisms))
	for name := range mechanisms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// plain implements SASL PLAIN (RFC 4616): a single initial response of
// identity NUL username NUL password.
type plain struct {
	creds Credentials
}

func (m *plain) Name() string { return "PLAIN" }

func (m *plain) Start() ([]byte, error) {
	return []byte(m.creds.Identity + "\x00" + m.creds.Username + "\x00" + m.creds.Password), nil
}

func (m *plain) Next(challenge []byte) ([]byte, error) {
	return nil, errors.New("auth: unexpected challenge for PLAIN")
}

// login implements the LOGIN mechanism: the server prompts for the username
// and password in two consecutive challenges.
type login struct {
	creds Credentials
	step  int
}

func (m *login) Name() string { return "LOGIN" }

func (m *login) Start() ([]byte, error) { return nil, nil }

func (m *login) Next(challenge []byte) ([]byte, error) {
	switch m.step {
	case 0:
		m.step++
		return []byte(m.creds.Username), nil
	case 1:
		m.step++
		return []byte(m.creds.Password), nil
	default:
		return nil, fmt.Errorf("auth: unexpected LOGIN challenge at step %d", m.step)
	}
}

// cramMD5 implements CRAM-MD5 (RFC 2195): the response is the username and
// the hex HMAC-MD5 digest of the server challenge keyed with the password.
type cramMD5 struct {
	creds Credentials
}

func (m *cramMD5) Name() string { return "CRAM-MD5" }

func (m *cramMD5) Start() ([]byte, error) { return nil, nil }

func (m *cramMD5) Next(challenge []byte) ([]byte, error) {
	mac := hmac.New(md5.New, []byte(m.creds.Password))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))
	return []byte(m.creds.Username + " " + digest), nil
}
