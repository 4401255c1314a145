package mailer

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// NewSender constructs the delivery backend selected by name. "smtp" builds
// the session-managing transport; "mock" builds the recording sender used for
// local development. An empty backend defaults to smtp.
func NewSender(backend string, cfg Config, logger zerolog.Logger, opts ...Option) (Sender, error) {
	switch normalizeBackend(backend) {
	case "smtp":
		sender, err := NewTransport(cfg, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("mailer: smtp transport init: %w", err)
		}
		logger.Info().Str("backend", "smtp").Str("host", cfg.Host).Msg("mail sender initialised")
		return sender, nil
	case "mock":
		logger.Info().Str("backend", "mock").Msg("mail sender initialised")
		return NewMockSender(logger), nil
	default:
		return nil, fmt.Errorf("mailer: unsupported backend %q", backend)
	}
}

func normalizeBackend(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "smtp"
	}
	return value
}
