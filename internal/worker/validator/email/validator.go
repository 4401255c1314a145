// Package emailvalidator parses and validates email request payloads consumed
// from Kafka.
package emailvalidator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/example/mail-courier/internal/adapters/common"
	"github.com/example/mail-courier/internal/config"
	"github.com/example/mail-courier/internal/models"
	"github.com/example/mail-courier/internal/util"
)

// Validator implements worker.Validator for email requests. It parses JSON
// payloads, enforces validation rules and returns a populated
// ValidatedMessage.
type Validator struct {
	logger zerolog.Logger
	cfg    config.ValidationConfig
}

// New constructs a Validator using the supplied validation configuration.
func New(cfg config.ValidationConfig, logger zerolog.Logger) *Validator {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Validator{
		logger: logger,
		cfg:    cfg,
	}
}

// ParseAndValidate decodes the payload and validates the request. The raw
// payload is retained on the returned message for DLQ publication.
func (v *Validator) ParseAndValidate(ctx context.Context, payload []byte) (*common.ValidatedMessage, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(payload) == 0 {
		return nil, errors.New("email validator: payload is empty")
	}

	var req models.EmailRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("email validator: decode: %w", err)
	}

	if err := v.applyDefaultsAndValidate(&req); err != nil {
		return nil, err
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)

	return &common.ValidatedMessage{
		MessageID:  req.MessageID,
		TraceID:    req.TraceID,
		TenantID:   req.TenantID,
		CreatedAt:  req.CreatedAt,
		Request:    &req,
		RawPayload: raw,
	}, nil
}

func (v *Validator) applyDefaultsAndValidate(req *models.EmailRequest) error {
	req.Channel = strings.TrimSpace(strings.ToLower(req.Channel))
	if req.Channel == "" {
		req.Channel = models.ChannelEmail
	}
	if req.Channel != models.ChannelEmail {
		return fmt.Errorf("email validator: unsupported channel %q", req.Channel)
	}

	if _, err := util.ParseUUIDv4(req.MessageID); err != nil {
		return fmt.Errorf("email validator: message_id: %w", err)
	}

	req.MessageID = strings.TrimSpace(req.MessageID)
	req.TraceID = strings.TrimSpace(req.TraceID)
	req.TenantID = strings.TrimSpace(req.TenantID)

	if req.CreatedAt.IsZero() {
		return errors.New("email validator: created_at is required")
	}
	req.CreatedAt = req.CreatedAt.UTC()

	var err error
	if req.Sender != "" {
		req.Sender, err = util.NormalizeEmail(req.Sender)
		if err != nil {
			return fmt.Errorf("email validator: sender: %w", err)
		}
	}
	req.From, err = util.NormalizeEmails(req.From, 0, v.cfg.RecipientsMax)
	if err != nil {
		return fmt.Errorf("email validator: from: %w", err)
	}
	if req.Sender == "" && len(req.From) == 0 {
		return errors.New("email validator: sender or from is required")
	}

	req.To, err = util.NormalizeEmails(req.To, 0, v.cfg.RecipientsMax)
	if err != nil {
		return fmt.Errorf("email validator: to: %w", err)
	}
	req.CC, err = util.NormalizeEmails(req.CC, 0, v.cfg.RecipientsMax)
	if err != nil {
		return fmt.Errorf("email validator: cc: %w", err)
	}
	req.BCC, err = util.NormalizeEmails(req.BCC, 0, v.cfg.RecipientsMax)
	if err != nil {
		return fmt.Errorf("email validator: bcc: %w", err)
	}
	total := len(req.To) + len(req.CC) + len(req.BCC)
	if total == 0 {
		return errors.New("email validator: at least one recipient is required across to, cc and bcc")
	}
	if v.cfg.RecipientsMax > 0 && total > v.cfg.RecipientsMax {
		return fmt.Errorf("email validator: total recipients %d exceed limit %d", total, v.cfg.RecipientsMax)
	}

	if v.cfg.SubjectMaxLen > 0 && utf8.RuneCountInString(req.Subject) > v.cfg.SubjectMaxLen {
		return fmt.Errorf("email validator: subject exceeds max length %d", v.cfg.SubjectMaxLen)
	}

	req.Body.Type = strings.ToLower(strings.TrimSpace(req.Body.Type))
	if req.Body.Type == "" {
		req.Body.Type = models.BodyTypeText
	}
	if req.Body.Type != models.BodyTypeText && req.Body.Type != models.BodyTypeHTML {
		return fmt.Errorf("email validator: unsupported body type %q", req.Body.Type)
	}

	if v.cfg.BodyMaxBytes > 0 && len(req.Body.Content) > v.cfg.BodyMaxBytes {
		return fmt.Errorf("email validator: body exceeds max bytes %d", v.cfg.BodyMaxBytes)
	}

	meta, err := util.ValidateMetadata(req.Meta, v.cfg.MetaMaxEntries, v.cfg.MetaMaxKeyLen, v.cfg.MetaMaxValueLen)
	if err != nil {
		return fmt.Errorf("email validator: metadata: %w", err)
	}
	req.Meta = meta

	return nil
}
