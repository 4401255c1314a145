package emailvalidator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/mail-courier/internal/config"
	"github.com/example/mail-courier/internal/models"
)

func testConfig() config.ValidationConfig {
	return config.ValidationConfig{
		RecipientsMax:   5,
		SubjectMaxLen:   20,
		BodyMaxBytes:    100,
		MetaMaxEntries:  3,
		MetaMaxKeyLen:   10,
		MetaMaxValueLen: 20,
	}
}

func basePayload() map[string]any {
	return map[string]any{
		"message_id": "b0c9c2b0-1f3a-4d2d-9e3f-123456789abc",
		"channel":    "email",
		"created_at": "2025-03-14T09:30:00Z",
		"from":       []string{"Alice@example.com"},
		"to":         []string{"bob@example.com"},
		"subject":    "hello",
		"body":       map[string]string{"type": "text", "content": "hi"},
	}
}

func marshal(t *testing.T, payload map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestParseAndValidateSuccess(t *testing.T) {
	v := New(testConfig(), zerolog.Nop())

	msg, err := v.ParseAndValidate(context.Background(), marshal(t, basePayload()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.MessageID != "b0c9c2b0-1f3a-4d2d-9e3f-123456789abc" {
		t.Fatalf("unexpected message id: %q", msg.MessageID)
	}
	if msg.Request.From[0] != "alice@example.com" {
		t.Fatalf("from address not normalized: %v", msg.Request.From)
	}
	if len(msg.RawPayload) == 0 {
		t.Fatalf("raw payload must be retained")
	}
}

func TestParseAndValidateRejectsUnknownFields(t *testing.T) {
	payload := basePayload()
	payload["surprise"] = true

	v := New(testConfig(), zerolog.Nop())
	if _, err := v.ParseAndValidate(context.Background(), marshal(t, payload)); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestParseAndValidateRequiresUUIDv4(t *testing.T) {
	payload := basePayload()
	payload["message_id"] = "not-a-uuid"

	v := New(testConfig(), zerolog.Nop())
	if _, err := v.ParseAndValidate(context.Background(), marshal(t, payload)); err == nil {
		t.Fatalf("expected error for invalid message id")
	}
}

func TestParseAndValidateSenderWithoutFrom(t *testing.T) {
	payload := basePayload()
	delete(payload, "from")
	payload["sender"] = "Bounce@example.com"

	v := New(testConfig(), zerolog.Nop())
	msg, err := v.ParseAndValidate(context.Background(), marshal(t, payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Request.Sender != "bounce@example.com" {
		t.Fatalf("sender not normalized: %q", msg.Request.Sender)
	}
}

func TestParseAndValidateRequiresSomeOriginator(t *testing.T) {
	payload := basePayload()
	delete(payload, "from")

	v := New(testConfig(), zerolog.Nop())
	_, err := v.ParseAndValidate(context.Background(), marshal(t, payload))
	if err == nil || !strings.Contains(err.Error(), "sender or from") {
		t.Fatalf("expected originator requirement, got %v", err)
	}
}

func TestParseAndValidateRequiresRecipients(t *testing.T) {
	payload := basePayload()
	delete(payload, "to")

	v := New(testConfig(), zerolog.Nop())
	_, err := v.ParseAndValidate(context.Background(), marshal(t, payload))
	if err == nil || !strings.Contains(err.Error(), "at least one recipient") {
		t.Fatalf("expected recipient requirement, got %v", err)
	}
}

func TestParseAndValidateRecipientsAcrossFields(t *testing.T) {
	payload := basePayload()
	delete(payload, "to")
	payload["bcc"] = []string{"hidden@example.com"}

	v := New(testConfig(), zerolog.Nop())
	if _, err := v.ParseAndValidate(context.Background(), marshal(t, payload)); err != nil {
		t.Fatalf("bcc-only recipients must be accepted: %v", err)
	}
}

func TestParseAndValidateTotalRecipientLimit(t *testing.T) {
	payload := basePayload()
	payload["to"] = []string{"a@example.com", "b@example.com", "c@example.com"}
	payload["cc"] = []string{"d@example.com", "e@example.com", "f@example.com"}

	v := New(testConfig(), zerolog.Nop())
	_, err := v.ParseAndValidate(context.Background(), marshal(t, payload))
	if err == nil || !strings.Contains(err.Error(), "total recipients") {
		t.Fatalf("expected total recipient limit, got %v", err)
	}
}

func TestParseAndValidateBodyDefaultsToText(t *testing.T) {
	payload := basePayload()
	payload["body"] = map[string]string{"content": "hi"}

	v := New(testConfig(), zerolog.Nop())
	msg, err := v.ParseAndValidate(context.Background(), marshal(t, payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Request.Body.Type != models.BodyTypeText {
		t.Fatalf("expected text default, got %q", msg.Request.Body.Type)
	}
}

func TestParseAndValidateRejectsUnknownBodyType(t *testing.T) {
	payload := basePayload()
	payload["body"] = map[string]string{"type": "markdown", "content": "hi"}

	v := New(testConfig(), zerolog.Nop())
	if _, err := v.ParseAndValidate(context.Background(), marshal(t, payload)); err == nil {
		t.Fatalf("expected error for unsupported body type")
	}
}

func TestParseAndValidateSubjectLimit(t *testing.T) {
	payload := basePayload()
	payload["subject"] = strings.Repeat("x", 21)

	v := New(testConfig(), zerolog.Nop())
	if _, err := v.ParseAndValidate(context.Background(), marshal(t, payload)); err == nil {
		t.Fatalf("expected error for oversized subject")
	}
}

func TestParseAndValidateEmptyPayload(t *testing.T) {
	v := New(testConfig(), zerolog.Nop())
	if _, err := v.ParseAndValidate(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
