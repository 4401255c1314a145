package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/mail-courier/internal/models"
)

type producerStub struct {
	err      error
	topic    string
	key      []byte
	headers  map[string][]byte
	payloads [][]byte
}

func (p *producerStub) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.key = key
	p.headers = headers
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, "s", "d", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for nil producer")
	}
	if _, err := New(&producerStub{}, "", "d", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for empty status topic")
	}
	if _, err := New(&producerStub{}, "s", "", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for empty dlq topic")
	}
}

func TestPublishStatus(t *testing.T) {
	stub := &producerStub{}
	pub, err := New(stub, "email.status", "email.dlq", zerolog.Nop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	event := models.StatusEvent{
		MessageID: "msg-1",
		Channel:   models.ChannelEmail,
		EventType: models.StatusEventSent,
		Attempt:   2,
		Timestamp: time.Now().UTC(),
	}
	if err := pub.PublishStatus(context.Background(), event); err != nil {
		t.Fatalf("publish status: %v", err)
	}

	if stub.topic != "email.status" {
		t.Fatalf("unexpected topic: %q", stub.topic)
	}
	if string(stub.key) != "msg-1" {
		t.Fatalf("events must be keyed by message id, got %q", stub.key)
	}
	if string(stub.headers["event_type"]) != models.StatusEventSent {
		t.Fatalf("unexpected headers: %v", stub.headers)
	}

	var decoded models.StatusEvent
	if err := json.Unmarshal(stub.payloads[0], &decoded); err != nil {
		t.Fatalf("payload must be valid JSON: %v", err)
	}
	if decoded.EventType != models.StatusEventSent || decoded.Attempt != 2 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestPublishDLQ(t *testing.T) {
	stub := &producerStub{}
	pub, err := New(stub, "email.status", "email.dlq", zerolog.Nop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	record := models.DLQRecord{
		MessageID:       "msg-2",
		Channel:         models.ChannelEmail,
		OriginalMessage: json.RawMessage(`{"bad":"payload"}`),
		Attempts:        3,
		FailureType:     models.FailureTypeTransient,
		LastError:       "timeout",
		FirstFailedAt:   time.Now().UTC(),
		LastAttemptAt:   time.Now().UTC(),
	}
	if err := pub.PublishDLQ(context.Background(), record); err != nil {
		t.Fatalf("publish dlq: %v", err)
	}

	if stub.topic != "email.dlq" {
		t.Fatalf("unexpected topic: %q", stub.topic)
	}
	if string(stub.headers["failure_type"]) != models.FailureTypeTransient {
		t.Fatalf("unexpected headers: %v", stub.headers)
	}
}

func TestPublishPropagatesProducerError(t *testing.T) {
	boom := errors.New("broker unavailable")
	pub, err := New(&producerStub{err: boom}, "email.status", "email.dlq", zerolog.Nop())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	if err := pub.PublishStatus(context.Background(), models.StatusEvent{MessageID: "m"}); !errors.Is(err, boom) {
		t.Fatalf("expected producer error, got %v", err)
	}
	if err := pub.PublishDLQ(context.Background(), models.DLQRecord{MessageID: "m"}); !errors.Is(err, boom) {
		t.Fatalf("expected producer error, got %v", err)
	}
}
