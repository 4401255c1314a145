// Package publisher serialises status events and dead-letter records and
// publishes them to their Kafka topics.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/mail-courier/internal/models"
)

// SyncProducer is the producer surface the publisher depends on.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// Publisher writes status events and DLQ records to their respective topics.
type Publisher struct {
	logger      zerolog.Logger
	producer    SyncProducer
	statusTopic string
	dlqTopic    string
}

// New constructs a publisher over the given producer and topics.
func New(producer SyncProducer, statusTopic, dlqTopic string, logger zerolog.Logger) (*Publisher, error) {
	if producer == nil {
		return nil, errors.New("publisher: producer is required")
	}
	if statusTopic == "" {
		return nil, errors.New("publisher: status topic is required")
	}
	if dlqTopic == "" {
		return nil, errors.New("publisher: dlq topic is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	return &Publisher{
		logger:      logger,
		producer:    producer,
		statusTopic: statusTopic,
		dlqTopic:    dlqTopic,
	}, nil
}

// PublishStatus publishes a status event keyed by message id.
func (p *Publisher) PublishStatus(_ context.Context, event models.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("publisher: marshal status event: %w", err)
	}

	headers := map[string][]byte{"event_type": []byte(event.EventType)}
	if err := p.producer.PublishSync(p.statusTopic, []byte(event.MessageID), headers, payload); err != nil {
		return err
	}

	p.logger.Debug().
		Str("message_id", event.MessageID).
		Str("event_type", event.EventType).
		Msg("status event published")
	return nil
}

// PublishDLQ publishes a dead-letter record keyed by message id.
func (p *Publisher) PublishDLQ(_ context.Context, record models.DLQRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("publisher: marshal dlq record: %w", err)
	}

	headers := map[string][]byte{"failure_type": []byte(record.FailureType)}
	if err := p.producer.PublishSync(p.dlqTopic, []byte(record.MessageID), headers, payload); err != nil {
		return err
	}

	p.logger.Warn().
		Str("message_id", record.MessageID).
		Str("failure_type", record.FailureType).
		Msg("dlq record published")
	return nil
}
