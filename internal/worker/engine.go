// Package worker orchestrates delivery of email requests consumed from Kafka:
// validation, retry with backoff, status publication, DLQ handling and offset
// commits.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/mail-courier/internal/adapters/common"
	"github.com/example/mail-courier/internal/models"
)

// Config contains the runtime settings the worker engine relies on to
// orchestrate processing, retries and DLQ handling.
type Config struct {
	MsgMaxBytes       int
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	WorkerConcurrency int
}

// Record represents a Kafka message delivered to the worker. It keeps the
// engine decoupled from the concrete consumer implementation while exposing
// the data the engine requires. The commit closure, when set, acknowledges
// the underlying offset.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	commit func(context.Context) error
}

// SetCommitFn binds the offset commit callback for this record.
func (r *Record) SetCommitFn(fn func(context.Context) error) {
	r.commit = fn
}

// Adapter sends a validated message to the delivery provider and returns a
// normalized response alongside error classification.
type Adapter interface {
	Send(ctx context.Context, msg *common.ValidatedMessage) (*models.ProviderResponse, error)
}

// Validator parses and validates inbound Kafka payloads.
type Validator interface {
	ParseAndValidate(ctx context.Context, payload []byte) (*common.ValidatedMessage, error)
}

// StatusPublisher publishes lifecycle updates for a message.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

// DLQPublisher writes failed messages to the dead-letter topic.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, record models.DLQRecord) error
}

// Dependencies collects the runtime collaborators required by the engine.
type Dependencies struct {
	Adapter         Adapter
	Validator       Validator
	StatusPublisher StatusPublisher
	DLQPublisher    DLQPublisher
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Engine drives validation, retries, backoff, DLQ handling and offset commits
// for inbound Kafka records.
type Engine struct {
	cfg             Config
	adapter         Adapter
	validator       Validator
	statusPublisher StatusPublisher
	dlqPublisher    DLQPublisher
	logger          zerolog.Logger

	semaphore *semaphore.Weighted

	now func() time.Time

	randMu sync.Mutex
	rnd    *rand.Rand

	wg sync.WaitGroup
}

// NewEngine constructs a worker engine. Configuration and dependencies are
// validated so misconfiguration surfaces at startup.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("worker: max attempts must be >= 1")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, errors.New("worker: worker concurrency must be >= 1")
	}
	if cfg.MsgMaxBytes < 0 {
		return nil, errors.New("worker: msg max bytes cannot be negative")
	}
	if deps.Adapter == nil {
		return nil, errors.New("worker: adapter dependency is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("worker: validator dependency is required")
	}
	if deps.StatusPublisher == nil {
		return nil, errors.New("worker: status publisher dependency is required")
	}
	if deps.DLQPublisher == nil {
		return nil, errors.New("worker: DLQ publisher dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "worker_engine").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Engine{
		cfg:             cfg,
		adapter:         deps.Adapter,
		validator:       deps.Validator,
		statusPublisher: deps.StatusPublisher,
		dlqPublisher:    deps.DLQPublisher,
		logger:          logger,
		semaphore:       semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		now:             nowFunc,
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// HandleRecord performs upfront size and payload validation and triggers
// asynchronous processing with retry handling.
func (e *Engine) HandleRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}

	if e.cfg.MsgMaxBytes > 0 && len(record.Value) > e.cfg.MsgMaxBytes {
		err := fmt.Errorf("payload exceeds maximum size: got %d bytes, limit %d bytes", len(record.Value), e.cfg.MsgMaxBytes)
		msg := e.partialMessageFromRecord(record)
		e.logger.Warn().
			Str("message_id", msg.MessageID).
			Err(err).
			Msg("worker: record discarded because it exceeds configured size limit")
		e.failValidation(ctx, record, msg, err)
		return
	}

	validated, err := e.validator.ParseAndValidate(ctx, record.Value)
	if err != nil {
		if validated == nil {
			validated = e.partialMessageFromRecord(record)
		}
		e.fillFromRecord(validated, record)
		e.logger.Warn().
			Str("message_id", validated.MessageID).
			Err(err).
			Msg("worker: validation failed for record")
		e.failValidation(ctx, record, validated, err)
		return
	}

	e.fillFromRecord(validated, record)

	if err := e.semaphore.Acquire(ctx, 1); err != nil {
		e.logger.Error().
			Str("message_id", validated.MessageID).
			Err(err).
			Msg("worker: failed to acquire concurrency semaphore")
		return
	}

	e.wg.Add(1)
	go e.processRecord(ctx, record, validated)
}

// Wait blocks until all in-flight records have finished processing.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) processRecord(ctx context.Context, record *Record, msg *common.ValidatedMessage) {
	defer e.wg.Done()
	defer e.semaphore.Release(1)

	if ctx.Err() != nil {
		e.logger.Warn().
			Str("message_id", msg.MessageID).
			Msg("worker: context cancelled before processing began")
		return
	}

	e.publishStatus(ctx, msg, models.StatusEvent{EventType: models.StatusEventQueued})

	attempt := 1
	firstFailedAt := time.Time{}

	for {
		e.publishStatus(ctx, msg, models.StatusEvent{EventType: models.StatusEventAttempt, Attempt: attempt})
		start := e.now()
		providerResp, err := e.adapter.Send(ctx, msg)
		duration := e.now().Sub(start)

		logEvent := e.logger.With().
			Str("message_id", msg.MessageID).
			Int("attempt", attempt).
			Dur("duration", duration).
			Logger()

		if err == nil {
			logEvent.Info().Msg("worker: message sent successfully")
			e.publishStatus(ctx, msg, models.StatusEvent{
				EventType:        models.StatusEventSent,
				Attempt:          attempt,
				ProviderResponse: providerResp,
			})
			e.commitRecord(ctx, record)
			return
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logEvent.Warn().Err(err).Msg("worker: context cancelled during send; deferring commit for reprocessing")
			return
		}

		logEvent.Warn().Err(err).Msg("worker: adapter returned error")

		now := e.now()
		if firstFailedAt.IsZero() {
			firstFailedAt = now
		}

		if errors.Is(err, common.ErrPermanent) {
			e.publishStatus(ctx, msg, models.StatusEvent{
				EventType:        models.StatusEventFailed,
				Attempt:          attempt,
				ProviderResponse: providerResp,
				Error:            err.Error(),
			})
			e.publishDLQ(ctx, msg, models.FailureTypePermanent, attempt, err, firstFailedAt, now)
			e.commitRecord(ctx, record)
			return
		}

		if attempt >= e.cfg.MaxAttempts {
			e.publishStatus(ctx, msg, models.StatusEvent{
				EventType:        models.StatusEventFailed,
				Attempt:          attempt,
				ProviderResponse: providerResp,
				Error:            err.Error(),
			})
			failureType := models.FailureTypeTransient
			if !errors.Is(err, common.ErrTransient) {
				failureType = models.FailureTypeUnknown
			}
			e.publishDLQ(ctx, msg, failureType, attempt, err, firstFailedAt, now)
			e.commitRecord(ctx, record)
			return
		}

		backoff := e.computeBackoff(attempt)
		if backoff > 0 {
			logEvent.Info().Dur("backoff", backoff).Msg("worker: scheduling retry after transient error")
		}

		if !e.wait(ctx, backoff) {
			e.logger.Warn().
				Str("message_id", msg.MessageID).
				Int("attempt", attempt).
				Msg("worker: context cancelled while waiting for retry; message will be retried on next poll")
			return
		}

		attempt++
	}
}

func (e *Engine) failValidation(ctx context.Context, record *Record, msg *common.ValidatedMessage, cause error) {
	now := e.now()
	e.publishStatus(ctx, msg, models.StatusEvent{
		EventType: models.StatusEventFailed,
		Error:     cause.Error(),
		Timestamp: now,
	})
	e.publishDLQ(ctx, msg, models.FailureTypeValidation, 0, cause, now, now)
	e.commitRecord(ctx, record)
}

func (e *Engine) computeBackoff(attempt int) time.Duration {
	if e.cfg.BaseBackoff <= 0 {
		return 0
	}

	multiplier := math.Pow(2, float64(attempt-1))
	raw := time.Duration(float64(e.cfg.BaseBackoff) * multiplier)
	if e.cfg.MaxBackoff > 0 && raw > e.cfg.MaxBackoff {
		raw = e.cfg.MaxBackoff
	}

	return e.fullJitter(raw)
}

func (e *Engine) fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	e.randMu.Lock()
	defer e.randMu.Unlock()

	n := e.rnd.Int63n(int64(max) + 1)
	return time.Duration(n)
}

func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) publishStatus(ctx context.Context, msg *common.ValidatedMessage, event models.StatusEvent) {
	if msg == nil {
		return
	}
	event.MessageID = msg.MessageID
	event.Channel = models.ChannelEmail
	event.TraceID = msg.TraceID
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if err := e.statusPublisher.PublishStatus(ctx, event); err != nil {
		e.logger.Error().
			Str("message_id", msg.MessageID).
			Str("event", event.EventType).
			Err(err).
			Msg("worker: failed to publish status event")
	}
}

func (e *Engine) publishDLQ(ctx context.Context, msg *common.ValidatedMessage, failureType string, attempts int, cause error, firstFailedAt, lastAttemptAt time.Time) {
	if msg == nil {
		return
	}

	record := models.DLQRecord{
		MessageID:       msg.MessageID,
		Channel:         models.ChannelEmail,
		OriginalMessage: json.RawMessage(msg.RawPayload),
		Attempts:        attempts,
		FailureType:     failureType,
		LastError:       cause.Error(),
		FirstFailedAt:   firstFailedAt,
		LastAttemptAt:   lastAttemptAt,
		TraceID:         msg.TraceID,
	}
	if err := e.dlqPublisher.PublishDLQ(ctx, record); err != nil {
		e.logger.Error().
			Str("message_id", msg.MessageID).
			Err(err).
			Msg("worker: failed to publish DLQ record")
	}
}

func (e *Engine) commitRecord(ctx context.Context, record *Record) {
	if record == nil || record.commit == nil {
		return
	}
	if err := record.commit(ctx); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to commit record offset")
	}
}

func (e *Engine) partialMessageFromRecord(record *Record) *common.ValidatedMessage {
	return &common.ValidatedMessage{
		MessageID:    string(record.Key),
		RawPayload:   cloneBytes(record.Value),
		Key:          cloneBytes(record.Key),
		KafkaHeaders: cloneHeaders(record.Headers),
	}
}

func (e *Engine) fillFromRecord(msg *common.ValidatedMessage, record *Record) {
	if msg.MessageID == "" {
		msg.MessageID = string(record.Key)
	}
	if len(msg.RawPayload) == 0 {
		msg.RawPayload = cloneBytes(record.Value)
	}
	if len(msg.Key) == 0 {
		msg.Key = cloneBytes(record.Key)
	}
	if len(msg.KafkaHeaders) == 0 && len(record.Headers) > 0 {
		msg.KafkaHeaders = cloneHeaders(record.Headers)
	}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}

func cloneHeaders(headers map[string][]byte) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	clone := make(map[string][]byte, len(headers))
	for k, v := range headers {
		clone[k] = cloneBytes(v)
	}
	return clone
}
