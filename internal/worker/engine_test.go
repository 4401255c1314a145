package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/mail-courier/internal/adapters/common"
	"github.com/example/mail-courier/internal/models"
	"github.com/example/mail-courier/internal/worker"
)

type sendResult struct {
	resp *models.ProviderResponse
	err  error
}

type adapterStub struct {
	mu      sync.Mutex
	results []sendResult
	calls   int
}

func (a *adapterStub) Send(context.Context, *common.ValidatedMessage) (*models.ProviderResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.calls
	a.calls++
	if idx >= len(a.results) {
		idx = len(a.results) - 1
	}
	if idx < 0 {
		return &models.ProviderResponse{Status: "ok"}, nil
	}
	return a.results[idx].resp, a.results[idx].err
}

func (a *adapterStub) sendCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type validatorStub struct {
	msg *common.ValidatedMessage
	err error
}

func (v *validatorStub) ParseAndValidate(context.Context, []byte) (*common.ValidatedMessage, error) {
	return v.msg, v.err
}

type statusCollector struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func (s *statusCollector) PublishStatus(_ context.Context, event models.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *statusCollector) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

type dlqCollector struct {
	mu      sync.Mutex
	records []models.DLQRecord
}

func (d *dlqCollector) PublishDLQ(_ context.Context, record models.DLQRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, record)
	return nil
}

func (d *dlqCollector) all() []models.DLQRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.DLQRecord, len(d.records))
	copy(out, d.records)
	return out
}

type commitCounter struct {
	mu    sync.Mutex
	count int
}

func (c *commitCounter) fn(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *commitCounter) commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func testValidated() *common.ValidatedMessage {
	return &common.ValidatedMessage{
		MessageID: "b0c9c2b0-1f3a-4d2d-9e3f-123456789abc",
		TraceID:   "trace-1",
		Request:   &models.EmailRequest{MessageID: "b0c9c2b0-1f3a-4d2d-9e3f-123456789abc"},
	}
}

func newTestEngine(t *testing.T, cfg worker.Config, adapter worker.Adapter, validator worker.Validator) (*worker.Engine, *statusCollector, *dlqCollector) {
	t.Helper()

	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WorkerConcurrency == 0 {
		cfg.WorkerConcurrency = 2
	}

	status := &statusCollector{}
	dlq := &dlqCollector{}
	eng, err := worker.NewEngine(cfg, worker.Dependencies{
		Adapter:         adapter,
		Validator:       validator,
		StatusPublisher: status,
		DLQPublisher:    dlq,
		Logger:          zerolog.Nop(),
		Now:             time.Now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng, status, dlq
}

func newRecord(commit *commitCounter, payload []byte) *worker.Record {
	rec := &worker.Record{
		Topic:     "email.request",
		Partition: 0,
		Offset:    42,
		Key:       []byte("b0c9c2b0-1f3a-4d2d-9e3f-123456789abc"),
		Value:     payload,
		Timestamp: time.Now(),
	}
	rec.SetCommitFn(commit.fn)
	return rec
}

func equalTypes(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEngineSuccessfulDelivery(t *testing.T) {
	adapter := &adapterStub{results: []sendResult{{resp: &models.ProviderResponse{Status: "ok"}}}}
	validator := &validatorStub{msg: testValidated()}
	eng, status, dlq := newTestEngine(t, worker.Config{}, adapter, validator)

	commit := &commitCounter{}
	eng.HandleRecord(context.Background(), newRecord(commit, []byte(`{}`)))
	eng.Wait()

	want := []string{models.StatusEventQueued, models.StatusEventAttempt, models.StatusEventSent}
	if got := status.types(); !equalTypes(got, want) {
		t.Fatalf("unexpected status sequence: %v", got)
	}
	if len(dlq.all()) != 0 {
		t.Fatalf("successful delivery must not reach the DLQ")
	}
	if commit.commits() != 1 {
		t.Fatalf("expected one commit, got %d", commit.commits())
	}
}

func TestEnginePermanentFailureGoesStraightToDLQ(t *testing.T) {
	adapter := &adapterStub{results: []sendResult{{
		resp: &models.ProviderResponse{Status: "rejected"},
		err:  common.WrapPermanent(errors.New("mailbox unavailable")),
	}}}
	validator := &validatorStub{msg: testValidated()}
	eng, status, dlq := newTestEngine(t, worker.Config{}, adapter, validator)

	commit := &commitCounter{}
	eng.HandleRecord(context.Background(), newRecord(commit, []byte(`{}`)))
	eng.Wait()

	if adapter.sendCalls() != 1 {
		t.Fatalf("permanent failures must not be retried, got %d attempts", adapter.sendCalls())
	}
	want := []string{models.StatusEventQueued, models.StatusEventAttempt, models.StatusEventFailed}
	if got := status.types(); !equalTypes(got, want) {
		t.Fatalf("unexpected status sequence: %v", got)
	}
	records := dlq.all()
	if len(records) != 1 || records[0].FailureType != models.FailureTypePermanent {
		t.Fatalf("unexpected DLQ records: %v", records)
	}
	if records[0].TraceID != "trace-1" {
		t.Fatalf("DLQ record must carry the trace id: %+v", records[0])
	}
	if commit.commits() != 1 {
		t.Fatalf("expected one commit, got %d", commit.commits())
	}
}

func TestEngineTransientFailureExhaustsRetries(t *testing.T) {
	adapter := &adapterStub{results: []sendResult{
		{err: common.WrapTransient(errors.New("timeout"))},
	}}
	validator := &validatorStub{msg: testValidated()}
	eng, status, dlq := newTestEngine(t, worker.Config{MaxAttempts: 2}, adapter, validator)

	commit := &commitCounter{}
	eng.HandleRecord(context.Background(), newRecord(commit, []byte(`{}`)))
	eng.Wait()

	if adapter.sendCalls() != 2 {
		t.Fatalf("expected 2 attempts, got %d", adapter.sendCalls())
	}
	want := []string{
		models.StatusEventQueued,
		models.StatusEventAttempt,
		models.StatusEventAttempt,
		models.StatusEventFailed,
	}
	if got := status.types(); !equalTypes(got, want) {
		t.Fatalf("unexpected status sequence: %v", got)
	}
	records := dlq.all()
	if len(records) != 1 || records[0].FailureType != models.FailureTypeTransient {
		t.Fatalf("unexpected DLQ records: %v", records)
	}
	if records[0].Attempts != 2 {
		t.Fatalf("DLQ record must carry the attempt count: %+v", records[0])
	}
}

func TestEngineOversizedPayloadGoesToDLQ(t *testing.T) {
	adapter := &adapterStub{}
	validator := &validatorStub{msg: testValidated()}
	eng, status, dlq := newTestEngine(t, worker.Config{MsgMaxBytes: 4}, adapter, validator)

	commit := &commitCounter{}
	eng.HandleRecord(context.Background(), newRecord(commit, []byte("payload too large")))
	eng.Wait()

	if adapter.sendCalls() != 0 {
		t.Fatalf("oversized payloads must never reach the adapter")
	}
	if got := status.types(); !equalTypes(got, []string{models.StatusEventFailed}) {
		t.Fatalf("unexpected status sequence: %v", got)
	}
	records := dlq.all()
	if len(records) != 1 || records[0].FailureType != models.FailureTypeValidation {
		t.Fatalf("unexpected DLQ records: %v", records)
	}
	if commit.commits() != 1 {
		t.Fatalf("discarded records must still be committed")
	}
}

func TestEngineValidationFailureGoesToDLQ(t *testing.T) {
	adapter := &adapterStub{}
	validator := &validatorStub{err: errors.New("email validator: decode: bad json")}
	eng, _, dlq := newTestEngine(t, worker.Config{}, adapter, validator)

	commit := &commitCounter{}
	eng.HandleRecord(context.Background(), newRecord(commit, []byte("not json")))
	eng.Wait()

	if adapter.sendCalls() != 0 {
		t.Fatalf("invalid payloads must never reach the adapter")
	}
	records := dlq.all()
	if len(records) != 1 || records[0].FailureType != models.FailureTypeValidation {
		t.Fatalf("unexpected DLQ records: %v", records)
	}
	if records[0].MessageID != "b0c9c2b0-1f3a-4d2d-9e3f-123456789abc" {
		t.Fatalf("DLQ record must fall back to the record key: %+v", records[0])
	}
	if commit.commits() != 1 {
		t.Fatalf("invalid records must still be committed")
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	deps := worker.Dependencies{
		Adapter:         &adapterStub{},
		Validator:       &validatorStub{},
		StatusPublisher: &statusCollector{},
		DLQPublisher:    &dlqCollector{},
	}

	if _, err := worker.NewEngine(worker.Config{MaxAttempts: 0, WorkerConcurrency: 1}, deps); err == nil {
		t.Fatalf("expected error for zero max attempts")
	}
	if _, err := worker.NewEngine(worker.Config{MaxAttempts: 1, WorkerConcurrency: 0}, deps); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}

	broken := deps
	broken.Adapter = nil
	if _, err := worker.NewEngine(worker.Config{MaxAttempts: 1, WorkerConcurrency: 1}, broken); err == nil {
		t.Fatalf("expected error for missing adapter")
	}
}
