package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("EMAIL_CONSUMER_GROUP", "email-consumer")
	t.Setenv("KAFKA_EMAIL_REQUEST_TOPIC", "email.request")
	t.Setenv("KAFKA_EMAIL_STATUS_TOPIC", "email.status")
	t.Setenv("KAFKA_EMAIL_DLQ_TOPIC", "email.dlq")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "587")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Env != "development" || cfg.App.LogLevel != "info" {
		t.Fatalf("unexpected app defaults: %+v", cfg.App)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Retry.MaxAttempts != 3 || !cfg.Retry.CommitOnSuccessOnly {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.SMTP.Backend != "smtp" || cfg.SMTP.HelloName != "localhost" || cfg.SMTP.TimeoutSeconds != 30 {
		t.Fatalf("unexpected smtp defaults: %+v", cfg.SMTP)
	}
	if cfg.SMTP.Host != "smtp.example.com" || cfg.SMTP.Port != 587 {
		t.Fatalf("unexpected smtp endpoint: %+v", cfg.SMTP)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SMTP_HOST", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for missing SMTP_HOST")
	}
	if !strings.Contains(err.Error(), "SMTP_HOST") {
		t.Fatalf("error must name the missing key: %v", err)
	}
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SMTP_PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed SMTP_PORT")
	}
}

func TestLoadAuthRequiresUsername(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SMTP_AUTH_MECHANISM", "PLAIN")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "SMTP_USER") {
		t.Fatalf("expected SMTP_USER requirement, got %v", err)
	}

	t.Setenv("SMTP_USER", "user")
	t.Setenv("SMTP_PASS", "pass")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with credentials: %v", err)
	}
	if cfg.SMTP.AuthMechanism != "PLAIN" || cfg.SMTP.Username != "user" {
		t.Fatalf("unexpected auth settings: %+v", cfg.SMTP)
	}
}
