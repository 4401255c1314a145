package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	emailadapter "github.com/example/mail-courier/internal/adapters/email"
	"github.com/example/mail-courier/internal/config"
	"github.com/example/mail-courier/internal/kafka/consumer"
	"github.com/example/mail-courier/internal/kafka/producer"
	kafkapublisher "github.com/example/mail-courier/internal/kafka/publisher"
	"github.com/example/mail-courier/internal/logger"
	"github.com/example/mail-courier/internal/mailer"
	"github.com/example/mail-courier/internal/worker"
	emailvalidator "github.com/example/mail-courier/internal/worker/validator/email"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "email-worker").Logger()

	prod, err := producer.New(cfg.Kafka.Brokers, log.With().Str("component", "kafka-producer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, log.With().Str("component", "kafka-consumer").Logger(), cfg.Retry.CommitOnSuccessOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	pub, err := kafkapublisher.New(prod, cfg.Topics.Status, cfg.Topics.DLQ, log.With().Str("component", "publisher").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}

	sender, err := mailer.NewSender(cfg.SMTP.Backend, mailer.Config{
		Host:          cfg.SMTP.Host,
		Port:          cfg.SMTP.Port,
		Timeout:       time.Duration(cfg.SMTP.TimeoutSeconds) * time.Second,
		HelloName:     cfg.SMTP.HelloName,
		AuthMechanism: cfg.SMTP.AuthMechanism,
		Username:      cfg.SMTP.Username,
		Password:      cfg.SMTP.Password,
	}, log.With().Str("component", "mailer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise mail sender")
	}
	defer func() {
		if err := sender.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close mail sender")
		}
	}()

	adapter, err := emailadapter.NewAdapter(sender, log.With().Str("component", "email-adapter").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise email adapter")
	}

	validator := emailvalidator.New(cfg.Validation, log.With().Str("component", "email-validator").Logger())

	engine, err := worker.NewEngine(worker.Config{
		MsgMaxBytes:       cfg.Validation.MsgMaxBytes,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseBackoff:       time.Duration(cfg.Retry.BaseBackoffSeconds) * time.Second,
		MaxBackoff:        time.Duration(cfg.Retry.MaxBackoffSeconds) * time.Second,
		WorkerConcurrency: cfg.Retry.WorkerConcurrency,
	}, worker.Dependencies{
		Adapter:         adapter,
		Validator:       validator,
		StatusPublisher: pub,
		DLQPublisher:    pub,
		Logger:          log,
		Now:             time.Now,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise worker engine")
	}

	topics := []string{cfg.Topics.Request}
	handler := worker.KafkaHandler(engine, cons)

	errCh := make(chan error, 1)
	go func() {
		if err := cons.Consume(ctx, topics, handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("request_topic", cfg.Topics.Request).Msg("email worker started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("consumer terminated with error")
		}
	}

	engine.Wait()
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("email worker init failed")
}
