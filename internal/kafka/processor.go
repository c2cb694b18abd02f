// Package kafka wires the build and mail event consumers to their Kafka topics.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/events/modules/builds"
	"github.com/pages-platform/pages-core/events/modules/mail"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/internal/mailer"
)

// Consumer group suffixes.
const (
	reporterGroup    = "status-reporter"
	broadcasterGroup = "status-broadcaster"
	mailGroup        = "mailer"
)

// Handler processes one message value.
type Handler func(ctx context.Context, msg []byte) error

func hasCredentials(cfg config.KafkaConfig) bool {
	return cfg.APIKey != "" && cfg.APISecret != ""
}

// Dialer returns a dialer using SASL/PLAIN over TLS when credentials are configured.
func Dialer(cfg config.KafkaConfig) *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if hasCredentials(cfg) {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.APIKey, Password: cfg.APISecret}
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return dialer
}

// Transport returns the writer transport matching Dialer, or nil for the default.
func Transport(cfg config.KafkaConfig) kafka.RoundTripper {
	if !hasCredentials(cfg) {
		return nil
	}
	return &kafka.Transport{
		SASL: plain.Mechanism{Username: cfg.APIKey, Password: cfg.APISecret},
		TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// NewBuildProducer creates the build event producer for cfg.
func NewBuildProducer(cfg config.KafkaConfig) *builds.BuildProducer {
	return builds.NewBuildProducer(cfg.Brokers, cfg.BuildTopic, cfg.BuildStatusTopic, Transport(cfg))
}

// NewMailProducer creates the mail queue producer for cfg.
func NewMailProducer(cfg config.KafkaConfig) *mail.MailProducer {
	return mail.NewMailProducer(cfg.Brokers, cfg.MailTopic, Transport(cfg))
}

// waitForBroker dials the first broker, retrying a few times before giving up.
func waitForBroker(ctx context.Context, dialer *kafka.Dialer, brokers []string, logger *zap.SugaredLogger) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	attempt := 0
	connect := func() error {
		attempt++
		logger.Infof("Kafka connection attempt %d/3...", attempt)
		conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return conn.Close()
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 2), ctx)
	return backoff.Retry(connect, policy)
}

// messageReader is the part of *kafka.Reader the consumer loop uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// consumer names a topic subscription and where a new group starts reading it.
type consumer struct {
	topic       string
	groupID     string
	startOffset int64
}

// readBackOff paces retries after failed reads. It never gives up.
func readBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// consume reads from reader until ctx is done, handing every message to handle. Handler errors
// are logged and the message is committed anyway. Read errors are retried after retry's delay.
func consume(ctx context.Context, reader messageReader, topic string, handle Handler, retry backoff.BackOff, logger *zap.SugaredLogger) {
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				wait = time.Second
			}
			logger.Warnw("Kafka read failed", "topic", topic, "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()
		if err := handle(ctx, msg.Value); err != nil {
			logger.Errorw("Failed to process event", "topic", topic, "offset", msg.Offset, "error", err)
		}
	}
}

func readerConfig(cfg config.KafkaConfig, c consumer, dialer *kafka.Dialer) kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     c.groupID,
		Topic:       c.topic,
		StartOffset: c.startOffset,
		MaxBytes:    10e6,
		Dialer:      dialer,
	}
	if c.startOffset == kafka.LastOffset {
		// Per-instance groups are never reused, so let the broker forget them quickly.
		rc.RetentionTime = time.Hour
	}
	return rc
}

// start checks broker connectivity and launches a consumer goroutine for c.
func start(ctx context.Context, cfg config.KafkaConfig, c consumer, handle Handler, logger *zap.Logger) error {
	sugar := logger.Sugar()
	dialer := Dialer(cfg)
	if err := waitForBroker(ctx, dialer, cfg.Brokers, sugar); err != nil {
		return fmt.Errorf("kafka unavailable: %w", err)
	}

	reader := kafka.NewReader(readerConfig(cfg, c, dialer))

	go consume(ctx, reader, c.topic, handle, readBackOff(), sugar)
	sugar.Infow("Kafka consumer started", "topic", c.topic, "group", c.groupID)
	return nil
}

func reporterConsumer(cfg config.KafkaConfig) consumer {
	return consumer{topic: cfg.BuildStatusTopic, groupID: cfg.GroupID + "-" + reporterGroup, startOffset: kafka.FirstOffset}
}

// broadcasterConsumer only sees changes made after the instance starts. Sockets connected now
// have no use for past statuses.
func broadcasterConsumer(cfg config.KafkaConfig) consumer {
	return consumer{
		topic:       cfg.BuildStatusTopic,
		groupID:     fmt.Sprintf("%s-%s-%s", cfg.GroupID, broadcasterGroup, uuid.NewString()),
		startOffset: kafka.LastOffset,
	}
}

func mailConsumer(cfg config.KafkaConfig) consumer {
	return consumer{topic: cfg.MailTopic, groupID: cfg.GroupID + "-" + mailGroup, startOffset: kafka.FirstOffset}
}

// RunBuildStatusReporter reports every build status change to GitHub. All workers share one
// consumer group so each change is reported once.
func RunBuildStatusReporter(ctx context.Context, cfg config.KafkaConfig, loader builds.BuildLoader, reporter builds.StatusReporter, logger *zap.Logger) error {
	return start(ctx, cfg, reporterConsumer(cfg), func(ctx context.Context, msg []byte) error {
		return builds.HandleBuildStatusReport(ctx, msg, loader, reporter)
	}, logger)
}

// RunBuildStatusBroadcaster pushes build status changes to this instance's sockets. Each
// instance uses its own consumer group so every instance sees every change.
func RunBuildStatusBroadcaster(ctx context.Context, cfg config.KafkaConfig, broadcaster builds.Broadcaster, logger *zap.Logger) error {
	return start(ctx, cfg, broadcasterConsumer(cfg), func(ctx context.Context, msg []byte) error {
		return builds.HandleBuildStatusBroadcast(ctx, msg, broadcaster)
	}, logger)
}

// RunMailWorker delivers queued mail jobs with sender.
func RunMailWorker(ctx context.Context, cfg config.KafkaConfig, sender mailer.Sender, logger *zap.Logger) error {
	return start(ctx, cfg, mailConsumer(cfg), func(ctx context.Context, msg []byte) error {
		return mail.HandleMailJobQueued(ctx, msg, sender)
	}, logger)
}
