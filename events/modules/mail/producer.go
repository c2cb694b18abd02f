package mail

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/pages-platform/pages-core/internal/mailer"
)

// MailProducer is a mailer.Queue backed by a Kafka topic.
type MailProducer struct {
	Writer *kafka.Writer
}

var _ mailer.Queue = (*MailProducer)(nil)

// NewMailProducer initializes a Kafka writer for mail jobs.
func NewMailProducer(brokers []string, topic string, transport kafka.RoundTripper) *MailProducer {
	return &MailProducer{
		Writer: &kafka.Writer{
			Addr:      kafka.TCP(brokers...),
			Topic:     topic,
			Balancer:  &kafka.LeastBytes{},
			Transport: transport,
		},
	}
}

// Add publishes the job and returns it.
func (p *MailProducer) Add(ctx context.Context, name string, data mailer.JobData) (*mailer.Job, error) {
	now := time.Now().UTC()
	event := MailJobQueuedEvent{
		EventType:     MailJobQueuedType,
		EventID:       uuid.New().String(),
		EventTime:     now,
		SchemaVersion: "v1",
		Job: mailer.Job{
			ID:       uuid.New().String(),
			Name:     name,
			Data:     data,
			QueuedAt: now,
		},
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	if err := p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(name), Value: payload}); err != nil {
		return nil, err
	}
	return &event.Job, nil
}

// Close cleans up the Kafka writer
func (p *MailProducer) Close() error {
	return p.Writer.Close()
}
