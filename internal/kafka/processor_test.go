package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/internal/config"
)

func TestDialerCredentials(t *testing.T) {
	plainDialer := Dialer(config.KafkaConfig{})
	assert.Nil(t, plainDialer.SASLMechanism)
	assert.Nil(t, plainDialer.TLS)
	assert.Nil(t, Transport(config.KafkaConfig{}))

	secure := config.KafkaConfig{APIKey: "key", APISecret: "secret"}
	d := Dialer(secure)
	assert.NotNil(t, d.SASLMechanism)
	assert.NotNil(t, d.TLS)
	assert.NotNil(t, Transport(secure))
}

func TestProducersUseConfiguredTopics(t *testing.T) {
	cfg := config.Default().Kafka
	cfg.Brokers = []string{"localhost:9092"}

	bp := NewBuildProducer(cfg)
	assert.Equal(t, "site-builds", bp.BuildWriter.Topic)
	assert.Equal(t, "build-status", bp.StatusWriter.Topic)

	mp := NewMailProducer(cfg)
	assert.Equal(t, "mail-jobs", mp.Writer.Topic)
}

func TestConsumerStartOffsets(t *testing.T) {
	cfg := config.Default().Kafka
	cfg.Brokers = []string{"localhost:9092"}

	reporter := reporterConsumer(cfg)
	assert.Equal(t, "build-status", reporter.topic)
	assert.Equal(t, "pages-core-status-reporter", reporter.groupID)
	assert.Equal(t, kafka.FirstOffset, readerConfig(cfg, reporter, nil).StartOffset)

	mailer := mailConsumer(cfg)
	assert.Equal(t, "mail-jobs", mailer.topic)
	assert.Equal(t, kafka.FirstOffset, readerConfig(cfg, mailer, nil).StartOffset)

	first, second := broadcasterConsumer(cfg), broadcasterConsumer(cfg)
	assert.True(t, strings.HasPrefix(first.groupID, "pages-core-status-broadcaster-"))
	assert.NotEqual(t, first.groupID, second.groupID)
	rc := readerConfig(cfg, first, nil)
	assert.Equal(t, kafka.LastOffset, rc.StartOffset)
	assert.Equal(t, time.Hour, rc.RetentionTime)
	assert.Equal(t, "build-status", rc.Topic)
}

type scriptedReader struct {
	mu      sync.Mutex
	results []error
	reads   int
	closed  bool
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.reads < len(r.results) {
		err := r.results[r.reads]
		r.reads++
		r.mu.Unlock()
		return kafka.Message{Value: []byte("job")}, err
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type countingBackOff struct {
	mu     sync.Mutex
	next   int
	resets int
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	return time.Millisecond
}

func (b *countingBackOff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
}

func TestConsumeBacksOffOnReadErrors(t *testing.T) {
	broken := errors.New("broker gone")
	reader := &scriptedReader{results: []error{broken, broken, broken, nil}}
	retry := &countingBackOff{}

	handled := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		consume(ctx, reader, "mail-jobs", func(_ context.Context, msg []byte) error {
			handled <- msg
			return nil
		}, retry, zap.NewNop().Sugar())
	}()

	select {
	case msg := <-handled:
		assert.Equal(t, "job", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message was never handled")
	}
	cancel()
	<-done

	retry.mu.Lock()
	assert.Equal(t, 3, retry.next)
	assert.Equal(t, 1, retry.resets)
	retry.mu.Unlock()
	reader.mu.Lock()
	require.True(t, reader.closed)
	reader.mu.Unlock()
}

func TestReadBackOffNeverStops(t *testing.T) {
	b := readBackOff()
	for i := 0; i < 50; i++ {
		assert.NotEqual(t, time.Duration(-1), b.NextBackOff())
	}
}
