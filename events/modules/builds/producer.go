package builds

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/pages-platform/pages-core/model"
)

// BuildProducer writes build events to Kafka.
type BuildProducer struct {
	BuildWriter  *kafka.Writer
	StatusWriter *kafka.Writer
}

// NewBuildProducer creates writers for the site build and build status topics. transport may
// be nil for an unauthenticated cluster.
func NewBuildProducer(brokers []string, buildTopic, statusTopic string, transport kafka.RoundTripper) *BuildProducer {
	writer := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:      kafka.TCP(brokers...),
			Topic:     topic,
			Balancer:  &kafka.LeastBytes{},
			Transport: transport,
		}
	}
	return &BuildProducer{
		BuildWriter:  writer(buildTopic),
		StatusWriter: writer(statusTopic),
	}
}

// NewSiteBuildQueuedEvent fills in the event envelope.
func NewSiteBuildQueuedEvent(build BuildRef, site SiteRef, siteConfig string) SiteBuildQueuedEvent {
	return SiteBuildQueuedEvent{
		EventType:     SiteBuildQueuedType,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Build:         build,
		Site:          site,
		SiteConfig:    siteConfig,
	}
}

// NewBuildStatusChangedEvent fills in the event envelope. The build token is not carried.
func NewBuildStatusChangedEvent(build *model.Build) BuildStatusChangedEvent {
	b := *build
	b.Token = ""
	return BuildStatusChangedEvent{
		EventType:     BuildStatusChangedType,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Build:         b,
	}
}

// PublishSiteBuild sends a build request keyed by site so a site's builds stay ordered.
func (p *BuildProducer) PublishSiteBuild(ctx context.Context, event SiteBuildQueuedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.BuildWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.Site.ID, 10)),
		Value: payload,
	})
}

// PublishBuildStatus sends a status change keyed by build.
func (p *BuildProducer) PublishBuildStatus(ctx context.Context, build *model.Build) error {
	payload, err := json.Marshal(NewBuildStatusChangedEvent(build))
	if err != nil {
		return err
	}
	return p.StatusWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(build.ID, 10)),
		Value: payload,
	})
}

// Close cleans up the Kafka writers
func (p *BuildProducer) Close() error {
	err := p.BuildWriter.Close()
	if serr := p.StatusWriter.Close(); err == nil {
		err = serr
	}
	return err
}
