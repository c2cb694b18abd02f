// Package builds defines the site build and build status events exchanged over Kafka.
package builds

import (
	"context"
	"time"

	"github.com/pages-platform/pages-core/model"
)

// Event types.
const (
	SiteBuildQueuedType    = "site.build.queued"
	BuildStatusChangedType = "build.status.changed"
	SchemaVersion          = "v1"
)

// SiteBuildQueuedEvent asks the builder to build a site branch.
type SiteBuildQueuedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Build BuildRef `json:"build"`
	Site  SiteRef  `json:"site"`

	// Contents of pages.json at the build's commit, when present.
	SiteConfig string `json:"site_config,omitempty"`
}

// BuildRef identifies the build and the callback token the builder reports with.
type BuildRef struct {
	ID        int64  `json:"id"`
	Branch    string `json:"branch"`
	CommitSha string `json:"commit_sha,omitempty"`
	Token     string `json:"token"`
	StatusURL string `json:"status_url"`
}

// SiteRef describes what the builder checks out and how it builds it.
type SiteRef struct {
	ID            int64  `json:"id"`
	Owner         string `json:"owner"`
	Repository    string `json:"repository"`
	Engine        string `json:"engine"`
	EngineVersion string `json:"engine_version,omitempty"`
	Config        string `json:"config,omitempty"`
	BaseURL       string `json:"base_url"`
}

// BuildStatusChangedEvent announces a build state transition.
type BuildStatusChangedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Build model.Build `json:"build"`
}

// Publisher sends build events.
type Publisher interface {
	PublishSiteBuild(ctx context.Context, event SiteBuildQueuedEvent) error
	PublishBuildStatus(ctx context.Context, build *model.Build) error
}

// BuildLoader loads the current state of a build.
type BuildLoader interface {
	GetBuild(ctx context.Context, id int64) (*model.Build, error)
}

// StatusReporter reports a build's state to GitHub.
type StatusReporter interface {
	ReportBuildStatus(ctx context.Context, build *model.Build) error
}

// Broadcaster pushes a build's state to connected clients.
type Broadcaster interface {
	EmitBuildStatus(build *model.Build)
}
