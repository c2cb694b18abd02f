package builds

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/model"
)

func decodeStatusEvent(msg []byte) (*BuildStatusChangedEvent, error) {
	var event BuildStatusChangedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal BuildStatusChangedEvent: %w", err)
	}
	if event.Build.ID == 0 || event.Build.SiteID == 0 || !event.Build.State.Valid() {
		return nil, fmt.Errorf("invalid event: missing required fields")
	}
	return &event, nil
}

// HandleBuildStatusReport reports the build named in a status event to GitHub. The build is
// reloaded so a status already reported for its current state is not sent twice.
func HandleBuildStatusReport(ctx context.Context, msg []byte, loader BuildLoader, reporter StatusReporter) error {
	event, err := decodeStatusEvent(msg)
	if err != nil {
		return err
	}

	build, err := loader.GetBuild(ctx, event.Build.ID)
	if err != nil {
		return fmt.Errorf("failed to load build@id=%d: %w", event.Build.ID, err)
	}
	if err := reporter.ReportBuildStatus(ctx, build); err != nil {
		return fmt.Errorf("failed to report status for build@id=%d: %w", build.ID, err)
	}
	return nil
}

// HandleBuildStatusBroadcast pushes the build in a status event to socket rooms.
func HandleBuildStatusBroadcast(_ context.Context, msg []byte, broadcaster Broadcaster) error {
	event, err := decodeStatusEvent(msg)
	if err != nil {
		return err
	}
	broadcaster.EmitBuildStatus(&event.Build)
	return nil
}

// LocalPublisher handles build events in-process when no broker is configured. Site builds are
// only logged since no builder is listening.
type LocalPublisher struct {
	Loader      BuildLoader
	Reporter    StatusReporter
	Broadcaster Broadcaster
	Logger      *zap.SugaredLogger
}

// PublishSiteBuild logs the build request.
func (p *LocalPublisher) PublishSiteBuild(_ context.Context, event SiteBuildQueuedEvent) error {
	p.Logger.Infow("Site build queued",
		"build", event.Build.ID,
		"site", event.Site.Owner+"/"+event.Site.Repository,
		"branch", event.Build.Branch)
	return nil
}

// PublishBuildStatus reports and broadcasts the status synchronously. Reporting failures are
// logged, not returned.
func (p *LocalPublisher) PublishBuildStatus(ctx context.Context, build *model.Build) error {
	payload, err := json.Marshal(NewBuildStatusChangedEvent(build))
	if err != nil {
		return err
	}
	if p.Reporter != nil {
		if err := HandleBuildStatusReport(ctx, payload, p.Loader, p.Reporter); err != nil {
			p.Logger.Errorw("Failed to report build status", "build", build.ID, "error", err)
		}
	}
	if p.Broadcaster != nil {
		return HandleBuildStatusBroadcast(ctx, payload, p.Broadcaster)
	}
	return nil
}
