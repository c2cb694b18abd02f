package builds

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/model"
)

type stubLoader map[int64]*model.Build

func (s stubLoader) GetBuild(_ context.Context, id int64) (*model.Build, error) {
	if b, ok := s[id]; ok {
		return b, nil
	}
	return nil, errors.New("not found")
}

type stubReporter struct {
	reported []*model.Build
	err      error
}

func (s *stubReporter) ReportBuildStatus(_ context.Context, b *model.Build) error {
	s.reported = append(s.reported, b)
	return s.err
}

type stubBroadcaster struct{ emitted []*model.Build }

func (s *stubBroadcaster) EmitBuildStatus(b *model.Build) { s.emitted = append(s.emitted, b) }

func statusPayload(t *testing.T, b *model.Build) []byte {
	t.Helper()
	payload, err := json.Marshal(NewBuildStatusChangedEvent(b))
	require.NoError(t, err)
	return payload
}

func TestStatusEventDropsToken(t *testing.T) {
	b := &model.Build{ID: 1, SiteID: 2, State: model.BuildQueued, Token: "secret"}
	event := NewBuildStatusChangedEvent(b)

	assert.Equal(t, BuildStatusChangedType, event.EventType)
	assert.NotEmpty(t, event.EventID)
	assert.Empty(t, event.Build.Token)
	assert.Equal(t, "secret", b.Token)
}

func TestHandleBuildStatusReportReloadsBuild(t *testing.T) {
	stored := &model.Build{ID: 1, SiteID: 2, State: model.BuildSuccess, ReportedState: "processing"}
	reporter := &stubReporter{}

	err := HandleBuildStatusReport(context.Background(),
		statusPayload(t, &model.Build{ID: 1, SiteID: 2, State: model.BuildProcessing}),
		stubLoader{1: stored}, reporter)
	require.NoError(t, err)
	require.Len(t, reporter.reported, 1)
	assert.Same(t, stored, reporter.reported[0])
}

func TestHandleBuildStatusReportErrors(t *testing.T) {
	ctx := context.Background()

	err := HandleBuildStatusReport(ctx, []byte("{not json"), stubLoader{}, &stubReporter{})
	assert.ErrorContains(t, err, "unmarshal")

	err = HandleBuildStatusReport(ctx, statusPayload(t, &model.Build{ID: 1, SiteID: 2, State: "bogus"}), stubLoader{}, &stubReporter{})
	assert.ErrorContains(t, err, "missing required fields")

	err = HandleBuildStatusReport(ctx, statusPayload(t, &model.Build{ID: 9, SiteID: 2, State: model.BuildError}), stubLoader{}, &stubReporter{})
	assert.ErrorContains(t, err, "build@id=9")
}

func TestLocalPublisher(t *testing.T) {
	stored := &model.Build{ID: 1, SiteID: 2, State: model.BuildError}
	reporter := &stubReporter{err: errors.New("no token")}
	broadcaster := &stubBroadcaster{}
	p := &LocalPublisher{Loader: stubLoader{1: stored}, Reporter: reporter, Broadcaster: broadcaster, Logger: zap.NewNop().Sugar()}

	require.NoError(t, p.PublishBuildStatus(context.Background(), stored))
	assert.Len(t, reporter.reported, 1)
	require.Len(t, broadcaster.emitted, 1)
	assert.Equal(t, model.BuildError, broadcaster.emitted[0].State)

	require.NoError(t, p.PublishSiteBuild(context.Background(),
		NewSiteBuildQueuedEvent(BuildRef{ID: 1, Branch: "main"}, SiteRef{ID: 2, Owner: "o", Repository: "r"}, "")))
}
