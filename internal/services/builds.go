package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/events/modules/builds"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/util"
)

// SiteConfigFile is read from the repository and handed to the builder with each build.
const SiteConfigFile = "pages.json"

// ContentFetcher reads a file from a build's commit.
type ContentFetcher interface {
	FetchContent(ctx context.Context, build *model.Build, path string) (string, error)
}

// BuildService creates builds, queues them for the builder and applies the builder's status
// callbacks.
type BuildService struct {
	store     database.Store
	content   ContentFetcher
	publisher builds.Publisher
	app       config.AppConfig
	siteRoot  string
	logger    *zap.SugaredLogger
}

// NewBuildService creates a BuildService.
func NewBuildService(store database.Store, content ContentFetcher, publisher builds.Publisher, cfg *config.Config, logger *zap.Logger) *BuildService {
	return &BuildService{
		store:     store,
		content:   content,
		publisher: publisher,
		app:       cfg.App,
		siteRoot:  util.SiteRoot(cfg.S3.Bucket, cfg.S3.Region),
		logger:    logger.Sugar(),
	}
}

// CreateBuild records a build of branch and queues it. user may be nil for builds started by
// a webhook from an unknown pusher. sha may be empty.
func (s *BuildService) CreateBuild(ctx context.Context, site *model.Site, user *model.User, branch, sha string) (*model.Build, error) {
	if branch == "" {
		return nil, invalid("A branch is required to start a build")
	}
	if !site.IsActive {
		return nil, invalid("Site is not active")
	}

	build := &model.Build{
		SiteID:             site.ID,
		Branch:             branch,
		State:              model.BuildCreated,
		RequestedCommitSha: sha,
		Token:              uuid.NewString(),
	}
	if user != nil {
		build.UserID = &user.ID
		build.Username = user.Username
	}
	if err := s.store.CreateBuild(ctx, build); err != nil {
		return nil, fmt.Errorf("failed to create build for site@id=%d: %w", site.ID, err)
	}
	s.publishStatus(ctx, build)

	if err := s.enqueue(ctx, site, build); err != nil {
		return build, err
	}
	return build, nil
}

func (s *BuildService) enqueue(ctx context.Context, site *model.Site, build *model.Build) error {
	var siteConfig string
	if build.CommitSha() != "" && s.content != nil {
		cfg, err := s.content.FetchContent(ctx, build, SiteConfigFile)
		if err != nil {
			s.logger.Debugw("No site config for build", "build", build.ID, "error", err)
		} else {
			siteConfig = cfg
		}
	}

	event := builds.NewSiteBuildQueuedEvent(
		builds.BuildRef{
			ID:        build.ID,
			Branch:    build.Branch,
			CommitSha: build.CommitSha(),
			Token:     build.Token,
			StatusURL: fmt.Sprintf("%s/api/v1/build/%d/status/%s", s.app.Hostname, build.ID, build.Token),
		},
		builds.SiteRef{
			ID:            site.ID,
			Owner:         site.Owner,
			Repository:    site.Repository,
			Engine:        site.Engine,
			EngineVersion: site.EngineVersion,
			Config:        site.Config,
			BaseURL:       util.BuildViewLink(build, site, s.siteRoot),
		},
		siteConfig,
	)

	if err := s.publisher.PublishSiteBuild(ctx, event); err != nil {
		build.State = model.BuildError
		build.Error = "Unable to queue build"
		now := time.Now().UTC()
		build.CompletedAt = &now
		if uerr := s.store.UpdateBuild(ctx, build); uerr != nil {
			s.logger.Errorw("Failed to record queue failure", "build", build.ID, "error", uerr)
		}
		s.publishStatus(ctx, build)
		return fmt.Errorf("failed to queue build@id=%d: %w", build.ID, err)
	}

	build.State = model.BuildQueued
	if err := s.store.UpdateBuild(ctx, build); err != nil {
		return fmt.Errorf("failed to update build@id=%d: %w", build.ID, err)
	}
	s.publishStatus(ctx, build)
	return nil
}

// Rebuild starts a new build of the same branch and commit as an existing build.
func (s *BuildService) Rebuild(ctx context.Context, user *model.User, siteID, buildID int64) (*model.Build, error) {
	previous, err := s.store.GetBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if previous.SiteID != siteID {
		return nil, database.ErrNotFound
	}
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	return s.CreateBuild(ctx, site, user, previous.Branch, previous.CommitSha())
}

// StatusUpdate is the builder's report of a build's progress.
type StatusUpdate struct {
	Status    model.BuildState
	Message   string
	CommitSha string
}

// UpdateStatus applies a status callback. The token must match the build's token and the
// transition must be allowed.
func (s *BuildService) UpdateStatus(ctx context.Context, buildID int64, token string, update StatusUpdate) (*model.Build, error) {
	build, err := s.store.GetBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(build.Token), []byte(token)) != 1 {
		return nil, ErrForbidden
	}

	switch update.Status {
	case model.BuildProcessing, model.BuildTasked, model.BuildSuccess, model.BuildError:
	default:
		return nil, invalid("Invalid build status %q", update.Status)
	}
	if !build.State.CanTransitionTo(update.Status) {
		return nil, invalid("Cannot transition build from %s to %s", build.State, update.Status)
	}

	now := time.Now().UTC()
	build.State = update.Status
	if update.CommitSha != "" {
		build.ClonedCommitSha = update.CommitSha
	}
	switch update.Status {
	case model.BuildProcessing, model.BuildTasked:
		if build.StartedAt == nil {
			build.StartedAt = &now
		}
	case model.BuildSuccess, model.BuildError:
		build.CompletedAt = &now
		if update.Status == model.BuildError {
			build.Error = update.Message
		}
	}

	if update.Status == model.BuildSuccess {
		site, err := s.store.GetSite(ctx, build.SiteID)
		if err != nil {
			return nil, err
		}
		build.URL = util.BuildViewLink(build, site, s.siteRoot)
	}

	if err := s.store.UpdateBuild(ctx, build); err != nil {
		return nil, fmt.Errorf("failed to update build@id=%d: %w", build.ID, err)
	}
	s.publishStatus(ctx, build)
	return build, nil
}

// ListSiteBuilds returns the most recent builds of a site.
func (s *BuildService) ListSiteBuilds(ctx context.Context, siteID int64, limit int) ([]model.Build, error) {
	return s.store.ListBuilds(ctx, database.BuildFilter{SiteID: siteID, Limit: limit})
}

func (s *BuildService) publishStatus(ctx context.Context, build *model.Build) {
	if err := s.publisher.PublishBuildStatus(ctx, build); err != nil {
		s.logger.Errorw("Failed to publish build status", "build", build.ID, "state", build.State, "error", err)
	}
}

// BuildForBranchPush creates a build for a push to an active site. Unknown pushers build
// anonymously.
func (s *BuildService) BuildForBranchPush(ctx context.Context, owner, repo, branch, sha, pusher string) (*model.Build, error) {
	site, err := s.store.FindSiteByRepository(ctx, util.NormalizeRepoName(owner), util.NormalizeRepoName(repo))
	if err != nil {
		return nil, err
	}
	if !site.IsActive {
		return nil, nil
	}

	var user *model.User
	if pusher != "" {
		u, err := s.store.FindUserByUsername(ctx, pusher)
		switch {
		case err == nil:
			user = u
		case !errors.Is(err, database.ErrNotFound):
			return nil, err
		}
	}

	build, err := s.CreateBuild(ctx, site, user, branch, sha)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("Build created from push", "build", build.ID, "site", site.ID, "branch", branch)
	return build, nil
}
