package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/modules/github"
	"github.com/pages-platform/pages-core/util"
)

// GitHubAPI is the subset of the GitHub client needed to report build status.
type GitHubAPI interface {
	CheckPermissions(ctx context.Context, token, owner, repo string) (github.Permissions, error)
	SendCreateGithubStatusRequest(ctx context.Context, token string, opts github.StatusOptions) error
	GetContent(ctx context.Context, token, owner, repo, path, ref string) (string, error)
}

// BuildStatusReporter reports build state to GitHub as commit statuses, acting with the token of
// the first build or site user that has push access.
type BuildStatusReporter struct {
	store    database.Store
	gh       GitHubAPI
	app      config.AppConfig
	siteRoot string
	logger   *zap.SugaredLogger
}

// NewBuildStatusReporter creates a reporter.
func NewBuildStatusReporter(store database.Store, gh GitHubAPI, cfg *config.Config, logger *zap.Logger) *BuildStatusReporter {
	return &BuildStatusReporter{
		store:    store,
		gh:       gh,
		app:      cfg.App,
		siteRoot: util.SiteRoot(cfg.S3.Bucket, cfg.S3.Region),
		logger:   logger.Sugar(),
	}
}

func githubState(state model.BuildState) string {
	switch state {
	case model.BuildCreated, model.BuildQueued, model.BuildTasked, model.BuildProcessing:
		return "pending"
	case model.BuildSuccess:
		return "success"
	case model.BuildError:
		return "error"
	}
	return ""
}

func statusDescription(state string) string {
	switch state {
	case "success":
		return "The build is complete!"
	case "error":
		return "The build has encountered an error."
	}
	return "The build is running."
}

// LoadBuildUserAccessToken returns a GitHub token with push access to the build's repository.
// The build's user is tried first, then the site's users by most recent sign-in. Users whose
// permission check fails are skipped.
func (r *BuildStatusReporter) LoadBuildUserAccessToken(ctx context.Context, build *model.Build) (string, error) {
	site, err := r.store.GetSite(ctx, build.SiteID)
	if err != nil {
		return "", fmt.Errorf("load site for build@id=%d: %w", build.ID, err)
	}
	return r.loadAccessToken(ctx, build, site)
}

func (r *BuildStatusReporter) loadAccessToken(ctx context.Context, build *model.Build, site *model.Site) (string, error) {
	var checked int64

	if build.UserID != nil {
		checked = *build.UserID
		user, err := r.store.GetUser(ctx, *build.UserID)
		switch {
		case err == nil:
			if r.hasPushAccess(ctx, user, site) {
				return user.GithubAccessToken, nil
			}
		case !errors.Is(err, database.ErrNotFound):
			return "", fmt.Errorf("load user for build@id=%d: %w", build.ID, err)
		}
	}

	users, err := r.store.ListSiteUsers(ctx, site.ID)
	if err != nil {
		return "", fmt.Errorf("load users for site@id=%d: %w", site.ID, err)
	}
	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i].SignedInAt, users[j].SignedInAt
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})

	for i := range users {
		if users[i].ID == checked {
			continue
		}
		if r.hasPushAccess(ctx, &users[i], site) {
			return users[i].GithubAccessToken, nil
		}
	}

	return "", fmt.Errorf("Unable to find valid access token to report build@id=%d status", build.ID)
}

func (r *BuildStatusReporter) hasPushAccess(ctx context.Context, user *model.User, site *model.Site) bool {
	if !user.HasGithubToken() {
		return false
	}
	perms, err := r.gh.CheckPermissions(ctx, user.GithubAccessToken, site.Owner, site.Repository)
	if err != nil {
		r.logger.Debugw("Skipping user for build status token", "user", user.ID, "site", site.ID, "error", err)
		return false
	}
	return perms.Push
}

// ReportBuildStatus creates a commit status for the build's current state. A state that has
// already been reported is not reported again.
func (r *BuildStatusReporter) ReportBuildStatus(ctx context.Context, build *model.Build) error {
	state := githubState(build.State)
	if state == "" {
		return fmt.Errorf("unknown state %q for build@id=%d", build.State, build.ID)
	}
	if build.ReportedState == string(build.State) {
		return nil
	}

	sha := build.CommitSha()
	if sha == "" {
		return fmt.Errorf("Build or commit sha undefined. Unable to report status for build@id=%d", build.ID)
	}

	site, err := r.store.GetSite(ctx, build.SiteID)
	if err != nil {
		return fmt.Errorf("load site for build@id=%d: %w", build.ID, err)
	}

	token, err := r.loadAccessToken(ctx, build, site)
	if err != nil {
		return err
	}

	targetURL := util.BuildLogsLink(r.app.Hostname, build)
	if build.State == model.BuildSuccess {
		targetURL = util.BuildViewLink(build, site, r.siteRoot)
	}

	opts := github.StatusOptions{
		Owner:       site.Owner,
		Repository:  site.Repository,
		Sha:         sha,
		State:       state,
		Context:     r.app.StatusContext(),
		Description: statusDescription(state),
		TargetURL:   targetURL,
	}
	if err := r.gh.SendCreateGithubStatusRequest(ctx, token, opts); err != nil {
		return fmt.Errorf("report status for build@id=%d: %w", build.ID, err)
	}

	if err := r.store.MarkBuildReported(ctx, build.ID, build.State); err != nil {
		return fmt.Errorf("record reported state for build@id=%d: %w", build.ID, err)
	}
	build.ReportedState = string(build.State)
	return nil
}

// FetchContent returns the file at path from the build's commit.
func (r *BuildStatusReporter) FetchContent(ctx context.Context, build *model.Build, path string) (string, error) {
	sha := build.CommitSha()
	if sha == "" {
		return "", fmt.Errorf("Build or commit sha undefined. Unable to fetch %s for build@id=%d", path, build.ID)
	}

	site, err := r.store.GetSite(ctx, build.SiteID)
	if err != nil {
		return "", fmt.Errorf("load site for build@id=%d: %w", build.ID, err)
	}

	token, err := r.loadAccessToken(ctx, build, site)
	if err != nil {
		return "", err
	}
	return r.gh.GetContent(ctx, token, site.Owner, site.Repository, path, sha)
}
