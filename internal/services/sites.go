package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/modules/github"
	"github.com/pages-platform/pages-core/util"
)

// RepoAPI is the subset of the GitHub client used to manage sites.
type RepoAPI interface {
	CheckPermissions(ctx context.Context, token, owner, repo string) (github.Permissions, error)
	SetWebhook(ctx context.Context, token, owner, repo, hookURL, secret string) error
}

// SiteService manages sites and their users.
type SiteService struct {
	store  database.Store
	gh     RepoAPI
	builds *BuildService
	github config.GitHubConfig
	logger *zap.SugaredLogger
}

// NewSiteService creates a SiteService.
func NewSiteService(store database.Store, gh RepoAPI, buildService *BuildService, cfg *config.Config, logger *zap.Logger) *SiteService {
	return &SiteService{
		store:  store,
		gh:     gh,
		builds: buildService,
		github: cfg.GitHub,
		logger: logger.Sugar(),
	}
}

// CreateSiteParams describes a new site.
type CreateSiteParams struct {
	Owner          string `json:"owner"`
	Repository     string `json:"repository"`
	Engine         string `json:"engine"`
	EngineVersion  string `json:"engineVersion"`
	DefaultBranch  string `json:"defaultBranch"`
	OrganizationID *int64 `json:"organizationId"`
}

// UpdateSiteParams holds the editable site fields. Nil fields are left unchanged.
type UpdateSiteParams struct {
	Engine        *string `json:"engine"`
	EngineVersion *string `json:"engineVersion"`
	DefaultBranch *string `json:"defaultBranch"`
	DemoBranch    *string `json:"demoBranch"`
	Domain        *string `json:"domain"`
	DemoDomain    *string `json:"demoDomain"`
	Config        *string `json:"config"`
	PublicPreview *bool   `json:"publicPreview"`
}

// CanAccessSite returns the site if the user is a member of it or of its organization.
func (s *SiteService) CanAccessSite(ctx context.Context, user *model.User, siteID int64) (*model.Site, error) {
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.IsSiteUser(ctx, site.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		return site, nil
	}
	if site.OrganizationID != nil {
		_, err := s.store.GetOrganizationRole(ctx, *site.OrganizationID, user.ID)
		if err == nil {
			return site, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrForbidden
}

// ListSites returns the sites visible to user.
func (s *SiteService) ListSites(ctx context.Context, user *model.User) ([]model.Site, error) {
	return s.store.ListSitesForUser(ctx, user.ID)
}

func (s *SiteService) requirePush(ctx context.Context, user *model.User, owner, repo string) error {
	if !user.HasGithubToken() {
		return invalid("You must connect your GitHub account before adding a site")
	}
	perms, err := s.gh.CheckPermissions(ctx, user.GithubAccessToken, owner, repo)
	if github.IsStatus(err, 404) {
		return invalid("The repository %s/%s does not exist", owner, repo)
	}
	if err != nil {
		return fmt.Errorf("failed to check permissions for %s/%s: %w", owner, repo, err)
	}
	if !perms.Push {
		return invalid("You do not have write access to this repository")
	}
	return nil
}

// CreateSite adds a repository as a site, registers the webhook, makes user a member and
// starts the first build of the default branch.
func (s *SiteService) CreateSite(ctx context.Context, user *model.User, params CreateSiteParams) (*model.Site, error) {
	owner := util.NormalizeRepoName(params.Owner)
	repo := util.NormalizeRepoName(params.Repository)
	if owner == "" || repo == "" {
		return nil, invalid("Owner and repository are required")
	}

	engine := params.Engine
	if engine == "" {
		engine = model.EngineStatic
	}
	if !model.ValidEngine(engine) {
		return nil, invalid("Invalid engine %q", engine)
	}
	if err := util.ValidateEngineVersion(params.EngineVersion); err != nil {
		return nil, invalid("%s", err.Error())
	}

	branch := strings.TrimSpace(params.DefaultBranch)
	if branch == "" {
		branch = model.DefaultBranch
	}

	if params.OrganizationID != nil {
		if _, err := s.store.GetOrganizationRole(ctx, *params.OrganizationID, user.ID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, ErrForbidden
			}
			return nil, err
		}
	}

	_, err := s.store.FindSiteByRepository(ctx, owner, repo)
	if err == nil {
		return nil, invalid("This site has already been added to Pages.")
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	if err := s.requirePush(ctx, user, owner, repo); err != nil {
		return nil, err
	}
	if s.github.WebhookURL != "" {
		if err := s.gh.SetWebhook(ctx, user.GithubAccessToken, owner, repo, s.github.WebhookURL, s.github.WebhookSecret); err != nil {
			return nil, fmt.Errorf("failed to register webhook for %s/%s: %w", owner, repo, err)
		}
	}

	site := &model.Site{
		Owner:          owner,
		Repository:     repo,
		Engine:         engine,
		EngineVersion:  params.EngineVersion,
		DefaultBranch:  branch,
		OrganizationID: params.OrganizationID,
		IsActive:       true,
	}
	if err := s.store.CreateSite(ctx, site); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, invalid("This site has already been added to Pages.")
		}
		return nil, err
	}
	if err := s.store.AddSiteUser(ctx, site.ID, user.ID); err != nil {
		return nil, err
	}

	if _, err := s.builds.CreateBuild(ctx, site, user, site.DefaultBranch, ""); err != nil {
		s.logger.Errorw("Failed to start initial build", "site", site.ID, "error", err)
	}
	return site, nil
}

// UpdateSite changes a site's settings.
func (s *SiteService) UpdateSite(ctx context.Context, user *model.User, siteID int64, params UpdateSiteParams) (*model.Site, error) {
	site, err := s.CanAccessSite(ctx, user, siteID)
	if err != nil {
		return nil, err
	}
	if err := ApplySiteUpdate(site, params); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSite(ctx, site); err != nil {
		return nil, err
	}
	return site, nil
}

// ApplySiteUpdate validates params and copies them onto site.
func ApplySiteUpdate(site *model.Site, params UpdateSiteParams) error {
	if params.Engine != nil {
		if !model.ValidEngine(*params.Engine) {
			return invalid("Invalid engine %q", *params.Engine)
		}
		site.Engine = *params.Engine
	}
	if params.EngineVersion != nil {
		if err := util.ValidateEngineVersion(*params.EngineVersion); err != nil {
			return invalid("%s", err.Error())
		}
		site.EngineVersion = *params.EngineVersion
	}
	if params.DefaultBranch != nil {
		if strings.TrimSpace(*params.DefaultBranch) == "" {
			return invalid("Default branch cannot be empty")
		}
		site.DefaultBranch = strings.TrimSpace(*params.DefaultBranch)
	}
	if params.DemoBranch != nil {
		site.DemoBranch = strings.TrimSpace(*params.DemoBranch)
	}
	if site.DemoBranch != "" && site.DemoBranch == site.DefaultBranch {
		return invalid("Default branch and demo branch cannot be the same")
	}
	if params.Domain != nil {
		site.Domain = strings.TrimSpace(*params.Domain)
	}
	if params.DemoDomain != nil {
		site.DemoDomain = strings.TrimSpace(*params.DemoDomain)
	}
	if params.Config != nil {
		site.Config = *params.Config
	}
	if params.PublicPreview != nil {
		site.PublicPreview = *params.PublicPreview
	}
	return nil
}

// DeleteSite removes a site. The user must have push access to the repository.
func (s *SiteService) DeleteSite(ctx context.Context, user *model.User, siteID int64) error {
	site, err := s.CanAccessSite(ctx, user, siteID)
	if err != nil {
		return err
	}
	if err := s.requirePush(ctx, user, site.Owner, site.Repository); err != nil {
		return err
	}
	return s.store.DeleteSite(ctx, site.ID)
}

// AddUserToSite makes user a member of an existing site after checking push access.
func (s *SiteService) AddUserToSite(ctx context.Context, user *model.User, owner, repo string) (*model.Site, error) {
	owner, repo = util.NormalizeRepoName(owner), util.NormalizeRepoName(repo)
	site, err := s.store.FindSiteByRepository(ctx, owner, repo)
	if errors.Is(err, database.ErrNotFound) {
		return nil, invalid("The site %s/%s does not exist", owner, repo)
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.store.IsSiteUser(ctx, site.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, invalid("You've already added this site to Pages")
	}
	if err := s.requirePush(ctx, user, owner, repo); err != nil {
		return nil, err
	}
	if err := s.store.AddSiteUser(ctx, site.ID, user.ID); err != nil {
		return nil, err
	}
	return site, nil
}

// RemoveUserFromSite removes a member. The last member cannot be removed.
func (s *SiteService) RemoveUserFromSite(ctx context.Context, user *model.User, siteID, userID int64) (*model.Site, error) {
	site, err := s.CanAccessSite(ctx, user, siteID)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListSiteUsers(ctx, site.ID)
	if err != nil {
		return nil, err
	}
	member := false
	for _, u := range users {
		if u.ID == userID {
			member = true
		}
	}
	if !member {
		return nil, database.ErrNotFound
	}
	if len(users) < 2 {
		return nil, invalid("A site must have at least one user")
	}
	if err := s.store.RemoveSiteUser(ctx, site.ID, userID); err != nil {
		return nil, err
	}
	return site, nil
}

// SetBasicAuth protects a site's previews with a username and password.
func (s *SiteService) SetBasicAuth(ctx context.Context, user *model.User, siteID int64, username, password string) (*model.Site, error) {
	site, err := s.CanAccessSite(ctx, user, siteID)
	if err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, invalid("username: Basic auth username is required")
	}
	if err := ValidateBasicAuthPassword(password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	site.BasicAuth = &model.BasicAuth{Username: username, PasswordHash: string(hash)}
	if err := s.store.UpdateSite(ctx, site); err != nil {
		return nil, err
	}
	return site, nil
}

// RemoveBasicAuth clears a site's basic auth credentials.
func (s *SiteService) RemoveBasicAuth(ctx context.Context, user *model.User, siteID int64) (*model.Site, error) {
	site, err := s.CanAccessSite(ctx, user, siteID)
	if err != nil {
		return nil, err
	}
	site.BasicAuth = nil
	if err := s.store.UpdateSite(ctx, site); err != nil {
		return nil, err
	}
	return site, nil
}

// ValidateBasicAuthPassword requires at least 8 characters including an uppercase letter, a
// lowercase letter and a number.
func ValidateBasicAuthPassword(password string) error {
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if len(password) < 8 || !upper || !lower || !digit {
		return invalid("password: At least 8 characters, including an uppercase letter, a lowercase letter and a number")
	}
	return nil
}

// CheckBasicAuth reports whether password matches the site's basic auth credentials.
func CheckBasicAuth(site *model.Site, username, password string) bool {
	if site.BasicAuth == nil || site.BasicAuth.Username != username {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(site.BasicAuth.PasswordHash), []byte(password)) == nil
}
