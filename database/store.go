// Package database - Handles all persistence for users, sites, builds and organizations
package database

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/model"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a unique constraint would be violated.
var ErrConflict = errors.New("record already exists")

// SiteFilter narrows ListSites.
type SiteFilter struct {
	Search         string
	OrganizationID *int64
	Limit          int
}

// BuildFilter narrows ListBuilds. Zero values match everything.
type BuildFilter struct {
	SiteID int64
	UserID int64
	Branch string
	States []model.BuildState
	Limit  int
}

// Store is the persistence contract implemented by the Arango and SQLite backends.
type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)
	FindUserByUAAEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	ListSiteUsers(ctx context.Context, siteID int64) ([]model.User, error)

	CreateSite(ctx context.Context, site *model.Site) error
	GetSite(ctx context.Context, id int64) (*model.Site, error)
	FindSiteByRepository(ctx context.Context, owner, repository string) (*model.Site, error)
	UpdateSite(ctx context.Context, site *model.Site) error
	DeleteSite(ctx context.Context, id int64) error
	ListSites(ctx context.Context, filter SiteFilter) ([]model.Site, error)
	ListSitesForUser(ctx context.Context, userID int64) ([]model.Site, error)
	AddSiteUser(ctx context.Context, siteID, userID int64) error
	RemoveSiteUser(ctx context.Context, siteID, userID int64) error
	IsSiteUser(ctx context.Context, siteID, userID int64) (bool, error)

	CreateBuild(ctx context.Context, build *model.Build) error
	GetBuild(ctx context.Context, id int64) (*model.Build, error)
	UpdateBuild(ctx context.Context, build *model.Build) error
	MarkBuildReported(ctx context.Context, id int64, state model.BuildState) error
	ListBuilds(ctx context.Context, filter BuildFilter) ([]model.Build, error)

	CreateOrganization(ctx context.Context, org *model.Organization) error
	GetOrganization(ctx context.Context, id int64) (*model.Organization, error)
	UpdateOrganization(ctx context.Context, org *model.Organization) error
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID int64) ([]model.Organization, error)
	ListSandboxOrganizations(ctx context.Context) ([]model.Organization, error)
	ListOrganizationMembers(ctx context.Context, orgID int64) ([]model.OrganizationRole, error)
	GetOrganizationRole(ctx context.Context, orgID, userID int64) (*model.OrganizationRole, error)
	UpsertOrganizationRole(ctx context.Context, role *model.OrganizationRole) error

	CreateRole(ctx context.Context, role *model.Role) error
	GetRole(ctx context.Context, id int64) (*model.Role, error)
	FindRoleByName(ctx context.Context, name string) (*model.Role, error)

	CreateDomain(ctx context.Context, domain *model.Domain) error
	GetDomain(ctx context.Context, id int64) (*model.Domain, error)
	DeleteDomain(ctx context.Context, id int64) error
	ListDomainsForSite(ctx context.Context, siteID int64) ([]model.Domain, error)

	Close() error
}

// Open connects the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "arango":
		return NewArangoStore(ctx, cfg, logger)
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// EnsureDefaultRoles seeds the user and manager roles.
func EnsureDefaultRoles(ctx context.Context, store Store) error {
	for _, name := range []string{model.RoleUser, model.RoleManager} {
		_, err := store.FindRoleByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to look up role %s: %w", name, err)
		}
		if err := store.CreateRole(ctx, &model.Role{Name: name}); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("failed to create role %s: %w", name, err)
		}
	}
	return nil
}
