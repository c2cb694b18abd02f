// Package serializers shapes models for API responses.
package serializers

import (
	"encoding/json"
	"time"

	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/util"
)

// User is the public view of a user. The GitHub token is never included.
type User struct {
	ID                        int64            `json:"id"`
	Username                  string           `json:"username"`
	Email                     string           `json:"email,omitempty"`
	UAAEmail                  string           `json:"uaaEmail,omitempty"`
	HasGithubAuth             bool             `json:"hasGithubAuth"`
	SignedInAt                *time.Time       `json:"signedInAt,omitempty"`
	BuildNotificationSettings map[int64]string `json:"buildNotificationSettings"`
	IsActive                  bool             `json:"isActive"`
	CreatedAt                 time.Time        `json:"createdAt"`
	UpdatedAt                 time.Time        `json:"updatedAt"`
}

// SerializeUser converts a user.
func SerializeUser(u *model.User) User {
	return User{
		ID:                        u.ID,
		Username:                  u.Username,
		Email:                     u.Email,
		UAAEmail:                  u.UAAEmail,
		HasGithubAuth:             u.HasGithubToken(),
		SignedInAt:                u.SignedInAt,
		BuildNotificationSettings: u.BuildNotificationSettings,
		IsActive:                  u.IsActive,
		CreatedAt:                 u.CreatedAt,
		UpdatedAt:                 u.UpdatedAt,
	}
}

// Site adds the computed links to a site and hides the basic auth hash.
type Site struct {
	ID             int64     `json:"id"`
	Owner          string    `json:"owner"`
	Repository     string    `json:"repository"`
	Engine         string    `json:"engine"`
	EngineVersion  string    `json:"engineVersion,omitempty"`
	DefaultBranch  string    `json:"defaultBranch"`
	DemoBranch     string    `json:"demoBranch,omitempty"`
	Domain         string    `json:"domain,omitempty"`
	DemoDomain     string    `json:"demoDomain,omitempty"`
	Config         string    `json:"config,omitempty"`
	PublicPreview  bool      `json:"publicPreview"`
	OrganizationID *int64    `json:"organizationId,omitempty"`
	IsActive       bool      `json:"isActive"`
	BasicAuth      *string   `json:"basicAuthUsername,omitempty"`
	SiteRoot       string    `json:"siteRoot"`
	ViewLink       string    `json:"viewLink"`
	DemoViewLink   string    `json:"demoViewLink,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SerializeSite converts a site. siteRoot is the bucket website root.
func SerializeSite(s *model.Site, siteRoot string) Site {
	out := Site{
		ID:             s.ID,
		Owner:          s.Owner,
		Repository:     s.Repository,
		Engine:         s.Engine,
		EngineVersion:  s.EngineVersion,
		DefaultBranch:  s.DefaultBranch,
		DemoBranch:     s.DemoBranch,
		Domain:         s.Domain,
		DemoDomain:     s.DemoDomain,
		Config:         s.Config,
		PublicPreview:  s.PublicPreview,
		OrganizationID: s.OrganizationID,
		IsActive:       s.IsActive,
		SiteRoot:       siteRoot,
		ViewLink:       util.SiteViewLink(s, siteRoot),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.DemoBranch != "" {
		out.DemoViewLink = util.DemoViewLink(s, siteRoot)
	}
	if s.BasicAuth != nil {
		username := s.BasicAuth.Username
		out.BasicAuth = &username
	}
	return out
}

// SerializeSites converts a list of sites.
func SerializeSites(sites []model.Site, siteRoot string) []Site {
	out := make([]Site, 0, len(sites))
	for i := range sites {
		out = append(out, SerializeSite(&sites[i], siteRoot))
	}
	return out
}

// SerializeBuild returns a copy of b without its callback token.
func SerializeBuild(b *model.Build) model.Build {
	out := *b
	out.Token = ""
	return out
}

// SerializeBuilds converts a list of builds.
func SerializeBuilds(builds []model.Build) []model.Build {
	out := make([]model.Build, 0, len(builds))
	for i := range builds {
		out = append(out, SerializeBuild(&builds[i]))
	}
	return out
}

// Organization adds the days left before a sandbox is cleaned.
type Organization struct {
	model.Organization
	DaysUntilSandboxCleaning *int `json:"daysUntilSandboxCleaning,omitempty"`
}

// SerializeOrganization converts an organization as of now.
func SerializeOrganization(o *model.Organization, now time.Time) Organization {
	out := Organization{Organization: *o}
	if o.IsSandbox && o.SandboxNextCleaningAt != nil {
		days := o.DaysUntilSandboxCleaning(now)
		out.DaysUntilSandboxCleaning = &days
	}
	return out
}

// SerializeOrganizations converts a list of organizations.
func SerializeOrganizations(orgs []model.Organization, now time.Time) []Organization {
	out := make([]Organization, 0, len(orgs))
	for i := range orgs {
		out = append(out, SerializeOrganization(&orgs[i], now))
	}
	return out
}

// OrganizationRole is the public view of a membership.
type OrganizationRole struct {
	OrganizationID int64       `json:"organizationId"`
	Role           *model.Role `json:"role"`
	User           *User       `json:"user,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// SerializeOrganizationRole converts a membership.
func SerializeOrganizationRole(r *model.OrganizationRole) OrganizationRole {
	out := OrganizationRole{
		OrganizationID: r.OrganizationID,
		Role:           r.Role,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.User != nil {
		u := SerializeUser(r.User)
		out.User = &u
	}
	return out
}

// SerializeOrganizationRoles converts a list of memberships.
func SerializeOrganizationRoles(roles []model.OrganizationRole) []OrganizationRole {
	out := make([]OrganizationRole, 0, len(roles))
	for i := range roles {
		out = append(out, SerializeOrganizationRole(&roles[i]))
	}
	return out
}

// Plain re-encodes a serialized value as the maps and slices its JSON form decodes to, keyed
// by JSON field name. GraphQL resolvers return it so embedded structs resolve field by field.
func Plain(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
