package model

import "time"

// Supported site engines.
const (
	EngineJekyll = "jekyll"
	EngineHugo   = "hugo"
	EngineStatic = "static"
	EngineNode   = "node.js"
)

// DefaultBranch is used when a repository reports none.
const DefaultBranch = "main"

// ValidEngine reports whether engine is a supported site engine.
func ValidEngine(engine string) bool {
	switch engine {
	case EngineJekyll, EngineHugo, EngineStatic, EngineNode:
		return true
	}
	return false
}

// BasicAuth protects preview builds of a site. Only the bcrypt hash is stored.
type BasicAuth struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

// Site is a GitHub repository published by the platform
type Site struct {
	ID             int64      `json:"id"`
	Owner          string     `json:"owner"`
	Repository     string     `json:"repository"`
	Engine         string     `json:"engine"`
	EngineVersion  string     `json:"engineVersion,omitempty"`
	DefaultBranch  string     `json:"defaultBranch"`
	DemoBranch     string     `json:"demoBranch,omitempty"`
	Domain         string     `json:"domain,omitempty"`
	DemoDomain     string     `json:"demoDomain,omitempty"`
	Config         string     `json:"config,omitempty"`
	PublicPreview  bool       `json:"publicPreview"`
	OrganizationID *int64     `json:"organizationId,omitempty"`
	IsActive       bool       `json:"isActive"`
	BasicAuth      *BasicAuth `json:"basicAuth,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// FullName returns owner/repository.
func (s *Site) FullName() string {
	return s.Owner + "/" + s.Repository
}

// Domain contexts.
const (
	DomainContextSite = "site"
	DomainContextDemo = "demo"
)

// Domain is a custom domain attached to a site by an administrator.
type Domain struct {
	ID          int64     `json:"id"`
	SiteID      int64     `json:"siteId"`
	Names       string    `json:"names"`
	Context     string    `json:"context"`
	ServiceName string    `json:"serviceName,omitempty"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
