// Package admin implements the REST API handlers for platform administrators.
// It covers site, build, domain and organization management and an on-demand sandbox run.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/respond"
	"github.com/pages-platform/pages-core/restapi/serializers"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// SandboxRunner runs one sandbox reminder and cleaning pass.
type SandboxRunner interface {
	Run(ctx context.Context) error
}

// Handlers serves /admin.
type Handlers struct {
	store    database.Store
	orgs     *services.OrganizationService
	sandbox  SandboxRunner
	interval int
	siteRoot string
	logger   *zap.SugaredLogger

	mu             sync.Mutex
	sandboxRunning bool
	sandboxStatus  string
}

// NewHandlers creates the admin handlers.
func NewHandlers(store database.Store, orgs *services.OrganizationService, sandbox SandboxRunner, sandboxIntervalDays int, siteRoot string, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:    store,
		orgs:     orgs,
		sandbox:  sandbox,
		interval: sandboxIntervalDays,
		siteRoot: siteRoot,
		logger:   logger.Sugar(),
	}
}

// Register mounts the routes on r, which must already require an admin session.
func (h *Handlers) Register(r fiber.Router) {
	r.Get("/me", h.Me)
	r.Get("/builds", h.ListBuilds)
	r.Get("/sites", h.ListSites)
	r.Get("/sites/:id", h.GetSite)
	r.Put("/sites/:id", h.UpdateSite)
	r.Delete("/sites/:id", h.DeleteSite)
	r.Post("/domains", h.CreateDomain)
	r.Delete("/domains/:id", h.DeleteDomain)
	r.Get("/organizations", h.ListOrganizations)
	r.Post("/organizations", h.CreateOrganization)
	r.Post("/sandbox/run", h.RunSandbox)
	r.Get("/sandbox/status", h.SandboxStatus)
}

func limit(c *fiber.Ctx) int {
	n := c.QueryInt("limit", defaultLimit)
	if n <= 0 || n > maxLimit {
		return defaultLimit
	}
	return n
}

// Me returns the signed-in administrator.
func (h *Handlers) Me(c *fiber.Ctx) error {
	user, _ := c.Locals("user").(*model.User)
	return c.JSON(serializers.SerializeUser(user))
}

// ListBuilds lists recent builds, optionally for one site or in some states.
func (h *Handlers) ListBuilds(c *fiber.Ctx) error {
	filter := database.BuildFilter{
		SiteID: int64(c.QueryInt("site", 0)),
		Limit:  limit(c),
	}
	if states := c.Query("state"); states != "" {
		for _, s := range strings.Split(states, ",") {
			state := model.BuildState(strings.TrimSpace(s))
			if !state.Valid() {
				return respond.BadRequest(c, fmt.Sprintf("Invalid build state %q", s))
			}
			filter.States = append(filter.States, state)
		}
	}
	builds, err := h.store.ListBuilds(c.UserContext(), filter)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeBuilds(builds))
}

// ListSites lists sites matching the optional search term.
func (h *Handlers) ListSites(c *fiber.Ctx) error {
	filter := database.SiteFilter{Search: c.Query("q"), Limit: limit(c)}
	if org := int64(c.QueryInt("organization", 0)); org > 0 {
		filter.OrganizationID = &org
	}
	sites, err := h.store.ListSites(c.UserContext(), filter)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeSites(sites, h.siteRoot))
}

type siteDetail struct {
	serializers.Site
	Users   []serializers.User `json:"users"`
	Domains []model.Domain     `json:"domains"`
}

// GetSite returns a site with its members and domains.
func (h *Handlers) GetSite(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	ctx := c.UserContext()
	site, err := h.store.GetSite(ctx, id)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	users, err := h.store.ListSiteUsers(ctx, id)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	domains, err := h.store.ListDomainsForSite(ctx, id)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}

	detail := siteDetail{Site: serializers.SerializeSite(site, h.siteRoot), Domains: domains}
	detail.Users = make([]serializers.User, 0, len(users))
	for i := range users {
		detail.Users = append(detail.Users, serializers.SerializeUser(&users[i]))
	}
	return c.JSON(detail)
}

type adminSiteUpdate struct {
	services.UpdateSiteParams
	IsActive       *bool  `json:"isActive"`
	OrganizationID *int64 `json:"organizationId"`
}

// UpdateSite edits any site, including fields members cannot change.
func (h *Handlers) UpdateSite(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	var req adminSiteUpdate
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "Invalid request body")
	}
	ctx := c.UserContext()
	site, err := h.store.GetSite(ctx, id)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	if err := services.ApplySiteUpdate(site, req.UpdateSiteParams); err != nil {
		return respond.Error(c, h.logger, err)
	}
	if req.IsActive != nil {
		site.IsActive = *req.IsActive
	}
	if req.OrganizationID != nil {
		if *req.OrganizationID == 0 {
			site.OrganizationID = nil
		} else {
			if _, err := h.store.GetOrganization(ctx, *req.OrganizationID); err != nil {
				return respond.Error(c, h.logger, err)
			}
			site.OrganizationID = req.OrganizationID
		}
	}
	if err := h.store.UpdateSite(ctx, site); err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeSite(site, h.siteRoot))
}

// DeleteSite removes any site.
func (h *Handlers) DeleteSite(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	if err := h.store.DeleteSite(c.UserContext(), id); err != nil {
		return respond.Error(c, h.logger, err)
	}
	h.logger.Infow("Site deleted by admin", "site", id)
	return c.JSON(fiber.Map{})
}

type domainRequest struct {
	SiteID  int64  `json:"siteId"`
	Names   string `json:"names"`
	Context string `json:"context"`
}

// CreateDomain attaches a custom domain to a site.
func (h *Handlers) CreateDomain(c *fiber.Ctx) error {
	var req domainRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "Invalid request body")
	}
	names := strings.ToLower(strings.TrimSpace(req.Names))
	if req.SiteID <= 0 || names == "" {
		return respond.BadRequest(c, "siteId and names are required")
	}
	if req.Context == "" {
		req.Context = model.DomainContextSite
	}
	if req.Context != model.DomainContextSite && req.Context != model.DomainContextDemo {
		return respond.BadRequest(c, fmt.Sprintf("Invalid domain context %q", req.Context))
	}

	ctx := c.UserContext()
	if _, err := h.store.GetSite(ctx, req.SiteID); err != nil {
		return respond.Error(c, h.logger, err)
	}
	domain := &model.Domain{
		SiteID:      req.SiteID,
		Names:       names,
		Context:     req.Context,
		ServiceName: strings.ReplaceAll(strings.Split(names, ",")[0], ".", "-") + "-ext",
		State:       "pending",
	}
	if err := h.store.CreateDomain(ctx, domain); err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(domain)
}

// DeleteDomain removes a custom domain.
func (h *Handlers) DeleteDomain(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	if err := h.store.DeleteDomain(c.UserContext(), id); err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(fiber.Map{})
}

// ListOrganizations lists every organization.
func (h *Handlers) ListOrganizations(c *fiber.Ctx) error {
	orgs, err := h.store.ListOrganizations(c.UserContext())
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeOrganizations(orgs, time.Now()))
}

type organizationRequest struct {
	Name            string `json:"name"`
	Agency          string `json:"agency"`
	IsSandbox       bool   `json:"isSandbox"`
	ManagerUsername string `json:"managerUsername"`
}

// CreateOrganization creates an organization, optionally with a manager.
func (h *Handlers) CreateOrganization(c *fiber.Ctx) error {
	var req organizationRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "Invalid request body")
	}
	ctx := c.UserContext()

	var manager *model.User
	if req.ManagerUsername != "" {
		u, err := h.store.FindUserByUsername(ctx, req.ManagerUsername)
		if errors.Is(err, database.ErrNotFound) {
			return respond.BadRequest(c, fmt.Sprintf("No user named %s", req.ManagerUsername))
		}
		if err != nil {
			return respond.Error(c, h.logger, err)
		}
		manager = u
	}

	org := &model.Organization{
		Name:      strings.TrimSpace(req.Name),
		Agency:    strings.TrimSpace(req.Agency),
		IsSandbox: req.IsSandbox,
	}
	if err := h.orgs.CreateOrganization(ctx, org, manager, h.interval); err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(serializers.SerializeOrganization(org, time.Now()))
}

// RunSandbox starts a sandbox reminder and cleaning pass in the background.
func (h *Handlers) RunSandbox(c *fiber.Ctx) error {
	h.mu.Lock()
	if h.sandboxRunning {
		status := h.sandboxStatus
		h.mu.Unlock()
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": "Sandbox run already in progress",
			"status":  status,
		})
	}
	h.sandboxRunning = true
	h.sandboxStatus = "processing"
	h.mu.Unlock()

	go h.runSandbox()

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Sandbox run started",
		"status":  "processing",
	})
}

func (h *Handlers) runSandbox() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	err := h.sandbox.Run(ctx)
	status := "Completed at " + time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		h.logger.Errorw("Sandbox run failed", "error", err)
		status = fmt.Sprintf("Failed: %v", err)
	}

	h.mu.Lock()
	h.sandboxRunning = false
	h.sandboxStatus = status
	h.mu.Unlock()
}

// SandboxStatus reports the state of the last sandbox run.
func (h *Handlers) SandboxStatus(c *fiber.Ctx) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return c.JSON(fiber.Map{"running": h.sandboxRunning, "status": h.sandboxStatus})
}
