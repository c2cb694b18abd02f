// Package builds implements the REST handlers for builds and the builder's status callback.
package builds

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/respond"
	"github.com/pages-platform/pages-core/restapi/serializers"
)

const defaultListLimit = 100

// Handlers serves the /build routes.
type Handlers struct {
	builds *services.BuildService
	sites  *services.SiteService
	logger *zap.SugaredLogger
}

// NewHandlers creates the build handlers.
func NewHandlers(builds *services.BuildService, sites *services.SiteService, logger *zap.Logger) *Handlers {
	return &Handlers{builds: builds, sites: sites, logger: logger.Sugar()}
}

// Register mounts the session routes on r.
func (h *Handlers) Register(r fiber.Router) {
	r.Post("/build", h.Rebuild)
	r.Get("/site/:site_id/build", h.ListForSite)
}

// RegisterCallbacks mounts the builder callback, which authenticates with the build token.
func (h *Handlers) RegisterCallbacks(r fiber.Router) {
	r.Post("/build/:id/status/:token", h.Status)
}

type rebuildRequest struct {
	BuildID int64 `json:"buildId"`
	SiteID  int64 `json:"siteId"`
}

// Rebuild restarts an existing build.
func (h *Handlers) Rebuild(c *fiber.Ctx) error {
	var req rebuildRequest
	if err := c.BodyParser(&req); err != nil || req.BuildID <= 0 || req.SiteID <= 0 {
		return respond.BadRequest(c, "buildId and siteId are required")
	}
	user, _ := c.Locals("user").(*model.User)
	if _, err := h.sites.CanAccessSite(c.UserContext(), user, req.SiteID); err != nil {
		return respond.Error(c, h.logger, err)
	}
	build, err := h.builds.Rebuild(c.UserContext(), user, req.SiteID, req.BuildID)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(serializers.SerializeBuild(build))
}

// ListForSite returns a site's recent builds.
func (h *Handlers) ListForSite(c *fiber.Ctx) error {
	siteID, err := respond.ParamID(c, "site_id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	user, _ := c.Locals("user").(*model.User)
	if _, err := h.sites.CanAccessSite(c.UserContext(), user, siteID); err != nil {
		return respond.Error(c, h.logger, err)
	}
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	builds, err := h.builds.ListSiteBuilds(c.UserContext(), siteID, limit)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeBuilds(builds))
}

type statusRequest struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	CommitSha string `json:"commitSha"`
}

// Status applies a builder status callback.
func (h *Handlers) Status(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "Invalid request body")
	}
	build, err := h.builds.UpdateStatus(c.UserContext(), id, c.Params("token"), services.StatusUpdate{
		Status:    model.BuildState(req.Status),
		Message:   req.Message,
		CommitSha: req.CommitSha,
	})
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeBuild(build))
}
