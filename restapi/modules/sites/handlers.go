// Package sites implements the REST handlers for sites, their users and basic auth.
package sites

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/respond"
	"github.com/pages-platform/pages-core/restapi/serializers"
)

// Handlers serves the /site routes.
type Handlers struct {
	sites    *services.SiteService
	siteRoot string
	logger   *zap.SugaredLogger
}

// NewHandlers creates the site handlers.
func NewHandlers(sites *services.SiteService, siteRoot string, logger *zap.Logger) *Handlers {
	return &Handlers{sites: sites, siteRoot: siteRoot, logger: logger.Sugar()}
}

// Register mounts the routes on r. Callers must have loaded the session user.
func (h *Handlers) Register(r fiber.Router) {
	r.Get("/site", h.List)
	r.Post("/site", h.Create)
	r.Post("/site/user", h.AddUser)
	r.Get("/site/:id", h.Get)
	r.Put("/site/:id", h.Update)
	r.Delete("/site/:id", h.Delete)
	r.Delete("/site/:site_id/user/:user_id", h.RemoveUser)
	r.Post("/site/:site_id/basic-auth", h.SetBasicAuth)
	r.Delete("/site/:site_id/basic-auth", h.RemoveBasicAuth)
}

func currentUser(c *fiber.Ctx) *model.User {
	user, _ := c.Locals("user").(*model.User)
	return user
}

// List returns the sites the user can see.
func (h *Handlers) List(c *fiber.Ctx) error {
	sites, err := h.sites.ListSites(c.UserContext(), currentUser(c))
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeSites(sites, h.siteRoot))
}

// Create adds a repository as a site.
func (h *Handlers) Create(c *fiber.Ctx) error {
	var params services.CreateSiteParams
	if err := c.BodyParser(&params); err != nil {
		return respond.BadRequest(c, "Invalid request body")
	}
	site, err := h.sites.CreateSite(c.UserContext(), currentUser(c), params)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(serializers.SerializeSite(site, h.siteRoot))
}

// Get returns one site.
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	site, err := h.sites.CanAccessSite(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeSite(site, h.siteRoot))
}

// Update changes a site's settings.
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	var params services.UpdateSiteParams
	if err := c.BodyParser(&params); err != nil {
		return respond.BadRequest(c, "Invalid request body")
	}
	site, err := h.sites.UpdateSite(c.UserContext(), currentUser(c), id, params)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeSite(site, h.siteRoot))
}

// Delete removes a site.
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	if err := h.sites.DeleteSite(c.UserContext(), currentUser(c), id); err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(fiber.Map{})
}

type addUserRequest struct {
	Owner      string `json:"owner"`
	Repository string `json:"repository"`
}

// AddUser joins the user to an existing site.
func (h *Handlers) AddUser(c *fiber.Ctx) error {
	var req addUserRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "Invalid request body")
	}
	site, err := h.sites.AddUserToSite(c.UserContext(), currentUser(c), req.Owner, req.Repository)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeSite(site, h.siteRoot))
}

// RemoveUser removes a member from a site.
func (h *Handlers) RemoveUser(c *fiber.Ctx) error {
	siteID, err := respond.ParamID(c, "site_id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	userID, err := respond.ParamID(c, "user_id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	site, err := h.sites.RemoveUserFromSite(c.UserContext(), currentUser(c), siteID, userID)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeSite(site, h.siteRoot))
}

type basicAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SetBasicAuth protects the site's previews.
func (h *Handlers) SetBasicAuth(c *fiber.Ctx) error {
	siteID, err := respond.ParamID(c, "site_id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	var req basicAuthRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "Invalid request body")
	}
	site, err := h.sites.SetBasicAuth(c.UserContext(), currentUser(c), siteID, req.Username, req.Password)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeSite(site, h.siteRoot))
}

// RemoveBasicAuth clears the site's basic auth.
func (h *Handlers) RemoveBasicAuth(c *fiber.Ctx) error {
	siteID, err := respond.ParamID(c, "site_id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	site, err := h.sites.RemoveBasicAuth(c.UserContext(), currentUser(c), siteID)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeSite(site, h.siteRoot))
}
