// Package organizations implements the REST handlers for organizations and invitations.
package organizations

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/respond"
	"github.com/pages-platform/pages-core/restapi/serializers"
)

// Handlers serves the /organization routes.
type Handlers struct {
	orgs   *services.OrganizationService
	logger *zap.SugaredLogger
}

// NewHandlers creates the organization handlers.
func NewHandlers(orgs *services.OrganizationService, logger *zap.Logger) *Handlers {
	return &Handlers{orgs: orgs, logger: logger.Sugar()}
}

// Register mounts the routes on r.
func (h *Handlers) Register(r fiber.Router) {
	r.Get("/organization", h.List)
	r.Get("/organization/:id", h.Get)
	r.Get("/organization/:id/members", h.Members)
	r.Post("/organization/:id/invite", h.Invite)
}

func currentUser(c *fiber.Ctx) *model.User {
	user, _ := c.Locals("user").(*model.User)
	return user
}

// List returns the user's organizations.
func (h *Handlers) List(c *fiber.Ctx) error {
	orgs, err := h.orgs.FindAllForUser(c.UserContext(), currentUser(c))
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeOrganizations(orgs, time.Now()))
}

// Get returns an organization the user manages.
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	org, err := h.orgs.FindOneForUser(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeOrganization(org, time.Now()))
}

// Members lists an organization's members.
func (h *Handlers) Members(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	members, err := h.orgs.Members(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(serializers.SerializeOrganizationRoles(members))
}

type inviteRequest struct {
	RoleID         int64  `json:"roleId"`
	UAAEmail       string `json:"uaaEmail"`
	GithubUsername string `json:"githubUsername"`
}

type inviteResponse struct {
	Member serializers.OrganizationRole `json:"member"`
	Invite services.Invite              `json:"invite"`
}

// Invite adds a member to the organization, inviting them to UAA if needed.
func (h *Handlers) Invite(c *fiber.Ctx) error {
	id, err := respond.ParamID(c, "id")
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	var req inviteRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "Invalid request body")
	}
	result, err := h.orgs.Invite(c.UserContext(), currentUser(c), id, req.RoleID, req.UAAEmail, req.GithubUsername)
	if err != nil {
		return respond.Error(c, h.logger, err)
	}
	return c.JSON(inviteResponse{
		Member: serializers.SerializeOrganizationRole(result.Member),
		Invite: result.Invite,
	})
}
