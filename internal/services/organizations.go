package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/mailer"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/util"
)

// InviteMailer sends identity provider invitations.
type InviteMailer interface {
	SendUAAInvite(ctx context.Context, email, link string) (*mailer.Job, error)
}

// OrganizationService manages organizations and their members.
type OrganizationService struct {
	store  database.Store
	uaa    UAAAPI
	mailer InviteMailer
	logger *zap.SugaredLogger
}

// NewOrganizationService creates an OrganizationService.
func NewOrganizationService(store database.Store, uaa UAAAPI, m InviteMailer, logger *zap.Logger) *OrganizationService {
	return &OrganizationService{store: store, uaa: uaa, mailer: m, logger: logger.Sugar()}
}

// Invite is the result of inviting a member.
type Invite struct {
	Email string `json:"email"`
	Link  string `json:"link,omitempty"`
}

// InviteResult is returned to the inviting manager.
type InviteResult struct {
	Member *model.OrganizationRole `json:"member"`
	Invite Invite                  `json:"invite"`
}

// FindAllForUser returns the organizations user belongs to.
func (s *OrganizationService) FindAllForUser(ctx context.Context, user *model.User) ([]model.Organization, error) {
	return s.store.ListOrganizationsForUser(ctx, user.ID)
}

// FindOneForUser returns the organization if user manages it. Non-managers get ErrNotFound.
func (s *OrganizationService) FindOneForUser(ctx context.Context, user *model.User, orgID int64) (*model.Organization, error) {
	role, err := s.store.GetOrganizationRole(ctx, orgID, user.ID)
	if err != nil {
		return nil, err
	}
	if role.Role == nil || role.Role.Name != model.RoleManager {
		return nil, database.ErrNotFound
	}
	return s.store.GetOrganization(ctx, orgID)
}

// Members lists an organization's members for one of its managers.
func (s *OrganizationService) Members(ctx context.Context, user *model.User, orgID int64) ([]model.OrganizationRole, error) {
	if _, err := s.FindOneForUser(ctx, user, orgID); err != nil {
		return nil, err
	}
	return s.store.ListOrganizationMembers(ctx, orgID)
}

// Invite adds a member to an organization the user manages and mails a UAA invite when the
// invitee has no UAA account yet.
func (s *OrganizationService) Invite(ctx context.Context, user *model.User, orgID, roleID int64, uaaEmail, githubUsername string) (*InviteResult, error) {
	org, err := s.FindOneForUser(ctx, user, orgID)
	if err != nil {
		return nil, err
	}

	email, link, member, err := s.InviteUserToOrganization(ctx, user, org, roleID, uaaEmail, githubUsername)
	if err != nil {
		return nil, err
	}

	if link != "" {
		if _, err := s.mailer.SendUAAInvite(ctx, email, link); err != nil {
			return nil, fmt.Errorf("failed to send invite to %s: %w", email, err)
		}
	}
	return &InviteResult{Member: member, Invite: Invite{Email: email, Link: link}}, nil
}

// InviteUserToOrganization finds or invites the UAA user, finds or creates the local user and
// gives them roleID in org. It returns the normalized email, the invite link (empty when the
// UAA user already existed) and the membership.
func (s *OrganizationService) InviteUserToOrganization(ctx context.Context, current *model.User, org *model.Organization, roleID int64, uaaEmail, githubUsername string) (string, string, *model.OrganizationRole, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if errors.Is(err, database.ErrNotFound) {
		return "", "", nil, invalid("Invalid role id %d", roleID)
	}
	if err != nil {
		return "", "", nil, err
	}

	email := util.NormalizeEmail(uaaEmail)
	if email == "" {
		return "", "", nil, invalid("An email address is required")
	}
	githubUsername = util.NormalizeRepoName(githubUsername)

	var link string
	uaaUser, err := s.uaa.FindUserByEmail(ctx, email)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to look up UAA user %s: %w", email, err)
	}
	if uaaUser == nil {
		link, err = s.uaa.InviteUser(ctx, email)
		if err != nil {
			return "", "", nil, fmt.Errorf("failed to invite UAA user %s: %w", email, err)
		}
	}

	member, err := s.findOrCreateUser(ctx, email, githubUsername)
	if err != nil {
		return "", "", nil, err
	}

	orgRole := &model.OrganizationRole{OrganizationID: org.ID, UserID: member.ID, RoleID: role.ID}
	if err := s.store.UpsertOrganizationRole(ctx, orgRole); err != nil {
		return "", "", nil, err
	}
	orgRole.Role = role
	orgRole.User = member

	s.logger.Infow("User invited to organization", "organization", org.ID, "user", member.ID, "role", role.Name, "by", current.ID)
	return email, link, orgRole, nil
}

func (s *OrganizationService) findOrCreateUser(ctx context.Context, email, githubUsername string) (*model.User, error) {
	user, err := s.store.FindUserByUAAEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	if githubUsername != "" {
		user, err = s.store.FindUserByUsername(ctx, githubUsername)
		switch {
		case err == nil:
			user.UAAEmail = email
			if err := s.store.UpdateUser(ctx, user); err != nil {
				return nil, err
			}
			return user, nil
		case !errors.Is(err, database.ErrNotFound):
			return nil, err
		}
	}

	username := githubUsername
	if username == "" {
		username = email
	}
	user = model.NewUser(username)
	user.Email = email
	user.UAAEmail = email
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, invalid("A user named %s already exists with a different email", username)
		}
		return nil, err
	}
	return user, nil
}

// CreateOrganization creates an organization with user as its manager. Sandbox
// organizations get their first cleaning date.
func (s *OrganizationService) CreateOrganization(ctx context.Context, org *model.Organization, manager *model.User, sandboxIntervalDays int) error {
	if org.Name == "" {
		return invalid("An organization name is required")
	}
	org.IsActive = true
	if org.IsSandbox && org.SandboxNextCleaningAt == nil {
		next := nextCleaning(sandboxIntervalDays)
		org.SandboxNextCleaningAt = &next
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return invalid("An organization named %s already exists", org.Name)
		}
		return err
	}
	if manager == nil {
		return nil
	}
	role, err := s.store.FindRoleByName(ctx, model.RoleManager)
	if err != nil {
		return err
	}
	return s.store.UpsertOrganizationRole(ctx, &model.OrganizationRole{OrganizationID: org.ID, UserID: manager.ID, RoleID: role.ID})
}
