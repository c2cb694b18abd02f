package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/internal/mailer"
	"github.com/pages-platform/pages-core/model"
)

// fakeUAA knows the emails in existing and invites everyone else.
type fakeUAA struct {
	mu       sync.Mutex
	existing map[string]bool
	invited  []string
	srv      *httptest.Server
}

func newFakeUAA(t *testing.T) *fakeUAA {
	f := &fakeUAA{existing: map[string]bool{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUAA) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/oauth/token" {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "uaa-token", "token_type": "bearer", "expires_in": 3600})
		return
	}
	if r.Header.Get("Authorization") != "Bearer uaa-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/Users":
		filter := r.URL.Query().Get("filter")
		var resources []map[string]string
		for email := range f.existing {
			if strings.Contains(filter, `"`+email+`"`) {
				resources = append(resources, map[string]string{"id": "uaa-" + email, "userName": email, "origin": "uaa"})
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"resources": resources})
	case "/invite_users":
		var body struct {
			Emails []string `json:"emails"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.invited = append(f.invited, body.Emails...)
		json.NewEncoder(w).Encode(map[string]interface{}{"new_invites": []map[string]interface{}{{
			"email": body.Emails[0], "success": true, "inviteLink": "https://uaa.example.gov/invitations/accept?code=xyz",
		}}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type recordingInviteMailer struct{ sent []string }

func (m *recordingInviteMailer) SendUAAInvite(_ context.Context, email, link string) (*mailer.Job, error) {
	m.sent = append(m.sent, email+" "+link)
	return &mailer.Job{ID: "1", Name: mailer.JobUAAInvite}, nil
}

func newOrgService(t *testing.T) (*OrganizationService, *database.SQLiteStore, *fakeUAA, *recordingInviteMailer) {
	t.Helper()
	store := newTestStore(t)
	uaa := newFakeUAA(t)
	m := &recordingInviteMailer{}
	client := NewUAAClient(config.UAAConfig{Host: uaa.srv.URL, ClientID: "id", ClientSecret: "secret", InviteRedirectURL: "https://pages.example.gov"})
	return NewOrganizationService(store, client, m, nopLogger()), store, uaa, m
}

func setupOrg(t *testing.T, svc *OrganizationService, store database.Store) (*model.User, *model.Organization) {
	t.Helper()
	manager := createUser(t, store, "manager", "", 0)
	org := &model.Organization{Name: "agency"}
	require.NoError(t, svc.CreateOrganization(context.Background(), org, manager, 90))
	return manager, org
}

func TestFindOneForUserRequiresManager(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newOrgService(t)
	manager, org := setupOrg(t, svc, store)

	got, err := svc.FindOneForUser(ctx, manager, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "agency", got.Name)

	member := createUser(t, store, "member", "", 0)
	role, err := store.FindRoleByName(ctx, model.RoleUser)
	require.NoError(t, err)
	require.NoError(t, store.UpsertOrganizationRole(ctx, &model.OrganizationRole{OrganizationID: org.ID, UserID: member.ID, RoleID: role.ID}))

	_, err = svc.FindOneForUser(ctx, member, org.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	orgs, err := svc.FindAllForUser(ctx, member)
	require.NoError(t, err)
	assert.Len(t, orgs, 1)

	_, err = svc.Members(ctx, member, org.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	members, err := svc.Members(ctx, manager, org.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestInviteNewUAAUser(t *testing.T) {
	ctx := context.Background()
	svc, store, uaa, m := newOrgService(t)
	manager, org := setupOrg(t, svc, store)
	role, err := store.FindRoleByName(ctx, model.RoleUser)
	require.NoError(t, err)

	res, err := svc.Invite(ctx, manager, org.ID, role.ID, " New@Example.gov ", "NewHub")
	require.NoError(t, err)

	assert.Equal(t, "new@example.gov", res.Invite.Email)
	assert.Equal(t, "https://uaa.example.gov/invitations/accept?code=xyz", res.Invite.Link)
	assert.Equal(t, []string{"new@example.gov"}, uaa.invited)
	assert.Equal(t, []string{"new@example.gov https://uaa.example.gov/invitations/accept?code=xyz"}, m.sent)

	require.NotNil(t, res.Member)
	assert.Equal(t, model.RoleUser, res.Member.Role.Name)
	assert.Equal(t, "newhub", res.Member.User.Username)

	user, err := store.FindUserByUAAEmail(ctx, "new@example.gov")
	require.NoError(t, err)
	assert.Equal(t, res.Member.UserID, user.ID)
}

func TestInviteExistingUsers(t *testing.T) {
	ctx := context.Background()
	svc, store, uaa, m := newOrgService(t)
	manager, org := setupOrg(t, svc, store)
	uaa.existing["known@example.gov"] = true
	existing := createUser(t, store, "knownhub", "", 0)
	role, err := store.FindRoleByName(ctx, model.RoleManager)
	require.NoError(t, err)

	res, err := svc.Invite(ctx, manager, org.ID, role.ID, "known@example.gov", "KnownHub")
	require.NoError(t, err)

	assert.Empty(t, res.Invite.Link)
	assert.Empty(t, uaa.invited)
	assert.Empty(t, m.sent)
	assert.Equal(t, existing.ID, res.Member.UserID)

	reloaded, err := store.GetUser(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "known@example.gov", reloaded.UAAEmail)
}

func TestInviteValidation(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newOrgService(t)
	manager, org := setupOrg(t, svc, store)
	role, err := store.FindRoleByName(ctx, model.RoleUser)
	require.NoError(t, err)

	_, err = svc.Invite(ctx, manager, org.ID, 999, "a@example.gov", "")
	assert.True(t, IsValidation(err))

	_, err = svc.Invite(ctx, manager, org.ID, role.ID, "  ", "")
	assert.True(t, IsValidation(err))

	outsider := createUser(t, store, "outsider", "", 0)
	_, err = svc.Invite(ctx, outsider, org.ID, role.ID, "a@example.gov", "")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCreateSandboxOrganizationSchedulesCleaning(t *testing.T) {
	svc, store, _, _ := newOrgService(t)
	org := &model.Organization{Name: "sandbox", IsSandbox: true}
	require.NoError(t, svc.CreateOrganization(context.Background(), org, nil, 90))

	stored, err := store.GetOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SandboxNextCleaningAt)
	assert.Equal(t, 90, stored.DaysUntilSandboxCleaning(time.Now()))

	err = svc.CreateOrganization(context.Background(), &model.Organization{Name: "sandbox"}, nil, 90)
	assert.True(t, IsValidation(err))
}
