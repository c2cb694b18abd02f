package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/model"
)

func newSiteService(t *testing.T) (*SiteService, *database.SQLiteStore, *fakeGitHub, *recordingPublisher) {
	t.Helper()
	builds, store, gh, pub := newBuildService(t)
	return NewSiteService(store, gh.client(), builds, testConfig(), nopLogger()), store, gh, pub
}

func TestCreateSite(t *testing.T) {
	ctx := context.Background()
	svc, store, gh, pub := newSiteService(t)
	user := createUser(t, store, "alice", "push-token", 0)
	gh.push["push-token"] = true

	site, err := svc.CreateSite(ctx, user, CreateSiteParams{Owner: " 18F ", Repository: "My-Site", Engine: model.EngineHugo, EngineVersion: "0.121.1"})
	require.NoError(t, err)

	assert.Equal(t, "18f", site.Owner)
	assert.Equal(t, "my-site", site.Repository)
	assert.Equal(t, model.DefaultBranch, site.DefaultBranch)
	assert.Equal(t, 1, gh.hooks)

	ok, err := store.IsSiteUser(ctx, site.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, pub.queued, 1)
	assert.Equal(t, "main", pub.queued[0].Build.Branch)

	_, err = svc.CreateSite(ctx, user, CreateSiteParams{Owner: "18f", Repository: "my-site"})
	require.True(t, IsValidation(err))
	assert.Equal(t, "This site has already been added to Pages.", err.Error())
}

func TestCreateSiteValidation(t *testing.T) {
	ctx := context.Background()
	svc, store, gh, _ := newSiteService(t)
	user := createUser(t, store, "alice", "read-token", 0)
	noToken := createUser(t, store, "bob", "", 0)

	_, err := svc.CreateSite(ctx, user, CreateSiteParams{Owner: "18f", Repository: "x", Engine: "gatsby"})
	assert.True(t, IsValidation(err))

	_, err = svc.CreateSite(ctx, user, CreateSiteParams{Owner: "18f", Repository: "x", EngineVersion: "not.a.version!"})
	assert.True(t, IsValidation(err))

	_, err = svc.CreateSite(ctx, user, CreateSiteParams{Owner: "18f", Repository: "x"})
	require.True(t, IsValidation(err))
	assert.Equal(t, "You do not have write access to this repository", err.Error())

	_, err = svc.CreateSite(ctx, noToken, CreateSiteParams{Owner: "18f", Repository: "x"})
	assert.True(t, IsValidation(err))

	org := &model.Organization{Name: "org", IsActive: true}
	require.NoError(t, store.CreateOrganization(ctx, org))
	gh.push["read-token"] = true
	_, err = svc.CreateSite(ctx, user, CreateSiteParams{Owner: "18f", Repository: "x", OrganizationID: &org.ID})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, gh.hooks)
}

func TestUpdateSite(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newSiteService(t)
	user := createUser(t, store, "alice", "", 0)
	stranger := createUser(t, store, "mallory", "", 0)
	site := createSite(t, store, "18f", "site", user)

	demo := "demo"
	public := true
	updated, err := svc.UpdateSite(ctx, user, site.ID, UpdateSiteParams{DemoBranch: &demo, PublicPreview: &public})
	require.NoError(t, err)
	assert.Equal(t, "demo", updated.DemoBranch)
	assert.True(t, updated.PublicPreview)

	same := "main"
	_, err = svc.UpdateSite(ctx, user, site.ID, UpdateSiteParams{DemoBranch: &same})
	assert.True(t, IsValidation(err))

	_, err = svc.UpdateSite(ctx, stranger, site.ID, UpdateSiteParams{DemoBranch: &demo})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.UpdateSite(ctx, user, site.ID+99, UpdateSiteParams{})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSiteMembership(t *testing.T) {
	ctx := context.Background()
	svc, store, gh, _ := newSiteService(t)
	alice := createUser(t, store, "alice", "alice-token", 0)
	bob := createUser(t, store, "bob", "bob-token", 0)
	gh.push["bob-token"] = true
	site := createSite(t, store, "18f", "site", alice)

	_, err := svc.RemoveUserFromSite(ctx, alice, site.ID, alice.ID)
	require.True(t, IsValidation(err))
	assert.Equal(t, "A site must have at least one user", err.Error())

	added, err := svc.AddUserToSite(ctx, bob, "18F", "SITE")
	require.NoError(t, err)
	assert.Equal(t, site.ID, added.ID)

	_, err = svc.AddUserToSite(ctx, bob, "18f", "site")
	assert.True(t, IsValidation(err))

	_, err = svc.RemoveUserFromSite(ctx, bob, site.ID, alice.ID)
	require.NoError(t, err)

	users, err := store.ListSiteUsers(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)

	_, err = svc.RemoveUserFromSite(ctx, bob, site.ID, alice.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestOrganizationMembersCanAccessSite(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newSiteService(t)
	member := createUser(t, store, "carol", "", 0)

	org := &model.Organization{Name: "org", IsActive: true}
	require.NoError(t, store.CreateOrganization(ctx, org))
	role, err := store.FindRoleByName(ctx, model.RoleUser)
	require.NoError(t, err)
	require.NoError(t, store.UpsertOrganizationRole(ctx, &model.OrganizationRole{OrganizationID: org.ID, UserID: member.ID, RoleID: role.ID}))

	site := &model.Site{Owner: "18f", Repository: "org-site", Engine: model.EngineStatic, DefaultBranch: "main", OrganizationID: &org.ID, IsActive: true}
	require.NoError(t, store.CreateSite(ctx, site))

	got, err := svc.CanAccessSite(ctx, member, site.ID)
	require.NoError(t, err)
	assert.Equal(t, site.ID, got.ID)
}

func TestBasicAuth(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newSiteService(t)
	user := createUser(t, store, "alice", "", 0)
	site := createSite(t, store, "18f", "site", user)

	_, err := svc.SetBasicAuth(ctx, user, site.ID, "user", "weak")
	assert.True(t, IsValidation(err))

	_, err = svc.SetBasicAuth(ctx, user, site.ID, "", "Passw0rdLong")
	assert.True(t, IsValidation(err))

	_, err = svc.SetBasicAuth(ctx, user, site.ID, "user", "Passw0rdLong")
	require.NoError(t, err)

	stored, err := store.GetSite(ctx, site.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.BasicAuth)
	assert.NotEqual(t, "Passw0rdLong", stored.BasicAuth.PasswordHash)
	assert.True(t, CheckBasicAuth(stored, "user", "Passw0rdLong"))
	assert.False(t, CheckBasicAuth(stored, "user", "wrong"))

	_, err = svc.RemoveBasicAuth(ctx, user, site.ID)
	require.NoError(t, err)
	stored, err = store.GetSite(ctx, site.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.BasicAuth)
}

func TestValidateBasicAuthPassword(t *testing.T) {
	for _, pw := range []string{"short1A", "alllowercase1", "ALLUPPERCASE1", "NoDigitsHere"} {
		assert.Error(t, ValidateBasicAuthPassword(pw), pw)
	}
	assert.NoError(t, ValidateBasicAuthPassword("Abcdefg1"))
}
