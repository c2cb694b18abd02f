package socket

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/model"
)

type mockSocket struct {
	id     string
	userID *int64
	rooms  []string
}

func (m *mockSocket) ID() string { return m.id }

func (m *mockSocket) UserID() (int64, bool) {
	if m.userID == nil {
		return 0, false
	}
	return *m.userID, true
}

func (m *mockSocket) Join(room string) { m.rooms = append(m.rooms, room) }

func (m *mockSocket) Rooms() []string { return m.rooms }

func newStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	store, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, database.EnsureDefaultRoles(context.Background(), store))
	return store
}

func addSite(t *testing.T, store database.Store, repo string, user *model.User) *model.Site {
	t.Helper()
	site := &model.Site{Owner: "owner", Repository: repo, Engine: model.EngineStatic, DefaultBranch: "main", IsActive: true}
	require.NoError(t, store.CreateSite(context.Background(), site))
	if user != nil {
		require.NoError(t, store.AddSiteUser(context.Background(), site.ID, user.ID))
	}
	return site
}

func TestJoinRoomsAnonymous(t *testing.T) {
	store := newStore(t)
	sub := NewSubscriber(store, zap.NewNop())

	s := &mockSocket{id: "abc"}
	require.NoError(t, sub.JoinRooms(context.Background(), s))
	assert.Equal(t, []string{"abc"}, s.rooms)
}

func TestJoinRoomsUnknownUser(t *testing.T) {
	store := newStore(t)
	sub := NewSubscriber(store, zap.NewNop())

	missing := int64(4242)
	s := &mockSocket{id: "abc", userID: &missing}
	require.NoError(t, sub.JoinRooms(context.Background(), s))
	assert.Equal(t, []string{"abc"}, s.rooms)
}

func TestJoinRoomsDefaultSetting(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	user := model.NewUser("alice")
	require.NoError(t, store.CreateUser(ctx, user))

	var sites []*model.Site
	for _, repo := range []string{"one", "two", "three"} {
		sites = append(sites, addSite(t, store, repo, user))
	}
	addSite(t, store, "not-mine", nil)

	s := &mockSocket{id: "sock", userID: &user.ID}
	require.NoError(t, NewSubscriber(store, zap.NewNop()).JoinRooms(ctx, s))

	require.Len(t, s.rooms, len(sites)+1)
	expected := []string{"sock"}
	for _, site := range sites {
		expected = append(expected, SiteRoom(site.ID))
	}
	sort.Strings(expected)
	got := append([]string(nil), s.rooms...)
	sort.Strings(got)
	assert.Equal(t, expected, got)
}

func TestJoinRoomsNotificationSettings(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	user := model.NewUser("bob")
	require.NoError(t, store.CreateUser(ctx, user))

	site := addSite(t, store, "site", user)
	muted := addSite(t, store, "muted", user)
	mine := addSite(t, store, "mine", user)

	user.BuildNotificationSettings[muted.ID] = model.NotifyNone
	user.BuildNotificationSettings[mine.ID] = model.NotifyBuilds
	require.NoError(t, store.UpdateUser(ctx, user))

	s := &mockSocket{id: "sock", userID: &user.ID}
	require.NoError(t, NewSubscriber(store, zap.NewNop()).JoinRooms(ctx, s))

	assert.ElementsMatch(t, []string{"sock", SiteRoom(site.ID), SiteUserRoom(mine.ID, user.ID)}, s.rooms)
}

func TestJoinRoomsIncludesOrganizationSites(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	user := model.NewUser("carol")
	require.NoError(t, store.CreateUser(ctx, user))

	org := &model.Organization{Name: "org", IsActive: true}
	require.NoError(t, store.CreateOrganization(ctx, org))
	role, err := store.FindRoleByName(ctx, model.RoleUser)
	require.NoError(t, err)
	require.NoError(t, store.UpsertOrganizationRole(ctx, &model.OrganizationRole{OrganizationID: org.ID, UserID: user.ID, RoleID: role.ID}))

	orgSite := &model.Site{Owner: "owner", Repository: "org-site", Engine: model.EngineHugo, DefaultBranch: "main", OrganizationID: &org.ID, IsActive: true}
	require.NoError(t, store.CreateSite(ctx, orgSite))

	s := &mockSocket{id: "sock", userID: &user.ID}
	require.NoError(t, NewSubscriber(store, zap.NewNop()).JoinRooms(ctx, s))

	assert.ElementsMatch(t, []string{"sock", SiteRoom(orgSite.ID)}, s.rooms)
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "site-7", SiteRoom(7))
	assert.Equal(t, "site-7-user-3", SiteUserRoom(7, 3))
}
