package graphql

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/modules/auth"
)

func setup(t *testing.T) (graphql.Schema, *database.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	store, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, database.EnsureDefaultRoles(ctx, store))

	cfg := config.Default()
	buildService := services.NewBuildService(store, nil, nil, cfg, zap.NewNop())
	schema, err := CreateSchema(Resolvers{
		Sites:         services.NewSiteService(store, nil, buildService, cfg, zap.NewNop()),
		Builds:        buildService,
		Organizations: services.NewOrganizationService(store, nil, nil, zap.NewNop()),
		SiteRoot:      "http://pages.example",
	})
	require.NoError(t, err)
	return schema, store
}

func run(schema graphql.Schema, user *model.User, query string) *graphql.Result {
	ctx := context.Background()
	if user != nil {
		ctx = context.WithValue(ctx, auth.UserKey, user)
	}
	return graphql.Do(graphql.Params{Schema: schema, RequestString: query, Context: ctx})
}

func TestQueries(t *testing.T) {
	schema, store := setup(t)
	ctx := context.Background()

	alice := model.NewUser("alice")
	alice.GithubAccessToken = "secret"
	require.NoError(t, store.CreateUser(ctx, alice))
	site := &model.Site{Owner: "18f", Repository: "handbook", Engine: model.EngineHugo, DefaultBranch: "main", IsActive: true}
	require.NoError(t, store.CreateSite(ctx, site))
	require.NoError(t, store.AddSiteUser(ctx, site.ID, alice.ID))
	build := &model.Build{SiteID: site.ID, Branch: "main", State: model.BuildSuccess, Token: "build-token"}
	require.NoError(t, store.CreateBuild(ctx, build))

	result := run(schema, alice, `{ me { username hasGithubAuth } sites { id repository viewLink } builds(siteId: 1) { id state branch } }`)
	require.Empty(t, result.Errors)

	data := result.Data.(map[string]interface{})
	me := data["me"].(map[string]interface{})
	assert.Equal(t, "alice", me["username"])
	assert.Equal(t, true, me["hasGithubAuth"])

	sites := data["sites"].([]interface{})
	require.Len(t, sites, 1)
	assert.Equal(t, "handbook", sites[0].(map[string]interface{})["repository"])
	assert.Equal(t, "http://pages.example/site/18f/handbook", sites[0].(map[string]interface{})["viewLink"])

	builds := data["builds"].([]interface{})
	require.Len(t, builds, 1)
	assert.Equal(t, "success", builds[0].(map[string]interface{})["state"])
}

func TestQueriesRequireAccess(t *testing.T) {
	schema, store := setup(t)
	ctx := context.Background()

	mallory := model.NewUser("mallory")
	require.NoError(t, store.CreateUser(ctx, mallory))
	site := &model.Site{Owner: "18f", Repository: "private", Engine: model.EngineStatic, DefaultBranch: "main", IsActive: true}
	require.NoError(t, store.CreateSite(ctx, site))

	result := run(schema, mallory, `{ site(id: 1) { id } }`)
	assert.NotEmpty(t, result.Errors)

	result = run(schema, nil, `{ sites { id } }`)
	assert.NotEmpty(t, result.Errors)

	result = run(schema, nil, `{ me { username } }`)
	require.Empty(t, result.Errors)
	assert.Nil(t, result.Data.(map[string]interface{})["me"])
}
