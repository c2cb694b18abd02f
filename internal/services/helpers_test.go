package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/events/modules/builds"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/modules/github"
)

func newTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	store, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, database.EnsureDefaultRoles(context.Background(), store))
	return store
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.App.Hostname = "https://pages.example.gov"
	cfg.App.AppEnv = "test"
	cfg.GitHub.WebhookURL = "https://pages.example.gov/webhook/github"
	cfg.GitHub.WebhookSecret = "hook-secret"
	return cfg
}

// fakeGitHub serves the handful of GitHub endpoints the services call. Tokens listed in push
// have push access, tokens in forbidden get a 403, anything else has read-only access.
type fakeGitHub struct {
	mu        sync.Mutex
	push      map[string]bool
	forbidden map[string]bool
	files     map[string]string
	checked   []string
	statuses  []recordedStatus
	hooks     int
	srv       *httptest.Server
}

type recordedStatus struct {
	Token string
	Path  string
	Body  map[string]string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	f := &fakeGitHub{push: map[string]bool{}, forbidden: map[string]bool{}, files: map[string]string{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitHub) client() *github.Client {
	return github.NewClient(f.srv.URL)
}

func (f *fakeGitHub) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 3 && parts[0] == "repos" && r.Method == http.MethodGet:
		f.checked = append(f.checked, token)
		if f.forbidden[token] {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message":"Bad credentials"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name":           parts[2],
			"default_branch": "main",
			"permissions":    map[string]bool{"push": f.push[token], "admin": f.push[token], "pull": true},
		})
	case len(parts) == 5 && parts[3] == "statuses":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.statuses = append(f.statuses, recordedStatus{Token: token, Path: r.URL.Path, Body: body})
		w.WriteHeader(http.StatusCreated)
	case len(parts) >= 5 && parts[3] == "contents":
		content, ok := f.files[strings.Join(parts[4:], "/")+"@"+r.URL.Query().Get("ref")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"type": "file", "encoding": "base64", "content": base64.StdEncoding.EncodeToString([]byte(content)),
		})
	case len(parts) == 4 && parts[3] == "hooks":
		f.hooks++
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeGitHub) recordedStatuses() []recordedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedStatus(nil), f.statuses...)
}

func (f *fakeGitHub) checkedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.checked...)
}

func createUser(t *testing.T, store database.Store, username, token string, signedInAgo time.Duration) *model.User {
	t.Helper()
	u := model.NewUser(username)
	u.GithubAccessToken = token
	if signedInAgo > 0 {
		at := time.Now().Add(-signedInAgo)
		u.SignedInAt = &at
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func createSite(t *testing.T, store database.Store, owner, repo string, users ...*model.User) *model.Site {
	t.Helper()
	site := &model.Site{Owner: owner, Repository: repo, Engine: model.EngineStatic, DefaultBranch: "main", IsActive: true}
	require.NoError(t, store.CreateSite(context.Background(), site))
	for _, u := range users {
		require.NoError(t, store.AddSiteUser(context.Background(), site.ID, u.ID))
	}
	return site
}

func createBuild(t *testing.T, store database.Store, site *model.Site, user *model.User, state model.BuildState) *model.Build {
	t.Helper()
	b := &model.Build{SiteID: site.ID, Branch: "main", State: state, RequestedCommitSha: "requested-sha"}
	if user != nil {
		b.UserID = &user.ID
		b.Username = user.Username
	}
	require.NoError(t, store.CreateBuild(context.Background(), b))
	return b
}

func nopLogger() *zap.Logger {
	return zap.NewNop()
}

type recordingPublisher struct {
	mu       sync.Mutex
	queued   []builds.SiteBuildQueuedEvent
	statuses []model.BuildState
	failSite error
}

func (p *recordingPublisher) PublishSiteBuild(_ context.Context, event builds.SiteBuildQueuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSite != nil {
		return p.failSite
	}
	p.queued = append(p.queued, event)
	return nil
}

func (p *recordingPublisher) PublishBuildStatus(_ context.Context, build *model.Build) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, build.State)
	return nil
}
