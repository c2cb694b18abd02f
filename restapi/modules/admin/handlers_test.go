package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/model"
)

// blockingRunner holds Run until release is closed.
type blockingRunner struct {
	release  chan struct{}
	err      error
	mu       sync.Mutex
	runs     int
	finished time.Time
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	r.finished = time.Now().UTC()
	r.mu.Unlock()
	return r.err
}

type adminFixture struct {
	app    *fiber.App
	store  *database.SQLiteStore
	site   *model.Site
	runner *blockingRunner
}

func newFixture(t *testing.T) *adminFixture {
	t.Helper()
	ctx := context.Background()
	store, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	alice := model.NewUser("alice")
	require.NoError(t, store.CreateUser(ctx, alice))
	site := &model.Site{Owner: "18f", Repository: "handbook", Engine: "jekyll", DefaultBranch: "main", IsActive: true}
	require.NoError(t, store.CreateSite(ctx, site))

	runner := &blockingRunner{release: make(chan struct{})}
	orgs := services.NewOrganizationService(store, nil, nil, zap.NewNop())
	h := NewHandlers(store, orgs, runner, 90, "https://bucket.example.gov", zap.NewNop())

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", alice)
		return c.Next()
	})
	h.Register(app)
	return &adminFixture{app: app, store: store, site: site, runner: runner}
}

func (f *adminFixture) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestCreateAndDeleteDomain(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/domains",
		fmt.Sprintf(`{"siteId":%d,"names":" WWW.Handbook.gov,handbook.gov ","context":"site"}`, f.site.ID))
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "www.handbook.gov,handbook.gov", body["names"])
	assert.Equal(t, "www-handbook-gov-ext", body["serviceName"])
	assert.Equal(t, "pending", body["state"])
	assert.Equal(t, model.DomainContextSite, body["context"])
	id := int64(body["id"].(float64))

	domains, err := f.store.ListDomainsForSite(context.Background(), f.site.ID)
	require.NoError(t, err)
	require.Len(t, domains, 1)

	status, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/domains/%d", id), "")
	assert.Equal(t, http.StatusOK, status)
	domains, err = f.store.ListDomainsForSite(context.Background(), f.site.ID)
	require.NoError(t, err)
	assert.Empty(t, domains)

	status, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/domains/%d", id), "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateDomainRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	cases := map[string]struct {
		body string
		want int
	}{
		"malformed":     {body: `{"siteId":`, want: http.StatusBadRequest},
		"missing names": {body: fmt.Sprintf(`{"siteId":%d}`, f.site.ID), want: http.StatusBadRequest},
		"bad context":   {body: fmt.Sprintf(`{"siteId":%d,"names":"a.gov","context":"preview"}`, f.site.ID), want: http.StatusBadRequest},
		"unknown site":  {body: `{"siteId":9999,"names":"a.gov"}`, want: http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/domains", tc.body)
			assert.Equal(t, tc.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}

	status, _ := f.do(t, http.MethodDelete, "/domains/abc", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminUpdateSite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org := &model.Organization{Name: "agency-org", Agency: "GSA", IsActive: true}
	require.NoError(t, f.store.CreateOrganization(ctx, org))

	status, body := f.do(t, http.MethodPut, fmt.Sprintf("/sites/%d", f.site.ID),
		fmt.Sprintf(`{"defaultBranch":"release","isActive":false,"organizationId":%d}`, org.ID))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "release", body["defaultBranch"])
	assert.Equal(t, false, body["isActive"])
	assert.Equal(t, float64(org.ID), body["organizationId"])

	saved, err := f.store.GetSite(ctx, f.site.ID)
	require.NoError(t, err)
	assert.Equal(t, "release", saved.DefaultBranch)
	assert.False(t, saved.IsActive)
	require.NotNil(t, saved.OrganizationID)
	assert.Equal(t, org.ID, *saved.OrganizationID)

	status, _ = f.do(t, http.MethodPut, fmt.Sprintf("/sites/%d", f.site.ID), `{"organizationId":0}`)
	require.Equal(t, http.StatusOK, status)
	saved, err = f.store.GetSite(ctx, f.site.ID)
	require.NoError(t, err)
	assert.Nil(t, saved.OrganizationID)

	status, _ = f.do(t, http.MethodPut, fmt.Sprintf("/sites/%d", f.site.ID), `{"engine":"cobol"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPut, fmt.Sprintf("/sites/%d", f.site.ID), `{"isActive":`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPut, fmt.Sprintf("/sites/%d", f.site.ID), `{"organizationId":4242}`)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodPut, "/sites/9999", `{"isActive":true}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminGetAndDeleteSite(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, fmt.Sprintf("/sites/%d", f.site.ID), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "handbook", body["repository"])
	assert.Empty(t, body["users"])
	assert.Empty(t, body["domains"])

	status, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/sites/%d", f.site.ID), "")
	assert.Equal(t, http.StatusOK, status)
	_, err := f.store.GetSite(context.Background(), f.site.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	status, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/sites/%d", f.site.ID), "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodGet, "/sites/0", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func waitForIdle(t *testing.T, f *adminFixture) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.Eventually(t, func() bool {
		_, body = f.do(t, http.MethodGet, "/sandbox/status", "")
		return body["running"] == false
	}, 2*time.Second, 10*time.Millisecond)
	return body
}

func TestRunSandbox(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/sandbox/run", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "processing", body["status"])

	status, body = f.do(t, http.MethodPost, "/sandbox/run", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, false, body["success"])

	_, body = f.do(t, http.MethodGet, "/sandbox/status", "")
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "processing", body["status"])

	close(f.runner.release)
	body = waitForIdle(t, f)

	completed, ok := body["status"].(string)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(completed, "Completed at "), completed)
	at, err := time.Parse(time.RFC3339, strings.TrimPrefix(completed, "Completed at "))
	require.NoError(t, err)
	f.runner.mu.Lock()
	assert.False(t, at.Before(f.runner.finished.Truncate(time.Second)))
	assert.Equal(t, 1, f.runner.runs)
	f.runner.mu.Unlock()
}

func TestRunSandboxReportsFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.err = errors.New("uaa unavailable")
	close(f.runner.release)

	status, _ := f.do(t, http.MethodPost, "/sandbox/run", "")
	require.Equal(t, http.StatusOK, status)

	body := waitForIdle(t, f)
	assert.Equal(t, "Failed: uaa unavailable", body["status"])
}
