package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/model"
)

type pushCall struct {
	owner, repo, branch, sha, pusher string
}

type stubBuilder struct {
	calls []pushCall
	err   error
}

func (s *stubBuilder) BuildForBranchPush(_ context.Context, owner, repo, branch, sha, pusher string) (*model.Build, error) {
	s.calls = append(s.calls, pushCall{owner, repo, branch, sha, pusher})
	if s.err != nil {
		return nil, s.err
	}
	return &model.Build{ID: 7}, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func deliver(t *testing.T, app *fiber.App, event string, body []byte, signature string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, event)
	req.Header.Set(signatureHeader, signature)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

const pushPayload = `{
  "ref": "refs/heads/feature",
  "after": "abc123",
  "deleted": false,
  "repository": {"name": "site", "owner": {"name": "18F", "login": "18F"}},
  "sender": {"login": "alice"}
}`

func TestValidSignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.True(t, ValidSignature("s3cret", body, sign("s3cret", body)))
	assert.False(t, ValidSignature("s3cret", body, sign("other", body)))
	assert.False(t, ValidSignature("s3cret", body, "sha1=abc"))
	assert.False(t, ValidSignature("", body, sign("", body)))
}

func TestGitHubPush(t *testing.T) {
	builder := &stubBuilder{}
	app := fiber.New()
	app.Post("/webhook/github", GitHub("s3cret", builder, zap.NewNop()))

	body := []byte(pushPayload)
	assert.Equal(t, fiber.StatusBadRequest, deliver(t, app, "push", body, sign("wrong", body)))
	assert.Empty(t, builder.calls)

	assert.Equal(t, fiber.StatusCreated, deliver(t, app, "push", body, sign("s3cret", body)))
	require.Len(t, builder.calls, 1)
	assert.Equal(t, pushCall{"18F", "site", "feature", "abc123", "alice"}, builder.calls[0])

	assert.Equal(t, fiber.StatusOK, deliver(t, app, "ping", body, sign("s3cret", body)))
	assert.Len(t, builder.calls, 1)
}

func TestGitHubPushSkips(t *testing.T) {
	builder := &stubBuilder{}
	app := fiber.New()
	app.Post("/webhook/github", GitHub("s3cret", builder, zap.NewNop()))

	for _, payload := range []string{
		`{"ref":"refs/heads/gone","after":"0000000000000000000000000000000000000000","deleted":true,"repository":{"name":"site","owner":{"login":"18f"}}}`,
		`{"ref":"refs/tags/v1.0.0","after":"abc","repository":{"name":"site","owner":{"login":"18f"}}}`,
	} {
		body := []byte(payload)
		assert.Equal(t, fiber.StatusNoContent, deliver(t, app, "push", body, sign("s3cret", body)))
	}
	assert.Empty(t, builder.calls)

	builder.err = database.ErrNotFound
	body := []byte(pushPayload)
	assert.Equal(t, fiber.StatusNoContent, deliver(t, app, "push", body, sign("s3cret", body)))
}
