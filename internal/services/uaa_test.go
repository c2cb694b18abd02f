package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pages-platform/pages-core/internal/config"
)

func newUAAServer(t *testing.T, filters *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/oauth/token":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "uaa-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		case "/Users":
			if r.Header.Get("Authorization") != "Bearer uaa-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			*filters = append(*filters, r.URL.Query().Get("filter"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"resources": []map[string]interface{}{{"id": "uaa-1", "userName": "a@example.gov", "origin": "uaa", "active": true}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUAAFindUserByEmail(t *testing.T) {
	var filters []string
	srv := newUAAServer(t, &filters)
	client := NewUAAClient(config.UAAConfig{Host: srv.URL + "/", ClientID: "pages", ClientSecret: "secret"})

	user, err := client.FindUserByEmail(context.Background(), "a@example.gov")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "uaa-1", user.ID)
	assert.Equal(t, []string{`email eq "a@example.gov"`}, filters)
}

func TestUAAFindUserByEmailEscapesFilter(t *testing.T) {
	var filters []string
	srv := newUAAServer(t, &filters)
	client := NewUAAClient(config.UAAConfig{Host: srv.URL, ClientID: "pages", ClientSecret: "secret"})

	_, err := client.FindUserByEmail(context.Background(), `x" or email pr or "a\@example.gov`)
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, `email eq "x\" or email pr or \"a\\@example.gov"`, filters[0])
}
