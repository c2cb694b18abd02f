package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/pages-platform/pages-core/internal/config"
)

// UAAUser is a user record in the identity provider.
type UAAUser struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Origin   string `json:"origin"`
	Active   bool   `json:"active"`
	Verified bool   `json:"verified"`
}

// UAAAPI looks up and invites identity provider users.
type UAAAPI interface {
	FindUserByEmail(ctx context.Context, email string) (*UAAUser, error)
	InviteUser(ctx context.Context, email string) (string, error)
}

// UAAClient talks to the UAA admin API with a client-credentials token.
type UAAClient struct {
	host        string
	redirectURL string
	oauth       *clientcredentials.Config
}

// NewUAAClient creates a UAA client for cfg.
func NewUAAClient(cfg config.UAAConfig) *UAAClient {
	host := strings.TrimRight(cfg.Host, "/")
	return &UAAClient{
		host:        host,
		redirectURL: cfg.InviteRedirectURL,
		oauth: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     host + "/oauth/token",
			Scopes:       []string{"scim.read", "scim.invite"},
		},
	}
}

func (c *UAAClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.oauth.Client(ctx).Do(req)
	if err != nil {
		return fmt.Errorf("uaa request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("uaa %s %s responded with %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FindUserByEmail returns the UAA user with email, or nil if there is none.
func (c *UAAClient) FindUserByEmail(ctx context.Context, email string) (*UAAUser, error) {
	filter := url.QueryEscape(fmt.Sprintf(`email eq "%s"`, scimString(email)))
	var res struct {
		Resources []UAAUser `json:"resources"`
	}
	if err := c.do(ctx, http.MethodGet, "/Users?filter="+filter, nil, &res); err != nil {
		return nil, err
	}
	if len(res.Resources) == 0 {
		return nil, nil
	}
	return &res.Resources[0], nil
}

var scimEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// scimString escapes v for use inside a quoted SCIM filter value.
func scimString(v string) string {
	return scimEscaper.Replace(v)
}

// InviteUser creates a UAA invitation for email and returns the invite link.
func (c *UAAClient) InviteUser(ctx context.Context, email string) (string, error) {
	var res struct {
		NewInvites []struct {
			Email        string `json:"email"`
			UserID       string `json:"userId"`
			InviteLink   string `json:"inviteLink"`
			Success      bool   `json:"success"`
			ErrorMessage string `json:"errorMessage"`
		} `json:"new_invites"`
	}
	path := "/invite_users?redirect_uri=" + url.QueryEscape(c.redirectURL)
	if err := c.do(ctx, http.MethodPost, path, map[string][]string{"emails": {email}}, &res); err != nil {
		return "", err
	}
	if len(res.NewInvites) == 0 {
		return "", fmt.Errorf("uaa returned no invite for %s", email)
	}
	invite := res.NewInvites[0]
	if !invite.Success {
		return "", fmt.Errorf("uaa invite for %s failed: %s", email, invite.ErrorMessage)
	}
	return invite.InviteLink, nil
}
