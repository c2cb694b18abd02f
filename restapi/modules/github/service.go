package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// Client calls the GitHub REST API on behalf of a user token.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for the API at baseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var msg struct {
			Message string `json:"message"`
			Errors  []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, &msg)
		message := msg.Message
		for _, e := range msg.Errors {
			if e.Message != "" {
				message += ": " + e.Message
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// GetRepository fetches a repository as seen by the token's user.
func (c *Client) GetRepository(ctx context.Context, token, owner, repo string) (*Repository, error) {
	var r Repository
	if err := c.do(ctx, http.MethodGet, repoPath(owner, repo), token, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CheckPermissions returns the token user's permissions on owner/repo.
func (c *Client) CheckPermissions(ctx context.Context, token, owner, repo string) (Permissions, error) {
	r, err := c.GetRepository(ctx, token, owner, repo)
	if err != nil {
		return Permissions{}, err
	}
	if r.Permissions == nil {
		return Permissions{}, nil
	}
	return *r.Permissions, nil
}

// SendCreateGithubStatusRequest creates a commit status.
func (c *Client) SendCreateGithubStatusRequest(ctx context.Context, token string, opts StatusOptions) error {
	path := fmt.Sprintf("%s/statuses/%s", repoPath(opts.Owner, opts.Repository), url.PathEscape(opts.Sha))
	return c.do(ctx, http.MethodPost, path, token, opts, nil)
}

// GetContent returns the decoded contents of a file at ref.
func (c *Client) GetContent(ctx context.Context, token, owner, repo, path, ref string) (string, error) {
	p := fmt.Sprintf("%s/contents/%s", repoPath(owner, repo), strings.TrimLeft(path, "/"))
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}
	var content contentResponse
	if err := c.do(ctx, http.MethodGet, p, token, nil, &content); err != nil {
		return "", err
	}
	if content.Type != "" && content.Type != "file" {
		return "", fmt.Errorf("%s is a %s, not a file", path, content.Type)
	}
	if content.Encoding != "base64" {
		return content.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return string(decoded), nil
}

// GetBranch returns a branch and its head commit.
func (c *Client) GetBranch(ctx context.Context, token, owner, repo, branch string) (*Branch, error) {
	var b Branch
	path := fmt.Sprintf("%s/branches/%s", repoPath(owner, repo), url.PathEscape(branch))
	if err := c.do(ctx, http.MethodGet, path, token, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SetWebhook registers a push webhook on the repository. An existing hook is not an error.
func (c *Client) SetWebhook(ctx context.Context, token, owner, repo, hookURL, secret string) error {
	req := hookRequest{
		Name:   "web",
		Active: true,
		Events: []string{"push"},
		Config: hookConfig{URL: hookURL, ContentType: "json", Secret: secret},
	}
	err := c.do(ctx, http.MethodPost, repoPath(owner, repo)+"/hooks", token, req, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(apiErr.Message, "Hook already exists") {
		return nil
	}
	return err
}

// GetUser returns the account that owns token.
func (c *Client) GetUser(ctx context.Context, token string) (*Account, error) {
	var a Account
	if err := c.do(ctx, http.MethodGet, "/user", token, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListUserRepos returns up to 100 repositories the token's user can access, most recently
// pushed first.
func (c *Client) ListUserRepos(ctx context.Context, token string) ([]Repository, error) {
	var repos []Repository
	if err := c.do(ctx, http.MethodGet, "/user/repos?per_page=100&sort=pushed", token, nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// IsStatus reports whether err is a GitHub API error with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
