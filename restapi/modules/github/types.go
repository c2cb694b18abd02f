// Package github provides the GitHub REST client and GitHub integration handlers.
package github

import "fmt"

// Permissions are the caller's rights on a repository.
type Permissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}

// Repository represents a GitHub repository.
type Repository struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	FullName      string       `json:"full_name"`
	Description   string       `json:"description"`
	HTMLURL       string       `json:"html_url"`
	Private       bool         `json:"private"`
	DefaultBranch string       `json:"default_branch"`
	Owner         Account      `json:"owner"`
	Permissions   *Permissions `json:"permissions,omitempty"`
}

// Account is a GitHub user or organization.
type Account struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Email string `json:"email,omitempty"`
}

// Branch represents a repository branch and its head commit.
type Branch struct {
	Name   string `json:"name"`
	Commit struct {
		Sha string `json:"sha"`
	} `json:"commit"`
}

// StatusOptions describes a commit status to create.
type StatusOptions struct {
	Owner       string `json:"-"`
	Repository  string `json:"-"`
	Sha         string `json:"-"`
	State       string `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context"`
}

type contentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type hookConfig struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Secret      string `json:"secret,omitempty"`
}

type hookRequest struct {
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Events []string   `json:"events"`
	Config hookConfig `json:"config"`
}

// APIError is returned for any non-2xx response from GitHub.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github api error: %d", e.StatusCode)
	}
	return fmt.Sprintf("github api error: %d %s", e.StatusCode, e.Message)
}
