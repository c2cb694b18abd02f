// Package model provides data models for the Pages platform.
package model

import (
	"time"
)

// Build notification settings a user can choose per site.
const (
	NotifySite   = "site"
	NotifyBuilds = "builds"
	NotifyNone   = "none"
)

// User represents a GitHub-authenticated user of the platform
type User struct {
	ID                        int64            `json:"id"`
	Username                  string           `json:"username"`
	Email                     string           `json:"email,omitempty"`
	UAAEmail                  string           `json:"uaaEmail,omitempty"`
	GithubAccessToken         string           `json:"githubAccessToken,omitempty"`
	GithubUserID              string           `json:"githubUserId,omitempty"`
	SignedInAt                *time.Time       `json:"signedInAt,omitempty"`
	BuildNotificationSettings map[int64]string `json:"buildNotificationSettings,omitempty"`
	IsActive                  bool             `json:"isActive"`
	CreatedAt                 time.Time        `json:"createdAt"`
	UpdatedAt                 time.Time        `json:"updatedAt"`
}

// NewUser creates a new user with default values
func NewUser(username string) *User {
	now := time.Now().UTC()
	return &User{
		Username:                  username,
		BuildNotificationSettings: map[int64]string{},
		IsActive:                  true,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

// HasGithubToken reports whether the user has linked a GitHub access token.
func (u *User) HasGithubToken() bool {
	return u.GithubAccessToken != ""
}

// NotificationSetting returns the user's build notification setting for a site.
func (u *User) NotificationSetting(siteID int64) string {
	if setting, ok := u.BuildNotificationSettings[siteID]; ok && setting != "" {
		return setting
	}
	return NotifySite
}

// ValidNotificationSetting reports whether s is a known notification setting.
func ValidNotificationSetting(s string) bool {
	return s == NotifySite || s == NotifyBuilds || s == NotifyNone
}
