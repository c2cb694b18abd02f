// Package util provides small helpers shared by services and handlers.
package util

import "strings"

// NormalizeRepoName ensures GitHub owner and repository names are always lowercase and trimmed.
// Use this function whenever accepting repository names from external sources
func NormalizeRepoName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeEmails normalizes a slice of email addresses, dropping empty entries
func NormalizeEmails(emails []string) []string {
	normalized := make([]string, 0, len(emails))
	for _, email := range emails {
		if e := NormalizeEmail(email); e != "" {
			normalized = append(normalized, e)
		}
	}
	return normalized
}
