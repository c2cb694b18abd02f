package github

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pages-platform/pages-core/model"
)

// RepoSummary is a repository the signed-in user could add as a site.
type RepoSummary struct {
	Owner         string `json:"owner"`
	Repository    string `json:"repository"`
	FullName      string `json:"fullName"`
	DefaultBranch string `json:"defaultBranch"`
	Private       bool   `json:"private"`
	CanPush       bool   `json:"canPush"`
}

// ListRepos returns the repositories the signed-in user's GitHub token can see, with the ones
// they can push to first.
func ListRepos(client *Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, _ := c.Locals("user").(*model.User)
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
		}
		if !user.HasGithubToken() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "GitHub account not connected"})
		}

		repos, err := client.ListUserRepos(c.UserContext(), user.GithubAccessToken)
		if IsStatus(err, fiber.StatusUnauthorized) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "GitHub token is no longer valid"})
		}
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to list repositories"})
		}

		out := make([]RepoSummary, 0, len(repos))
		for _, r := range repos {
			owner := r.Owner.Login
			name := r.Name
			if owner == "" {
				if parts := strings.SplitN(r.FullName, "/", 2); len(parts) == 2 {
					owner, name = parts[0], parts[1]
				}
			}
			out = append(out, RepoSummary{
				Owner:         strings.ToLower(owner),
				Repository:    strings.ToLower(name),
				FullName:      r.FullName,
				DefaultBranch: r.DefaultBranch,
				Private:       r.Private,
				CanPush:       r.Permissions != nil && r.Permissions.Push,
			})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CanPush && !out[j].CanPush })

		return c.JSON(out)
	}
}
