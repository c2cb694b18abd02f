package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/modules/github"
	"github.com/pages-platform/pages-core/restapi/serializers"
)

// Logout clears the session cookie.
func Logout() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Cookie(&fiber.Cookie{
			Name:     CookieName,
			Value:    "",
			Expires:  time.Now().Add(-1 * time.Hour),
			MaxAge:   -1,
			HTTPOnly: true,
			SameSite: "Lax",
			Path:     "/",
		})
		return c.JSON(fiber.Map{"message": "Logged out successfully"})
	}
}

// Me returns the signed-in user. A GitHub token that GitHub rejects is cleared so the client
// asks the user to reconnect.
func Me(store database.Store, gh *github.Client, logger *zap.Logger) fiber.Handler {
	sugar := logger.Sugar()
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
		}

		if user.HasGithubToken() && gh != nil {
			_, err := gh.GetUser(c.UserContext(), user.GithubAccessToken)
			if github.IsStatus(err, fiber.StatusUnauthorized) {
				user.GithubAccessToken = ""
				if err := store.UpdateUser(c.UserContext(), user); err != nil {
					sugar.Errorw("Failed to clear revoked GitHub token", "user", user.ID, "error", err)
				}
			} else if err != nil {
				// Network error - stay optimistic
				sugar.Debugw("GitHub token check failed", "user", user.ID, "error", err)
			}
		}

		return c.JSON(serializers.SerializeUser(user))
	}
}

// SettingsRequest updates the user's per-site notification settings.
type SettingsRequest struct {
	BuildNotificationSettings map[int64]string `json:"buildNotificationSettings"`
}

// UpdateSettings merges the notification settings into the user's.
func UpdateSettings(store database.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		var req SettingsRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if user.BuildNotificationSettings == nil {
			user.BuildNotificationSettings = map[int64]string{}
		}
		for siteID, setting := range req.BuildNotificationSettings {
			if !model.ValidNotificationSetting(setting) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid notification setting " + setting})
			}
			user.BuildNotificationSettings[siteID] = setting
		}
		if err := store.UpdateUser(c.UserContext(), user); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update settings"})
		}
		return c.JSON(serializers.SerializeUser(user))
	}
}
