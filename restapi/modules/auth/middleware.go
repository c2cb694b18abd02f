package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/model"
)

// UserLocal is the fiber local holding the signed-in *model.User.
const UserLocal = "user"

// CurrentUser returns the signed-in user, or nil.
func CurrentUser(c *fiber.Ctx) *model.User {
	user, _ := c.Locals(UserLocal).(*model.User)
	return user
}

func loadUser(c *fiber.Ctx, store database.Store) (*model.User, error) {
	token := c.Cookies(CookieName)
	if token == "" {
		return nil, nil
	}
	claims, err := ValidateJWT(token)
	if err != nil {
		return nil, nil
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, nil
	}
	user, err := store.GetUser(c.UserContext(), id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	return user, nil
}

// RequireAuth loads the session user and blocks guests.
func RequireAuth(store database.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := loadUser(c, store)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load session"})
		}
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
		}
		c.Locals(UserLocal, user)
		return c.Next()
	}
}

// OptionalAuth loads the session user if there is one but does not block guests.
func OptionalAuth(store database.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if user, err := loadUser(c, store); err == nil && user != nil {
			c.Locals(UserLocal, user)
		}
		return c.Next()
	}
}

// RequireAdmin only lets configured admin users through. It must run after RequireAuth.
func RequireAdmin(app config.AppConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
		}
		if !app.IsAdmin(user.Username) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Insufficient permissions"})
		}
		return c.Next()
	}
}
