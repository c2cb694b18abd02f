package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/restapi/modules/github"
)

const stateCookie = "oauth_state"

// OAuth runs the GitHub OAuth sign-in flow.
type OAuth struct {
	config *oauth2.Config
	store  database.Store
	gh     *github.Client
	app    config.AppConfig
	logger *zap.SugaredLogger
}

// NewOAuth creates the GitHub sign-in flow.
func NewOAuth(cfg *config.Config, store database.Store, gh *github.Client, logger *zap.Logger) *OAuth {
	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.CallbackURL,
			Scopes:       []string{"user:email", "repo", "write:repo_hook"},
			Endpoint:     githuboauth.Endpoint,
		},
		store:  store,
		gh:     gh,
		app:    cfg.App,
		logger: logger.Sugar(),
	}
}

// Login redirects to GitHub's authorize page.
func (o *OAuth) Login(c *fiber.Ctx) error {
	state, err := GenerateSecureToken(16)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to start sign in"})
	}
	c.Cookie(&fiber.Cookie{
		Name:     stateCookie,
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HTTPOnly: true,
		Secure:   o.app.IsProduction(),
		SameSite: "Lax",
		Path:     "/",
	})
	return c.Redirect(o.config.AuthCodeURL(state), fiber.StatusFound)
}

// Callback exchanges the code for a token, signs the GitHub user in and redirects to the app.
func (o *OAuth) Callback(c *fiber.Ctx) error {
	state := c.Cookies(stateCookie)
	if state == "" || c.Query("state") != state {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Invalid OAuth state"})
	}
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing code"})
	}

	ctx := c.UserContext()
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		o.logger.Warnw("GitHub code exchange failed", "error", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Failed to exchange token"})
	}

	account, err := o.gh.GetUser(ctx, token.AccessToken)
	if err != nil {
		o.logger.Warnw("GitHub user lookup failed", "error", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Failed to load GitHub user"})
	}

	user, err := o.signIn(c, account, token.AccessToken)
	if err != nil {
		o.logger.Errorw("Failed to sign in user", "username", account.Login, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to sign in"})
	}

	session, err := GenerateJWT(user.ID, user.Username)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create session"})
	}
	SetAuthCookie(c, session, o.app.IsProduction())
	c.ClearCookie(stateCookie)

	return c.Redirect(strings.TrimRight(o.app.Hostname, "/")+"/sites", fiber.StatusFound)
}

func (o *OAuth) signIn(c *fiber.Ctx, account *github.Account, accessToken string) (*model.User, error) {
	ctx := c.UserContext()
	now := time.Now().UTC()

	user, err := o.store.FindUserByUsername(ctx, account.Login)
	if errors.Is(err, database.ErrNotFound) {
		user = model.NewUser(strings.ToLower(account.Login))
		user.Email = account.Email
		user.GithubAccessToken = accessToken
		user.GithubUserID = strconv.FormatInt(account.ID, 10)
		user.SignedInAt = &now
		if err := o.store.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}
	if err != nil {
		return nil, err
	}

	user.GithubAccessToken = accessToken
	user.GithubUserID = strconv.FormatInt(account.ID, 10)
	user.SignedInAt = &now
	if user.Email == "" {
		user.Email = account.Email
	}
	if err := o.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetAuthCookie stores the session token.
func SetAuthCookie(c *fiber.Ctx, token string, secure bool) {
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    token,
		Expires:  time.Now().Add(sessionTTL),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: "Lax",
		Path:     "/",
	})
}
