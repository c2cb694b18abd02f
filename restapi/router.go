// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/internal/socket"
	"github.com/pages-platform/pages-core/restapi/modules/admin"
	"github.com/pages-platform/pages-core/restapi/modules/auth"
	"github.com/pages-platform/pages-core/restapi/modules/builds"
	"github.com/pages-platform/pages-core/restapi/modules/github"
	"github.com/pages-platform/pages-core/restapi/modules/organizations"
	"github.com/pages-platform/pages-core/restapi/modules/sites"
	socketapi "github.com/pages-platform/pages-core/restapi/modules/socket"
	"github.com/pages-platform/pages-core/restapi/modules/webhooks"
	"github.com/pages-platform/pages-core/util"
)

// Dependencies are the services the routes are wired to.
type Dependencies struct {
	Config        *config.Config
	Store         database.Store
	GitHub        *github.Client
	Sites         *services.SiteService
	Builds        *services.BuildService
	Organizations *services.OrganizationService
	Sandbox       admin.SandboxRunner
	Hub           *socket.Hub
	Subscriber    *socket.Subscriber
	Logger        *zap.Logger
}

// SetupRoutes configures all REST API routes, the websocket and the GraphQL endpoint. ctx
// bounds the lifetime of websocket connections.
func SetupRoutes(ctx context.Context, app *fiber.App, deps Dependencies, schema graphql.Schema) {
	cfg := deps.Config
	store := deps.Store
	siteRoot := util.SiteRoot(cfg.S3.Bucket, cfg.S3.Region)

	// GitHub OAuth
	oauth := auth.NewOAuth(cfg, store, deps.GitHub, deps.Logger)
	authGroup := app.Group("/auth")
	authGroup.Get("/github", oauth.Login)
	authGroup.Get("/github/callback", oauth.Callback)
	authGroup.Post("/logout", auth.Logout())

	// GitHub webhooks
	app.Post("/webhook/github", webhooks.GitHub(cfg.GitHub.WebhookSecret, deps.Builds, deps.Logger))

	// Websocket
	app.Use("/ws", auth.OptionalAuth(store))
	socketapi.Register(ctx, app, deps.Hub, deps.Subscriber, deps.Logger)

	// API Group /api/v1
	api := app.Group("/api/v1")

	// Builder callbacks authenticate with the build token
	buildHandlers := builds.NewHandlers(deps.Builds, deps.Sites, deps.Logger)
	buildHandlers.RegisterCallbacks(api)

	api.Post("/graphql", auth.OptionalAuth(store), GraphQLHandler(schema))

	session := api.Group("", auth.RequireAuth(store))
	session.Get("/me", auth.Me(store, deps.GitHub, deps.Logger))
	session.Put("/me/settings", auth.UpdateSettings(store))
	session.Get("/github/repos", github.ListRepos(deps.GitHub))
	sites.NewHandlers(deps.Sites, siteRoot, deps.Logger).Register(session)
	buildHandlers.Register(session)
	organizations.NewHandlers(deps.Organizations, deps.Logger).Register(session)

	// Admin
	adminGroup := app.Group("/admin", auth.RequireAuth(store), auth.RequireAdmin(cfg.App))
	admin.NewHandlers(store, deps.Organizations, deps.Sandbox, cfg.Sandbox.CleaningIntervalDays, siteRoot, deps.Logger).Register(adminGroup)
	adminGroup.Post("/logout", auth.Logout())

	deps.Logger.Info("API routes initialized successfully")
}
