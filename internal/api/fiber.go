// Package api builds the Fiber application serving the REST API, GraphQL and websockets.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/pages-platform/pages-core/graphql"
	"github.com/pages-platform/pages-core/restapi"
	"github.com/pages-platform/pages-core/util"
)

// NewFiberApp creates and configures a Fiber app with REST, GraphQL and websocket routes.
func NewFiberApp(ctx context.Context, deps restapi.Dependencies) (*fiber.App, error) {
	cfg := deps.Config
	schema, err := graphql.CreateSchema(graphql.Resolvers{
		Sites:         deps.Sites,
		Builds:        deps.Builds,
		Organizations: deps.Organizations,
		SiteRoot:      util.SiteRoot(cfg.S3.Bucket, cfg.S3.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GraphQL schema: %w", err)
	}

	sugar := deps.Logger.Sugar()
	app := fiber.New(fiber.Config{
		AppName:     cfg.App.Product + " API v1",
		BodyLimit:   10 * 1024 * 1024,
		ReadTimeout: 60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			sugar.Errorw("Unhandled request error", "method", c.Method(), "path", c.Path(), "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
		},
	})

	// Middleware
	app.Use(fiberrecover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		AllowCredentials: cfg.App.AllowOrigins != "*",
		AllowMethods:     "GET, POST, HEAD, PUT, DELETE, PATCH, OPTIONS",
	}))
	app.Use(func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "max-age=0")
		return c.Next()
	})
	app.Use(logger.New())

	// Health check endpoints
	healthy := func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	}
	app.Get("/", healthy)
	app.Get("/health", healthy)

	restapi.SetupRoutes(ctx, app, deps, schema)

	return app, nil
}
