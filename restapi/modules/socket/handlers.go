// Package socket mounts the websocket endpoint that streams build status updates.
package socket

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/internal/socket"
	"github.com/pages-platform/pages-core/model"
)

// Register mounts /ws on r. A session user, when present, must already be in the "user"
// local. ctx bounds every connection's lifetime.
func Register(ctx context.Context, r fiber.Router, hub *socket.Hub, subscriber *socket.Subscriber, logger *zap.Logger) {
	sugar := logger.Sugar()

	r.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if user, ok := c.Locals("user").(*model.User); ok && user != nil {
			c.Locals("userID", user.ID)
		}
		return c.Next()
	})

	r.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		var userID *int64
		if id, ok := conn.Locals("userID").(int64); ok {
			userID = &id
		}

		client := hub.Register(conn, userID)
		if err := subscriber.JoinRooms(ctx, client); err != nil {
			sugar.Warnw("Failed to join socket rooms", "socket", client.ID(), "error", err)
		}
		client.Serve(ctx)
	}))
}
