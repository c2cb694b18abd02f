// Package socket manages websocket clients and the rooms build events are broadcast to.
package socket

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/model"
)

// Socket is a connected client that can be placed in rooms.
type Socket interface {
	ID() string
	UserID() (int64, bool)
	Join(room string)
	Rooms() []string
}

// SiteRoom receives every build event of a site.
func SiteRoom(siteID int64) string {
	return fmt.Sprintf("site-%d", siteID)
}

// SiteUserRoom receives the build events a user started on a site.
func SiteUserRoom(siteID, userID int64) string {
	return fmt.Sprintf("site-%d-user-%d", siteID, userID)
}

// Subscriber places sockets into rooms according to the user's sites and notification settings.
type Subscriber struct {
	store  database.Store
	logger *zap.SugaredLogger
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(store database.Store, logger *zap.Logger) *Subscriber {
	return &Subscriber{store: store, logger: logger.Sugar()}
}

// JoinRooms joins the socket to its own room and, for an authenticated user, to one room per
// visible site: the site room by default, the per-user room for "builds", none for "none".
func (s *Subscriber) JoinRooms(ctx context.Context, socket Socket) error {
	socket.Join(socket.ID())

	userID, ok := socket.UserID()
	if !ok {
		return nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user@id=%d: %w", userID, err)
	}

	sites, err := s.store.ListSitesForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("load sites for user@id=%d: %w", user.ID, err)
	}

	for _, site := range sites {
		switch user.NotificationSetting(site.ID) {
		case model.NotifyNone:
			continue
		case model.NotifyBuilds:
			socket.Join(SiteUserRoom(site.ID, user.ID))
		default:
			socket.Join(SiteRoom(site.ID))
		}
	}

	s.logger.Debugw("Socket joined rooms", "socket", socket.ID(), "user", user.ID, "rooms", len(socket.Rooms()))
	return nil
}
