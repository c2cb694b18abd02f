package socket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/model"
)

// BuildStatusEvent is the event name clients listen on for build updates.
const BuildStatusEvent = "build status"

const (
	textMessage = 1
	sendBuffer  = 32
)

// Conn is the part of a websocket connection the hub uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Message is the envelope written to clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub tracks connected clients and the rooms they joined.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	logger  *zap.SugaredLogger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		logger:  logger.Sugar(),
	}
}

// Client is a websocket connection registered with a hub. It implements Socket.
type Client struct {
	id      string
	userID  int64
	hasUser bool
	hub     *Hub
	conn    Conn
	send    chan []byte

	mu    sync.Mutex
	rooms map[string]struct{}
}

var _ Socket = (*Client)(nil)

// Register adds a connection to the hub. userID is nil for anonymous connections.
func (h *Hub) Register(conn Conn, userID *int64) *Client {
	c := &Client{
		id:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]struct{}),
	}
	if userID != nil {
		c.userID, c.hasUser = *userID, true
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// ID returns the client's unique id.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user, if any.
func (c *Client) UserID() (int64, bool) { return c.userID, c.hasUser }

// Join places the client in room.
func (c *Client) Join(room string) {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

// Rooms lists the rooms the client is in.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Serve pumps messages to the connection until the peer disconnects or ctx is done, then
// unregisters the client. Incoming messages are ignored.
func (c *Client) Serve(ctx context.Context) {
	writerDone := make(chan struct{})
	go c.writePump(writerDone)

	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-stop:
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}

	close(stop)
	<-watcherDone
	c.hub.remove(c)
	<-writerDone
	c.conn.Close()
}

func (c *Client) writePump(done chan<- struct{}) {
	defer close(done)
	for msg := range c.send {
		if err := c.conn.WriteMessage(textMessage, msg); err != nil {
			c.hub.logger.Debugw("Websocket write failed", "socket", c.id, "error", err)
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.mu.Lock()
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.mu.Unlock()
	close(c.send)
}

// Broadcast sends an event to every client in room. Slow clients whose buffer is full miss
// the event.
func (h *Hub) Broadcast(room, event string, data interface{}) error {
	payload, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- payload:
		default:
			h.logger.Warnw("Dropping event for slow socket", "socket", c.id, "room", room)
		}
	}
	return nil
}

// EmitBuildStatus notifies the site room and, for builds with a user, the user's site room.
func (h *Hub) EmitBuildStatus(build *model.Build) {
	event := *build
	event.Token = ""

	if err := h.Broadcast(SiteRoom(build.SiteID), BuildStatusEvent, event); err != nil {
		h.logger.Errorw("Failed to broadcast build status", "build", build.ID, "error", err)
		return
	}
	if build.UserID != nil {
		if err := h.Broadcast(SiteUserRoom(build.SiteID, *build.UserID), BuildStatusEvent, event); err != nil {
			h.logger.Errorw("Failed to broadcast build status", "build", build.ID, "error", err)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
