package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxCommandSize = 1024
	sendBuffer     = 64
)

// Authorizer decides whether a user may subscribe to a conversation channel.
type Authorizer interface {
	CanAccessThread(ctx context.Context, userID, threadID string) bool
}

type command struct {
	Action  string `json:"action"` // subscribe or unsubscribe
	Channel string `json:"channel"`
}

// Hub is the websocket Publisher. Each connection is subscribed to its user channel and may join
// conversation channels it is authorized for.
type Hub struct {
	logger   *zap.Logger
	auth     Authorizer
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	channels map[string]map[*client]struct{}
	clients  map[*client]struct{}

	dropped atomic.Int64
}

type client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
	subs   map[string]struct{} // guarded by hub.mu
}

func NewHub(auth Authorizer, logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		auth:   auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from the platform's own origin; tokens gate access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		channels: make(map[string]map[*client]struct{}),
		clients:  make(map[*client]struct{}),
	}
}

// Publish encodes the event once and queues it for every subscriber of channel.
// A subscriber whose queue is full misses the event.
func (h *Hub) Publish(channel, event string, payload any) {
	data, err := json.Marshal(Event{Channel: channel, Event: event, Payload: payload})
	if err != nil {
		h.logger.Error("Failed to encode realtime event", zap.Error(err), zap.String("channel", channel), zap.String("event", event))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			h.logger.Warn("Dropped realtime event for slow subscriber",
				zap.String("channel", channel),
				zap.String("event", event),
				zap.String("user_id", c.userID))
		}
	}
}

// Dropped counts events discarded because a subscriber queue was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribers reports how many connections listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// ServeWS upgrades the request and serves an authenticated user until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err), zap.String("user_id", userID))
		return
	}

	c := &client{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		subs:   make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.subscribeLocked(c, UserChannel(userID))
	h.mu.Unlock()

	h.logger.Debug("Realtime client connected", zap.String("user_id", userID))
	c.reply("connected", UserChannel(userID))

	go c.writePump()
	c.readPump(r.Context())
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (h *Hub) subscribeLocked(c *client, channel string) {
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*client]struct{})
		h.channels[channel] = subs
	}
	subs[c] = struct{}{}
	c.subs[channel] = struct{}{}
}

func (h *Hub) unsubscribeLocked(c *client, channel string) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(c.subs, channel)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for channel := range c.subs {
		h.unsubscribeLocked(c, channel)
	}
	delete(h.clients, c)
	// Publish holds the read lock while sending, so closing under the write lock is safe.
	close(c.send)
}

func (h *Hub) authorize(ctx context.Context, userID, channel string) bool {
	if channel == UserChannel(userID) {
		return true
	}
	threadID, ok := strings.CutPrefix(channel, "conversation_")
	if !ok || threadID == "" || h.auth == nil {
		return false
	}
	return h.auth.CanAccessThread(ctx, userID, threadID)
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.hub.logger.Debug("Realtime client disconnected", zap.String("user_id", c.userID))
	}()

	c.conn.SetReadLimit(maxCommandSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Realtime read failed", zap.Error(err), zap.String("user_id", c.userID))
			}
			return
		}
		c.handle(ctx, cmd)
	}
}

func (c *client) handle(ctx context.Context, cmd command) {
	switch cmd.Action {
	case "subscribe":
		if !c.hub.authorize(ctx, c.userID, cmd.Channel) {
			c.reply("error", cmd.Channel)
			return
		}
		c.hub.mu.Lock()
		c.hub.subscribeLocked(c, cmd.Channel)
		c.hub.mu.Unlock()
		c.reply("subscribed", cmd.Channel)
	case "unsubscribe":
		if cmd.Channel == UserChannel(c.userID) {
			c.reply("error", cmd.Channel)
			return
		}
		c.hub.mu.Lock()
		c.hub.unsubscribeLocked(c, cmd.Channel)
		c.hub.mu.Unlock()
		c.reply("unsubscribed", cmd.Channel)
	default:
		c.reply("error", cmd.Channel)
	}
}

// reply queues a control event for this client only.
func (c *client) reply(event, channel string) {
	data, err := json.Marshal(Event{Channel: channel, Event: event})
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
