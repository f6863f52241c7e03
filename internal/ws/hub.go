// Package ws pushes live score updates to dashboard clients over WebSocket
// and SSE. Both transports drain the same pubsub channels; clients pick
// topics, the hub fans out.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/metrics"
	"github.com/vaultline/vaultline-backend/internal/store"
)

// TopicScores is the logical topic clients subscribe to for score updates.
const TopicScores = "scores"

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	cache      *store.Cache
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	topics     map[string]bool
	topicsMu   sync.RWMutex
	lastActive atomic.Int64
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().Unix())
}

func (c *Client) subscribed(topic string) bool {
	c.topicsMu.RLock()
	defer c.topicsMu.RUnlock()
	return c.topics[topic]
}

// Message is the envelope pushed to WebSocket clients.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type subscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

func NewHub(cache *store.Cache, logger *zap.SugaredLogger, m *metrics.Metrics, allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cache:      cache,
		logger:     logger,
		metrics:    m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allows configured origins plus same-origin requests, which
// arrive with no Origin header.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if candidate == "*" || candidate == origin {
				return true
			}
		}
		return false
	}
}

func (h *Hub) Run(ctx context.Context) {
	go h.drainScoreStream(ctx)
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.IncrementConnections(ctx)
			}
			h.logger.Debugw("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.DecrementConnections(ctx)
			}
			h.logger.Debugw("Client unregistered")
		}
	}
}

// drainScoreStream forwards score events from the pubsub bus to subscribed
// clients, preferring Redis and falling back to the in-process hub.
func (h *Hub) drainScoreStream(ctx context.Context) {
	channels := []string{store.ChannelScores}

	pubsub := h.cache.Subscribe(ctx, channels...)
	if pubsub != nil {
		defer pubsub.Close()
		h.drainRedis(ctx, pubsub)
		return
	}

	if h.cache.IsInMemoryMode() {
		sub := h.cache.SubscribeInMemory(ctx, channels...)
		if sub != nil {
			defer sub.Close()
			h.logger.Debugw("Using in-process pubsub for WebSocket hub", "channels", channels)
			h.drainInMemory(ctx, sub)
			return
		}
	}

	h.logger.Warnw("No pubsub available; WebSocket updates disabled")
}

func (h *Hub) drainRedis(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg != nil {
				h.forward(msg.Channel, msg.Payload)
			}
		}
	}
}

func (h *Hub) drainInMemory(ctx context.Context, sub *store.Subscription) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg != nil {
				h.forward(msg.Channel, msg.Payload)
			}
		}
	}
}

// forward wraps a pubsub payload in the client envelope and broadcasts it to
// clients subscribed to the matching topic.
func (h *Hub) forward(channel, payload string) {
	topic := channelTopic(channel)

	envelope := Message{
		Type:      "update",
		Topic:     topic,
		Data:      json.RawMessage(payload),
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.subscribed(topic) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow consumer; drop it rather than stalling the stream.
			h.dropLocked(client)
		}
	}
}

// dropLocked removes a client outside the unregister channel. Callers hold
// h.mu.
func (h *Hub) dropLocked(client *Client) {
	delete(h.clients, client)
	close(client.send)
	if h.metrics != nil {
		h.metrics.DecrementConnections(context.Background())
	}
}

func channelTopic(channel string) string {
	if channel == store.ChannelScores {
		return TopicScores
	}
	return channel
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients()
		}
	}
}

func (h *Hub) cleanupInactiveClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-60 * time.Second).Unix()

	for client := range h.clients {
		if client.lastActive.Load() < cutoff {
			h.dropLocked(client)
			h.logger.Debugw("Cleaned up inactive client")
		}
	}
}

// HandleWebSocket upgrades the connection and registers the client. New
// clients start subscribed to the scores topic; they can adjust with
// subscribe/unsubscribe messages.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		topics: map[string]bool{TopicScores: true},
	}
	client.touch()

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			break
		}

		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce whatever queued up behind this message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var sub subscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	switch sub.Type {
	case "subscribe":
		c.topicsMu.Lock()
		for _, topic := range sub.Topics {
			c.topics[topic] = true
		}
		c.topicsMu.Unlock()
		c.hub.logger.Debugw("Client subscribed to topics", "topics", sub.Topics)

	case "unsubscribe":
		c.topicsMu.Lock()
		for _, topic := range sub.Topics {
			delete(c.topics, topic)
		}
		c.topicsMu.Unlock()
		c.hub.logger.Debugw("Client unsubscribed from topics", "topics", sub.Topics)
	}
}
