package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/store"
)

// SSEHandler streams score updates over Server-Sent Events for clients that
// cannot hold a WebSocket open.
type SSEHandler struct {
	cache          *store.Cache
	logger         *zap.SugaredLogger
	allowedOrigins []string
}

func NewSSEHandler(cache *store.Cache, logger *zap.SugaredLogger, allowedOrigins []string) *SSEHandler {
	return &SSEHandler{
		cache:          cache,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

// HandleSSE streams updates for the requested topics. Topics come from the
// "topics" query parameter as a comma-separated list and default to scores.
func (s *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if origin := s.matchOrigin(r); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	topics := parseTopics(r)
	channels := topicChannels(topics)
	if len(channels) == 0 {
		channels = []string{store.ChannelScores}
	}

	ctx := r.Context()

	pubsub := s.cache.Subscribe(ctx, channels...)
	if pubsub != nil {
		defer pubsub.Close()
		s.streamRedis(w, r, flusher, pubsub, topics)
		return
	}

	if s.cache.IsInMemoryMode() {
		sub := s.cache.SubscribeInMemory(ctx, channels...)
		if sub != nil {
			defer sub.Close()
			s.streamInMemory(w, r, flusher, sub, topics)
			return
		}
	}

	// No pubsub backend; acknowledge the connection so clients can back off
	// politely instead of hammering reconnects.
	s.logger.Warnw("SSE requested but no pubsub available")
	s.sendConnected(w, flusher, topics)
	<-ctx.Done()
}

func (s *SSEHandler) matchOrigin(r *http.Request) string {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return ""
	}
	for _, candidate := range s.allowedOrigins {
		if candidate == "*" || candidate == origin {
			return origin
		}
	}
	return ""
}

func parseTopics(r *http.Request) []string {
	raw := r.URL.Query().Get("topics")
	if raw == "" {
		return []string{TopicScores}
	}

	var topics []string
	for _, topic := range strings.Split(raw, ",") {
		topic = strings.TrimSpace(topic)
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	if len(topics) == 0 {
		return []string{TopicScores}
	}
	return topics
}

// topicChannels maps logical topics to pubsub channels, dropping topics with
// no backing channel.
func topicChannels(topics []string) []string {
	seen := make(map[string]bool)
	var channels []string
	for _, topic := range topics {
		var channel string
		switch topic {
		case TopicScores:
			channel = store.ChannelScores
		default:
			continue
		}
		if !seen[channel] {
			seen[channel] = true
			channels = append(channels, channel)
		}
	}
	return channels
}

func channelEventType(channel string) string {
	if channel == store.ChannelScores {
		return "score_update"
	}
	return "update"
}

func (s *SSEHandler) streamRedis(w http.ResponseWriter, r *http.Request, flusher http.Flusher, pubsub *redis.PubSub, topics []string) {
	s.sendConnected(w, flusher, topics)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ch := pubsub.Channel()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			s.sendHeartbeat(w, flusher)
		case msg := <-ch:
			if msg != nil {
				s.sendEvent(w, flusher, channelEventType(msg.Channel), msg.Payload)
			}
		}
	}
}

func (s *SSEHandler) streamInMemory(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sub *store.Subscription, topics []string) {
	s.sendConnected(w, flusher, topics)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			s.sendHeartbeat(w, flusher)
		case msg := <-ch:
			if msg != nil {
				s.sendEvent(w, flusher, channelEventType(msg.Channel), msg.Payload)
			}
		}
	}
}

func (s *SSEHandler) sendConnected(w http.ResponseWriter, flusher http.Flusher, topics []string) {
	payload, err := json.Marshal(map[string]any{
		"topics": topics,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	s.sendEvent(w, flusher, "connected", string(payload))
}

func (s *SSEHandler) sendHeartbeat(w http.ResponseWriter, flusher http.Flusher) {
	s.sendEvent(w, flusher, "heartbeat", fmt.Sprintf(`{"time":%d}`, time.Now().Unix()))
}

func (s *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType, data string) {
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
