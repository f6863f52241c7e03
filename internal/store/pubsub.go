package store

import (
	"context"
	"sync"
)

// Message is one payload delivered through the in-process pubsub.
type Message struct {
	Channel string
	Payload string
}

// Subscription receives messages for a fixed set of channels. It mirrors the
// shape of redis.PubSub closely enough that consumers can drain either.
type Subscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newSubscription(channels []string) *Subscription {
	channelMap := make(map[string]bool, len(channels))
	for _, ch := range channels {
		channelMap[ch] = true
	}

	return &Subscription{
		channels: channelMap,
		msgChan:  make(chan *Message, 100),
		closeCh:  make(chan struct{}),
	}
}

// Channel returns the message channel.
func (s *Subscription) Channel() <-chan *Message {
	return s.msgChan
}

// Close tears the subscription down. Safe to call more than once.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.closeCh)
		close(s.msgChan)
	}
	return nil
}

func (s *Subscription) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// send delivers a message without blocking; a full buffer drops the message
// rather than stalling the publisher.
func (s *Subscription) send(msg *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.channels[msg.Channel] {
		return
	}

	select {
	case s.msgChan <- msg:
	default:
	}
}

// PubSubHub fans published messages out to in-process subscribers. It stands
// in for Redis pubsub when the cache runs in in-memory mode.
type PubSubHub struct {
	subscribers map[string][]*Subscription
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[string][]*Subscription),
	}
}

// Subscribe registers a new subscription for the given channels. The
// subscription is torn down when the context ends or Close is called.
func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) *Subscription {
	sub := newSubscription(channels)

	h.mu.Lock()
	for _, channel := range channels {
		h.subscribers[channel] = append(h.subscribers[channel], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}

		h.mu.Lock()
		defer h.mu.Unlock()

		for _, channel := range channels {
			subscribers := h.subscribers[channel]
			for i, candidate := range subscribers {
				if candidate == sub {
					h.subscribers[channel] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(h.subscribers[channel]) == 0 {
				delete(h.subscribers, channel)
			}
		}
	}()

	return sub
}

// Publish sends a message to every current subscriber of the channel.
func (h *PubSubHub) Publish(channel, payload string) {
	h.mu.RLock()
	subscribers := make([]*Subscription, len(h.subscribers[channel]))
	copy(subscribers, h.subscribers[channel])
	h.mu.RUnlock()

	if len(subscribers) == 0 {
		return
	}

	msg := &Message{
		Channel: channel,
		Payload: payload,
	}

	for _, sub := range subscribers {
		sub.send(msg)
	}
}
