package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/metrics"
)

// ErrCacheMiss is returned when a key is absent from the cache.
var ErrCacheMiss = fmt.Errorf("cache miss")

// Cache fronts computed scores and market snapshots. It prefers Redis so
// multiple instances share one cache and one pubsub bus; when Redis is
// unreachable at startup it degrades to a per-instance in-memory store with
// an in-process pubsub hub.
type Cache struct {
	client   *redis.Client
	fallback *memoryStore
	hub      *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewCache(addr string, logger *zap.SugaredLogger, metrics *metrics.Metrics) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warnw("Redis unavailable; using in-memory cache with in-process pubsub", "error", err)
		}
		return &Cache{
			fallback: newMemoryStore(time.Minute),
			hub:      NewPubSubHub(),
			logger:   logger,
			metrics:  metrics,
		}, nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Cache key prefixes and pubsub channels.
const (
	KeyMarketList  = "vl:markets:list"
	KeyMarket      = "vl:market"
	KeyMarketScore = "vl:score:market"
	KeyVaultScore  = "vl:score:vault"
	KeyRating      = "vl:rating"

	ChannelScores = "vl:stream:scores"
)

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				if c.metrics != nil {
					c.metrics.RecordCacheMiss(ctx, key)
				}
				return ErrCacheMiss
			}
			if c.logger != nil {
				c.logger.Errorw("Cache get error", "key", key, "error", err)
			}
			return fmt.Errorf("cache get error: %w", err)
		}
		if c.metrics != nil {
			c.metrics.RecordCacheHit(ctx, key)
		}
		if err := json.Unmarshal([]byte(val), dest); err != nil {
			return fmt.Errorf("cache unmarshal error: %w", err)
		}
		return nil
	}

	data, ok := c.fallback.Get(key)
	if !ok {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(ctx, key)
		}
		return ErrCacheMiss
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Cache set error", "key", key, "error", err)
			}
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	c.fallback.Set(key, data, ttl)
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
			}
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	c.fallback.Delete(keys...)
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client != nil {
		count, err := c.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("cache exists error: %w", err)
		}
		return count > 0, nil
	}
	return c.fallback.Exists(key), nil
}

// Score and market helpers.

func (c *Cache) GetMarketList(ctx context.Context, dest interface{}) error {
	return c.Get(ctx, KeyMarketList, dest)
}

func (c *Cache) SetMarketList(ctx context.Context, value interface{}, ttl time.Duration) error {
	return c.Set(ctx, KeyMarketList, value, ttl)
}

func (c *Cache) GetMarket(ctx context.Context, key string, dest interface{}) error {
	return c.Get(ctx, fmt.Sprintf("%s:%s", KeyMarket, key), dest)
}

func (c *Cache) SetMarket(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Set(ctx, fmt.Sprintf("%s:%s", KeyMarket, key), value, ttl)
}

func (c *Cache) GetMarketScore(ctx context.Context, key string, dest interface{}) error {
	return c.Get(ctx, fmt.Sprintf("%s:%s", KeyMarketScore, key), dest)
}

func (c *Cache) SetMarketScore(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Set(ctx, fmt.Sprintf("%s:%s", KeyMarketScore, key), value, ttl)
}

func (c *Cache) GetVaultScore(ctx context.Context, version, address string, dest interface{}) error {
	return c.Get(ctx, fmt.Sprintf("%s:%s:%s", KeyVaultScore, version, address), dest)
}

func (c *Cache) SetVaultScore(ctx context.Context, version, address string, value interface{}, ttl time.Duration) error {
	return c.Set(ctx, fmt.Sprintf("%s:%s:%s", KeyVaultScore, version, address), value, ttl)
}

func (c *Cache) GetRating(ctx context.Context, key string, dest interface{}) error {
	return c.Get(ctx, fmt.Sprintf("%s:%s", KeyRating, key), dest)
}

func (c *Cache) SetRating(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Set(ctx, fmt.Sprintf("%s:%s", KeyRating, key), value, ttl)
}

// Publish fans a message out to score-stream subscribers, over Redis when
// available, otherwise through the in-process hub. String and []byte payloads
// pass through untouched; everything else is JSON-marshaled.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	var data []byte
	switch payload := message.(type) {
	case []byte:
		data = payload
	case string:
		data = []byte(payload)
	default:
		encoded, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("pubsub marshal error: %w", err)
		}
		data = encoded
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Publish error", "channel", channel, "error", err)
			}
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	if c.hub != nil {
		c.hub.Publish(channel, string(data))
		if c.logger != nil {
			c.logger.Debugw("Published to in-process pubsub", "channel", channel)
		}
	}
	return nil
}

// Subscribe returns a Redis subscription, or nil in in-memory mode; callers
// fall back to SubscribeInMemory then.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	if c.client != nil {
		return c.client.Subscribe(ctx, channels...)
	}
	return nil
}

// SubscribeInMemory subscribes through the in-process hub.
func (c *Cache) SubscribeInMemory(ctx context.Context, channels ...string) *Subscription {
	if c.hub != nil {
		return c.hub.Subscribe(ctx, channels...)
	}
	return nil
}

// IsInMemoryMode reports whether the cache fell back to the in-memory store.
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.fallback != nil {
		c.fallback.Close()
	}
	return nil
}
