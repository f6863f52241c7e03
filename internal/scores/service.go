// Package scores ties the data API, the scoring engine, and the cache
// together. Every read is cache-first with singleflight collapsing, so a
// burst of dashboard requests costs one upstream round trip.
package scores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/curator"
	"github.com/vaultline/vaultline-backend/internal/metrics"
	"github.com/vaultline/vaultline-backend/internal/risk"
	"github.com/vaultline/vaultline-backend/internal/store"
	"github.com/vaultline/vaultline-backend/internal/util"
)

// ErrUnsupportedVersion is returned for vault versions other than v1 and v2.
var ErrUnsupportedVersion = errors.New("unsupported vault version")

// MarketData is the slice of the data API client the service consumes.
type MarketData interface {
	MarketByKey(ctx context.Context, key string) (risk.Market, error)
	Markets(ctx context.Context) ([]risk.Market, error)
	VaultV1(ctx context.Context, address string) (risk.VaultAllocations, error)
	VaultV2(ctx context.Context, address string) (risk.VaultAllocations, error)
}

// ScoreEvent is the message published to the score stream on every refresh.
type ScoreEvent struct {
	Scope     string     `json:"scope"`
	Key       string     `json:"key"`
	Version   string     `json:"version,omitempty"`
	Composite float64    `json:"composite"`
	Grade     risk.Grade `json:"grade"`
	At        time.Time  `json:"at"`
}

type Service struct {
	data    MarketData
	engine  *risk.Engine
	cache   *store.Cache
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	scoreTTL  time.Duration
	marketTTL time.Duration

	sf util.Group
}

func NewService(data MarketData, engine *risk.Engine, cache *store.Cache, scoreTTL, marketTTL time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *Service {
	if scoreTTL <= 0 {
		scoreTTL = 30 * time.Second
	}
	if marketTTL <= 0 {
		marketTTL = 15 * time.Second
	}
	return &Service{
		data:      data,
		engine:    engine,
		cache:     cache,
		logger:    logger,
		metrics:   m,
		scoreTTL:  scoreTTL,
		marketTTL: marketTTL,
	}
}

// ListMarkets returns the current market snapshot for the configured chain.
func (s *Service) ListMarkets(ctx context.Context) ([]risk.Market, error) {
	var cached []risk.Market
	if err := s.cache.GetMarketList(ctx, &cached); err == nil {
		return cached, nil
	} else if err != store.ErrCacheMiss {
		s.logger.Warnw("Market list cache read failed", "error", err)
	}

	v, err, _ := s.sf.DoWithContext(ctx, "markets:list", func(ctx context.Context) (interface{}, error) {
		markets, err := s.data.Markets(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetMarketList(ctx, markets, s.marketTTL); err != nil {
			s.logger.Warnw("Market list cache write failed", "error", err)
		}
		return markets, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]risk.Market), nil
}

// GetMarket returns one market's normalized snapshot.
func (s *Service) GetMarket(ctx context.Context, key string) (risk.Market, error) {
	var cached risk.Market
	if err := s.cache.GetMarket(ctx, key, &cached); err == nil {
		return cached, nil
	} else if err != store.ErrCacheMiss {
		s.logger.Warnw("Market cache read failed", "key", key, "error", err)
	}

	v, err, _ := s.sf.DoWithContext(ctx, "market:"+key, func(ctx context.Context) (interface{}, error) {
		market, err := s.data.MarketByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetMarket(ctx, key, market, s.marketTTL); err != nil {
			s.logger.Warnw("Market cache write failed", "key", key, "error", err)
		}
		return market, nil
	})
	if err != nil {
		return risk.Market{}, err
	}
	return v.(risk.Market), nil
}

// GetMarketScore scores one market, serving from cache when fresh.
func (s *Service) GetMarketScore(ctx context.Context, key string) (risk.MarketScore, error) {
	var cached risk.MarketScore
	if err := s.cache.GetMarketScore(ctx, key, &cached); err == nil {
		return cached, nil
	} else if err != store.ErrCacheMiss {
		s.logger.Warnw("Market score cache read failed", "key", key, "error", err)
	}

	v, err, _ := s.sf.DoWithContext(ctx, "score:market:"+key, func(ctx context.Context) (interface{}, error) {
		market, err := s.GetMarket(ctx, key)
		if err != nil {
			return nil, err
		}

		score := s.engine.ScoreMarket(ctx, market)
		if s.metrics != nil {
			s.metrics.RecordScoreComputed(ctx, "market")
		}
		if err := s.cache.SetMarketScore(ctx, key, score, s.scoreTTL); err != nil {
			s.logger.Warnw("Market score cache write failed", "key", key, "error", err)
		}
		return score, nil
	})
	if err != nil {
		return risk.MarketScore{}, err
	}
	return v.(risk.MarketScore), nil
}

// GetVaultScore scores a vault's whole allocation graph, serving from cache
// when fresh. Version is v1 or v2; empty defaults to v1.
func (s *Service) GetVaultScore(ctx context.Context, address, version string) (risk.VaultScore, error) {
	version, err := normalizeVersion(version)
	if err != nil {
		return risk.VaultScore{}, err
	}

	var cached risk.VaultScore
	if err := s.cache.GetVaultScore(ctx, version, address, &cached); err == nil {
		return cached, nil
	} else if err != store.ErrCacheMiss {
		s.logger.Warnw("Vault score cache read failed", "address", address, "error", err)
	}

	return s.computeVaultScore(ctx, address, version)
}

// RefreshVaultScore recomputes a vault score, bypassing the cached copy, and
// publishes the result to the score stream. The publisher job drives this.
func (s *Service) RefreshVaultScore(ctx context.Context, address, version string) (risk.VaultScore, error) {
	version, err := normalizeVersion(version)
	if err != nil {
		return risk.VaultScore{}, err
	}

	score, err := s.computeVaultScore(ctx, address, version)
	if err != nil {
		return risk.VaultScore{}, err
	}

	event := ScoreEvent{
		Scope:     "vault",
		Key:       address,
		Version:   version,
		Composite: score.Composite,
		Grade:     score.Grade,
		At:        time.Now().UTC(),
	}
	if err := s.cache.Publish(ctx, store.ChannelScores, event); err != nil {
		s.logger.Warnw("Score event publish failed", "address", address, "error", err)
	}
	return score, nil
}

func (s *Service) computeVaultScore(ctx context.Context, address, version string) (risk.VaultScore, error) {
	v, err, _ := s.sf.DoWithContext(ctx, fmt.Sprintf("score:vault:%s:%s", version, address), func(ctx context.Context) (interface{}, error) {
		vault, err := s.fetchVault(ctx, address, version)
		if err != nil {
			return nil, err
		}

		score := s.engine.ScoreVault(ctx, vault)
		if s.metrics != nil {
			s.metrics.RecordScoreComputed(ctx, "vault")
		}
		if err := s.cache.SetVaultScore(ctx, version, address, score, s.scoreTTL); err != nil {
			s.logger.Warnw("Vault score cache write failed", "address", address, "error", err)
		}
		return score, nil
	})
	if err != nil {
		return risk.VaultScore{}, err
	}
	return v.(risk.VaultScore), nil
}

func (s *Service) fetchVault(ctx context.Context, address, version string) (risk.VaultAllocations, error) {
	if version == "v2" {
		return s.data.VaultV2(ctx, address)
	}
	return s.data.VaultV1(ctx, address)
}

// RateMarket computes the curator rating for one market. Ratings computed
// with request-specific overrides skip the cache on both sides so they never
// shadow the default-parameter rating.
func (s *Service) RateMarket(ctx context.Context, key string, cfg curator.Config, cacheable bool) (curator.Rating, error) {
	if cacheable {
		var cached curator.Rating
		if err := s.cache.GetRating(ctx, key, &cached); err == nil {
			return cached, nil
		} else if err != store.ErrCacheMiss {
			s.logger.Warnw("Rating cache read failed", "key", key, "error", err)
		}
	}

	market, err := s.GetMarket(ctx, key)
	if err != nil {
		return curator.Rating{}, err
	}

	rating := curator.Rate(market, cfg)
	if s.metrics != nil {
		s.metrics.RecordScoreComputed(ctx, "rating")
	}
	if cacheable {
		if err := s.cache.SetRating(ctx, key, rating, s.scoreTTL); err != nil {
			s.logger.Warnw("Rating cache write failed", "key", key, "error", err)
		}
	}
	return rating, nil
}

func normalizeVersion(version string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(version)) {
	case "", "v1":
		return "v1", nil
	case "v2":
		return "v2", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}
}
