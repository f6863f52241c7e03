package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/registry"
	"github.com/vaultline/vaultline-backend/internal/risk"
)

// ScoreRefresher recomputes a vault score and publishes the resulting event.
type ScoreRefresher interface {
	RefreshVaultScore(ctx context.Context, address, version string) (risk.VaultScore, error)
}

// VaultSource lists the vaults the publisher keeps fresh.
type VaultSource interface {
	List() []registry.Vault
}

// ScorePublisher periodically rescores watchlist vaults so dashboards see
// fresh composites without waiting for a request to warm the cache.
type ScorePublisher struct {
	vaults  VaultSource
	refresh ScoreRefresher
	logger  *zap.SugaredLogger
	config  ScorePublisherConfig

	mu        sync.Mutex
	stopped   bool
	cancelCtx context.CancelFunc
}

type ScorePublisherConfig struct {
	Interval        time.Duration // How often to rescore the watchlist
	PerVaultTimeout time.Duration // Budget for a single vault refresh
}

func DefaultScorePublisherConfig() ScorePublisherConfig {
	return ScorePublisherConfig{
		Interval:        30 * time.Second,
		PerVaultTimeout: 15 * time.Second,
	}
}

func NewScorePublisher(vaults VaultSource, refresh ScoreRefresher, logger *zap.SugaredLogger, config ScorePublisherConfig) *ScorePublisher {
	if config.Interval <= 0 {
		config.Interval = DefaultScorePublisherConfig().Interval
	}
	if config.PerVaultTimeout <= 0 {
		config.PerVaultTimeout = DefaultScorePublisherConfig().PerVaultTimeout
	}

	return &ScorePublisher{
		vaults:  vaults,
		refresh: refresh,
		logger:  logger,
		config:  config,
	}
}

func (p *ScorePublisher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		cancel()
		return context.Canceled
	}
	p.cancelCtx = cancel
	p.mu.Unlock()

	watchlist := p.vaults.List()
	p.logger.Infow("Starting score publisher",
		"vaults", len(watchlist),
		"interval", p.config.Interval,
	)

	// Score once immediately so dashboards are not blank until the first tick.
	p.refreshAll(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Score publisher stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			p.refreshAll(ctx)
		}
	}
}

func (p *ScorePublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.cancelCtx != nil {
		p.cancelCtx()
		p.cancelCtx = nil
	}
}

// refreshAll rescores every watchlist vault. A failing vault is logged and
// skipped; one bad upstream answer must not starve the rest of the list.
func (p *ScorePublisher) refreshAll(ctx context.Context) {
	for _, vault := range p.vaults.List() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		vaultCtx, cancel := context.WithTimeout(ctx, p.config.PerVaultTimeout)
		score, err := p.refresh.RefreshVaultScore(vaultCtx, vault.Address, vault.Version)
		cancel()

		if err != nil {
			p.logger.Warnw("Failed to refresh vault score",
				"vault", vault.Address,
				"version", vault.Version,
				"error", err,
			)
			continue
		}

		p.logger.Debugw("Refreshed vault score",
			"vault", vault.Address,
			"version", vault.Version,
			"composite", score.Composite,
			"grade", score.Grade,
		)
	}
}
