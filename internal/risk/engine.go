package risk

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OracleResolver reports the last update time for a market's oracle. A false
// return means the timestamp could not be resolved; the caller falls back to
// the opaque tier.
type OracleResolver interface {
	OracleTimestamp(ctx context.Context, oracle OracleRef) (time.Time, bool)
}

// TargetResolver reports an interest-rate model's configured target ("kink")
// utilization. A false return means the caller should use the fallback
// constant.
type TargetResolver interface {
	TargetUtilization(ctx context.Context, irmAddress string) (float64, bool)
}

// Engine scores markets and walks vault allocation graphs. It is stateless
// across calls; resolver failures degrade the affected market's score and
// never abort sibling markets.
type Engine struct {
	cfg     Config
	oracles OracleResolver
	targets TargetResolver
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewEngine(cfg Config, oracles OracleResolver, targets TargetResolver, logger *zap.SugaredLogger) *Engine {
	if cfg.MaxConcurrentMarkets <= 0 {
		cfg.MaxConcurrentMarkets = DefaultConfig().MaxConcurrentMarkets
	}
	return &Engine{
		cfg:     cfg,
		oracles: oracles,
		targets: targets,
		logger:  logger,
		now:     time.Now,
	}
}

// ScoreMarket computes the four component scores, the composite, and the
// grade for one market. The oracle and IRM lookups are independent blocking
// reads, so they run concurrently and join before scoring.
func (e *Engine) ScoreMarket(ctx context.Context, m Market) MarketScore {
	var (
		wg       sync.WaitGroup
		age      time.Duration
		resolved bool
		target   float64
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		age, resolved = e.resolveOracleAge(ctx, m.Oracle)
	}()
	go func() {
		defer wg.Done()
		target = e.resolveTarget(ctx, m.IRMAddress)
	}()
	wg.Wait()

	stress := e.cfg.Stress(m)
	components := ComponentScores{
		Oracle:      OracleScore(age, resolved),
		Utilization: UtilizationScore(m.State.Utilization, target),
		Headroom:    HeadroomScore(stress.HeadroomUSD, m.State.BorrowUSD),
		Coverage:    CoverageScore(stress),
	}
	composite := Composite(components)

	return MarketScore{
		MarketKey:  m.Key,
		Components: components,
		Composite:  composite,
		Grade:      e.cfg.gradeWithOverride(composite, m.State.BadDebtUSD),
		BadDebtUSD: m.State.BadDebtUSD,
	}
}

// ScoreVault aggregates a vault's allocation graph. V2 vaults route through
// adapters (dispatched on the adapter kind, with vault adapters recursing one
// level); everything else aggregates its market allocations directly.
func (e *Engine) ScoreVault(ctx context.Context, v VaultAllocations) VaultScore {
	out := VaultScore{
		Address:        v.Address,
		Name:           v.Name,
		Version:        v.Version,
		TotalAssetsUSD: v.TotalAssetsUSD,
	}

	if len(v.Adapters) > 0 {
		out.Adapters = make([]AdapterScore, len(v.Adapters))
		for i, adapter := range v.Adapters {
			out.Adapters[i] = e.scoreAdapter(ctx, adapter)
		}
		SortAdapterScores(out.Adapters)
		out.Composite, out.Grade = weightedAggregate(adapterEntries(out.Adapters))
		return out
	}

	out.Markets = e.scoreAllocations(ctx, v.Allocations)
	SortMarketScores(out.Markets)
	out.Composite, out.Grade = weightedAggregate(marketEntries(out.Markets))
	return out
}

// scoreAdapter dispatches on the adapter variant. A vault adapter wraps
// another vault and reuses the vault aggregation one level deeper; a markets
// adapter aggregates its positions directly. An adapter with an unknown kind
// or missing payload lands on the empty-aggregate floor.
func (e *Engine) scoreAdapter(ctx context.Context, a Adapter) AdapterScore {
	out := AdapterScore{
		Address:       a.Address,
		Kind:          a.Kind,
		AllocationUSD: a.AllocationUSD,
	}

	switch {
	case a.Kind == AdapterVault && a.Vault != nil:
		nested := e.ScoreVault(ctx, *a.Vault)
		out.Vault = &nested
		out.Composite = nested.Composite
		out.Grade = nested.Grade
	case a.Kind == AdapterMarkets:
		out.Markets = e.scoreAllocations(ctx, a.Allocations)
		SortMarketScores(out.Markets)
		out.Composite, out.Grade = weightedAggregate(marketEntries(out.Markets))
	default:
		if e.logger != nil {
			e.logger.Warnw("Unknown adapter variant, scoring as empty",
				"adapter", a.Address,
				"kind", a.Kind,
			)
		}
		out.Composite, out.Grade = 0, GradeF
	}
	return out
}

// scoreAllocations scores a slice of legs with a bounded fan-out. Workers
// never return errors; resolution failures degrade the affected leg via the
// documented fallbacks.
func (e *Engine) scoreAllocations(ctx context.Context, legs []Allocation) []MarketScore {
	scores := make([]MarketScore, len(legs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentMarkets)
	for i, leg := range legs {
		g.Go(func() error {
			scores[i] = e.scoreAllocation(gctx, leg)
			return nil
		})
	}
	_ = g.Wait()

	return scores
}

func (e *Engine) scoreAllocation(ctx context.Context, leg Allocation) MarketScore {
	if e.cfg.IsIdle(leg) {
		return MarketScore{
			MarketKey:     leg.Market.Key,
			Idle:          true,
			AllocationUSD: leg.AmountUSD,
		}
	}
	score := e.ScoreMarket(ctx, leg.Market)
	score.AllocationUSD = leg.AmountUSD
	return score
}

// resolveOracleAge turns the oracle reference into an age. No resolvable
// address at all short-circuits to unresolved without a lookup.
func (e *Engine) resolveOracleAge(ctx context.Context, oracle OracleRef) (time.Duration, bool) {
	if oracle.Address == "" && oracle.BaseFeed == "" && oracle.QuoteFeed == "" {
		return 0, false
	}
	if e.oracles == nil {
		return 0, false
	}
	ts, ok := e.oracles.OracleTimestamp(ctx, oracle)
	if !ok || ts.IsZero() {
		return 0, false
	}
	age := e.now().Sub(ts)
	if age < 0 {
		age = 0
	}
	return age, true
}

// resolveTarget never fails: a null address, an unusable value, or a failed
// read all land on the fallback target utilization.
func (e *Engine) resolveTarget(ctx context.Context, irmAddress string) float64 {
	if irmAddress == "" || e.targets == nil {
		return e.cfg.FallbackTargetUtilization
	}
	target, ok := e.targets.TargetUtilization(ctx, irmAddress)
	if !ok || target <= 0 || target > 1 {
		return e.cfg.FallbackTargetUtilization
	}
	return target
}
