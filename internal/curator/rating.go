package curator

import (
	"math"

	"github.com/vaultline/vaultline-backend/internal/risk"
)

// Tier is the qualitative label a composite rating maps to.
type Tier string

const (
	TierPrime           Tier = "Prime"
	TierBalanced        Tier = "Balanced"
	TierWatch           Tier = "Watch"
	TierHighRisk        Tier = "High Risk"
	TierInsufficientTVL Tier = "Insufficient TVL"
)

// Components are the five sub-scores on the 0–100 display scale.
type Components struct {
	Utilization         float64 `json:"utilization"`
	RateAlignment       float64 `json:"rateAlignment"`
	StressExposure      float64 `json:"stressExposure"`
	WithdrawalLiquidity float64 `json:"withdrawalLiquidity"`
	LiquidationCapacity float64 `json:"liquidationCapacity"`
}

// Rating is the per-market curator rating. Rating is nil when the market's
// TVL is below the configured minimum; that sentinel is a distinct state from
// a genuinely low score and must never collapse to 0 downstream.
type Rating struct {
	MarketKey  string     `json:"marketKey"`
	Rating     *float64   `json:"rating"`
	Tier       Tier       `json:"tier"`
	Components Components `json:"components"`
	TVLUSD     float64    `json:"tvlUsd"`
}

// Rate scores one market against the curation policy. TVL below the
// configured minimum short-circuits to the insufficient-TVL sentinel.
func Rate(m risk.Market, cfg Config) Rating {
	tvl := m.State.SupplyUSD

	if tvl < cfg.MinTVLUSD {
		return Rating{
			MarketKey: m.Key,
			Tier:      TierInsufficientTVL,
			TVLUSD:    tvl,
		}
	}

	insolvency := risk.LiquidatableBorrow(m.State.CollateralUSD, m.State.BorrowUSD, m.LTV, cfg.PriceStress)

	components := Components{
		Utilization:         100 * utilizationComponent(m.State.Utilization, cfg.UtilizationCeiling),
		RateAlignment:       100 * rateAlignmentComponent(m.State.SupplyAPY, cfg.BenchmarkRate, cfg.RateEpsilon),
		StressExposure:      100 * stressExposureComponent(insolvency, tvl, cfg.InsolvencyTolerance),
		WithdrawalLiquidity: 100 * withdrawalLiquidityComponent(m.State.LiquidityUSD, tvl, cfg.MinWithdrawalLiquidity),
		LiquidationCapacity: 100 * liquidationCapacityComponent(m.State.LiquidityUSD, insolvency, cfg.LiquidityStress),
	}

	weighted := cfg.Weights.Utilization*components.Utilization +
		cfg.Weights.RateAlignment*components.RateAlignment +
		cfg.Weights.StressExposure*components.StressExposure +
		cfg.Weights.WithdrawalLiquidity*components.WithdrawalLiquidity +
		cfg.Weights.LiquidationCapacity*components.LiquidationCapacity
	composite := clampRating(weighted)

	return Rating{
		MarketKey:  m.Key,
		Rating:     &composite,
		Tier:       tierFor(composite),
		Components: components,
		TVLUSD:     tvl,
	}
}

func tierFor(rating float64) Tier {
	switch {
	case rating >= 85:
		return TierPrime
	case rating >= 70:
		return TierBalanced
	case rating >= 50:
		return TierWatch
	default:
		return TierHighRisk
	}
}

// utilizationComponent is 1 at or below the ceiling and falls linearly to 0
// as utilization approaches 100%.
func utilizationComponent(utilization, ceiling float64) float64 {
	if ceiling <= 0 || ceiling >= 1 {
		ceiling = DefaultConfig().UtilizationCeiling
	}
	u := math.Min(1, math.Max(0, utilization))
	if u <= ceiling {
		return 1
	}
	return clampUnit(1 - (u-ceiling)/(1-ceiling))
}

// rateAlignmentComponent is 1 within epsilon of the benchmark, 0 beyond twice
// epsilon, linear in between.
func rateAlignmentComponent(supplyRate, benchmark, epsilon float64) float64 {
	if epsilon <= 0 {
		epsilon = DefaultConfig().RateEpsilon
	}
	deviation := math.Abs(supplyRate - benchmark)
	if deviation <= epsilon {
		return 1
	}
	if deviation >= 2*epsilon {
		return 0
	}
	return clampUnit((2*epsilon - deviation) / epsilon)
}

// stressExposureComponent scores potential insolvency as a fraction of TVL
// against the configured tolerance.
func stressExposureComponent(insolvencyUSD, tvlUSD, tolerance float64) float64 {
	if insolvencyUSD <= 0 {
		return 1
	}
	if tvlUSD <= 0 {
		return 0
	}
	if tolerance <= 0 {
		tolerance = DefaultConfig().InsolvencyTolerance
	}
	return clampUnit(1 - (insolvencyUSD/tvlUSD)/tolerance)
}

// withdrawalLiquidityComponent compares available liquidity to the required
// exit floor.
func withdrawalLiquidityComponent(liquidityUSD, tvlUSD, minFraction float64) float64 {
	required := minFraction * tvlUSD
	if required <= 0 {
		return 1
	}
	if liquidityUSD <= 0 {
		return 0
	}
	return clampUnit(liquidityUSD / required)
}

// liquidationCapacityComponent compares post-stress liquidator capacity to
// the potential insolvency. Capacity at or above insolvency is maximal.
func liquidationCapacityComponent(liquidityUSD, insolvencyUSD, liquidityStress float64) float64 {
	if insolvencyUSD <= 0 {
		return 1
	}
	capacity := liquidityUSD * (1 - clampUnit(liquidityStress))
	if capacity <= 0 {
		return 0
	}
	return clampUnit(capacity / insolvencyUSD)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

func clampRating(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(100, math.Max(0, v))
}
