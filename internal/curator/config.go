// Package curator rates individual markets against the operator's curation
// policy: utilization ceilings, rate alignment, stress exposure, withdrawal
// liquidity, and liquidation capacity. It is independent of the vault
// allocation graph and produces its own response shape.
package curator

import (
	"math"
	"net/url"
	"strconv"
)

// Weights are the per-component weights for the composite rating. The
// defaults sum to 1.0 but that is not enforced; the composite is clamped
// instead.
type Weights struct {
	Utilization         float64 `json:"utilization"`
	RateAlignment       float64 `json:"rateAlignment"`
	StressExposure      float64 `json:"stressExposure"`
	WithdrawalLiquidity float64 `json:"withdrawalLiquidity"`
	LiquidationCapacity float64 `json:"liquidationCapacity"`
}

// Config is the scoring configuration for one rating pass. It is built once
// per request from the defaults plus any validated overrides and is never
// mutated afterwards.
type Config struct {
	// UtilizationCeiling is the utilization fraction the curator wants
	// markets to stay below.
	UtilizationCeiling float64 `json:"utilizationCeiling"`
	// UtilizationBufferHours is how long a ceiling breach may persist before
	// the surrounding alerting escalates. Exposed for that alerting logic;
	// the rating itself has no history to evaluate it against.
	UtilizationBufferHours float64 `json:"utilizationBufferHours"`
	// RateEpsilon is the supply-rate deviation from the benchmark that still
	// counts as aligned.
	RateEpsilon float64 `json:"rateEpsilon"`
	// BenchmarkRate is the supply-rate benchmark; the default stands in when
	// the caller supplies none.
	BenchmarkRate float64 `json:"benchmarkRate"`
	// PriceStress is the collateral price drop used for insolvency exposure.
	PriceStress float64 `json:"priceStress"`
	// LiquidityStress is the fraction of market liquidity assumed to
	// evaporate before liquidators act.
	LiquidityStress float64 `json:"liquidityStress"`
	// MinWithdrawalLiquidity is the minimum fraction of TVL that must stay
	// withdrawable.
	MinWithdrawalLiquidity float64 `json:"minWithdrawalLiquidity"`
	// InsolvencyTolerance is the stress-insolvency fraction of TVL at which
	// the exposure component bottoms out.
	InsolvencyTolerance float64 `json:"insolvencyTolerance"`
	// MinTVLUSD is the TVL floor below which no rating is produced.
	MinTVLUSD float64 `json:"minTvlUsd"`

	Weights Weights `json:"weights"`
}

func DefaultConfig() Config {
	return Config{
		UtilizationCeiling:     0.92,
		UtilizationBufferHours: 6,
		RateEpsilon:            0.005,
		BenchmarkRate:          0.04,
		PriceStress:            0.05,
		LiquidityStress:        0.30,
		MinWithdrawalLiquidity: 0.10,
		InsolvencyTolerance:    0.01,
		MinTVLUSD:              10_000,
		Weights: Weights{
			Utilization:         0.25,
			RateAlignment:       0.15,
			StressExposure:      0.25,
			WithdrawalLiquidity: 0.20,
			LiquidationCapacity: 0.15,
		},
	}
}

// Query parameter names for per-request overrides.
const (
	ParamUtilizationCeiling  = "utilization_ceiling"
	ParamUtilizationBuffer   = "utilization_buffer_hours"
	ParamRateEpsilon         = "rate_epsilon"
	ParamBenchmarkRate       = "benchmark_rate"
	ParamPriceStress         = "price_stress"
	ParamLiquidityStress     = "liquidity_stress"
	ParamMinLiquidity        = "min_liquidity"
	ParamInsolvencyTolerance = "insolvency_tolerance"
	ParamWeightUtilization   = "w_utilization"
	ParamWeightRate          = "w_rate"
	ParamWeightStress        = "w_stress"
	ParamWeightLiquidity     = "w_liquidity"
	ParamWeightCapacity      = "w_capacity"
)

// WithQueryOverrides merges request overrides onto the configuration. Each
// value is validated independently: unparsable or non-finite values keep the
// default for that one key and never invalidate the rest.
func (c Config) WithQueryOverrides(query url.Values) Config {
	out := c
	overrideFloat(query, ParamUtilizationCeiling, &out.UtilizationCeiling)
	overrideFloat(query, ParamUtilizationBuffer, &out.UtilizationBufferHours)
	overrideFloat(query, ParamRateEpsilon, &out.RateEpsilon)
	overrideFloat(query, ParamBenchmarkRate, &out.BenchmarkRate)
	overrideFloat(query, ParamPriceStress, &out.PriceStress)
	overrideFloat(query, ParamLiquidityStress, &out.LiquidityStress)
	overrideFloat(query, ParamMinLiquidity, &out.MinWithdrawalLiquidity)
	overrideFloat(query, ParamInsolvencyTolerance, &out.InsolvencyTolerance)
	overrideFloat(query, ParamWeightUtilization, &out.Weights.Utilization)
	overrideFloat(query, ParamWeightRate, &out.Weights.RateAlignment)
	overrideFloat(query, ParamWeightStress, &out.Weights.StressExposure)
	overrideFloat(query, ParamWeightLiquidity, &out.Weights.WithdrawalLiquidity)
	overrideFloat(query, ParamWeightCapacity, &out.Weights.LiquidationCapacity)
	return out
}

func overrideFloat(query url.Values, key string, dst *float64) {
	raw := query.Get(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	*dst = v
}
