package risk

// Config carries the engine's tunable constants. Defaults match the values
// the dashboard ships with; the fallback target is the only one usually
// overridden via the environment.
type Config struct {
	// FallbackTargetUtilization stands in for an IRM's kink when the
	// on-chain read fails or the model is unrecognized.
	FallbackTargetUtilization float64
	// CorrelatedShock is the collateral price drop applied when loan and
	// collateral are the same asset or close derivatives of one another.
	CorrelatedShock float64
	// BaseShock is the collateral price drop applied to unrelated pairs.
	BaseShock float64
	// BadDebtFloorUSD forces grade F once a market's realized bad debt
	// exceeds it.
	BadDebtFloorUSD float64
	// IdleAllocationUSD is the allocation size below which a leg with no
	// supplied tokens counts as idle.
	IdleAllocationUSD float64
	// MaxConcurrentMarkets bounds the per-vault market scoring fan-out.
	MaxConcurrentMarkets int
}

func DefaultConfig() Config {
	return Config{
		FallbackTargetUtilization: 0.90,
		CorrelatedShock:           0.025,
		BaseShock:                 0.05,
		BadDebtFloorUSD:           1.00,
		IdleAllocationUSD:         1.00,
		MaxConcurrentMarkets:      8,
	}
}
