package risk

import "strings"

// Correlated-asset groups. A loan/collateral pair drawn from one group moves
// together under market stress, so it gets the smaller price shock.
var correlatedGroups = [][]string{
	{"ETH", "WETH", "STETH", "WSTETH", "CBETH", "RETH", "WEETH", "EZETH", "RSETH", "OSETH"},
	{"BTC", "WBTC", "TBTC", "CBBTC", "LBTC", "SOLVBTC"},
	{"USDC", "USDT", "DAI", "USDS", "USDE", "SUSDE", "PYUSD", "GHO"},
}

// StressResult is the outcome of shocking a market's collateral price.
type StressResult struct {
	// Shock is the fraction the collateral price was dropped by.
	Shock float64
	// HeadroomUSD = collateral × (1 − shock) × LTV − borrow. Positive means
	// the position stays solvent after the shock.
	HeadroomUSD float64
	// LiquidatableUSD = max(0, borrow − collateral × (1 − shock) × LTV),
	// the borrow that becomes liquidation-eligible under the shock.
	LiquidatableUSD float64
	// CoverageRatio = (supply − borrow) / LiquidatableUSD. Undefined when
	// nothing is liquidatable; CoverageCapped marks that case.
	CoverageRatio  float64
	CoverageCapped bool
}

// CorrelatedPair reports whether two asset symbols are the same asset or
// close derivatives (wrapped/staked variants of ETH or BTC, USD stables).
// Comparison is case-insensitive.
func CorrelatedPair(loanSymbol, collateralSymbol string) bool {
	loan := strings.ToUpper(strings.TrimSpace(loanSymbol))
	coll := strings.ToUpper(strings.TrimSpace(collateralSymbol))
	if loan == "" || coll == "" {
		return false
	}
	if loan == coll {
		return true
	}
	for _, group := range correlatedGroups {
		if containsSymbol(group, loan) && containsSymbol(group, coll) {
			return true
		}
	}
	return false
}

func containsSymbol(group []string, symbol string) bool {
	for _, s := range group {
		if s == symbol {
			return true
		}
	}
	return false
}

// SelectShock picks the price-shock magnitude for a market's asset pair.
func (c Config) SelectShock(loan, collateral Asset) float64 {
	if CorrelatedPair(loan.Symbol, collateral.Symbol) {
		return c.CorrelatedShock
	}
	return c.BaseShock
}

// LiquidatableBorrow returns the borrow that exceeds the shocked collateral's
// borrowing capacity. Never negative.
func LiquidatableBorrow(collateralUSD, borrowUSD, ltv, shock float64) float64 {
	liquidatable := borrowUSD - collateralUSD*(1-shock)*ltv
	if liquidatable < 0 {
		return 0
	}
	return liquidatable
}

// Stress shocks the market's collateral price and recomputes liquidation
// headroom and liquidity coverage under the shocked scenario.
func (c Config) Stress(m Market) StressResult {
	shock := c.SelectShock(m.LoanAsset, m.CollateralAsset)

	shockedCapacity := m.State.CollateralUSD * (1 - shock) * m.LTV
	res := StressResult{
		Shock:           shock,
		HeadroomUSD:     shockedCapacity - m.State.BorrowUSD,
		LiquidatableUSD: LiquidatableBorrow(m.State.CollateralUSD, m.State.BorrowUSD, m.LTV, shock),
	}

	if res.LiquidatableUSD == 0 {
		res.CoverageCapped = true
		return res
	}

	available := m.State.SupplyUSD - m.State.BorrowUSD
	res.CoverageRatio = available / res.LiquidatableUSD
	return res
}
