// Package risk computes per-market risk scores, letter grades, and
// allocation-weighted aggregates for lending markets and the vaults that
// allocate into them. Everything in this package is a pure function of its
// inputs except the Engine, which fans out oracle and interest-rate-model
// lookups to its resolvers.
package risk

// Asset identifies one side of a market pair.
type Asset struct {
	Address  string
	Symbol   string
	Decimals int
}

// OracleRef points at a market's price oracle. Composite oracles carry one or
// two underlying feed addresses that can answer when the oracle contract
// itself does not expose a timestamp.
type OracleRef struct {
	Address   string
	Type      string
	BaseFeed  string
	QuoteFeed string
}

// MarketState is the point-in-time snapshot the upstream data API reports for
// a market. All USD values are spot-priced by the upstream; Utilization is a
// fraction in [0, 1].
type MarketState struct {
	SupplyUSD     float64
	BorrowUSD     float64
	CollateralUSD float64
	LiquidityUSD  float64
	Utilization   float64
	SupplyAPY     float64
	BorrowAPY     float64
	BadDebtUSD    float64
}

// Market is the uniform per-market record every upstream payload shape
// normalizes to. LTV is a fraction in [0, 1] regardless of how the upstream
// encoded it.
type Market struct {
	Key             string
	LoanAsset       Asset
	CollateralAsset Asset
	Oracle          OracleRef
	IRMAddress      string
	LTV             float64
	State           MarketState
}

// Allocation is one leg of the allocation graph: a parent vault or adapter
// supplying into a market. AmountTokens is in human units (decimals applied);
// it is zero when the upstream did not report a token amount.
type Allocation struct {
	Market       Market
	AmountUSD    float64
	AmountTokens float64
}

// AdapterKind discriminates the two V2 adapter variants.
type AdapterKind string

const (
	// AdapterVault wraps another vault; aggregation recurses one level.
	AdapterVault AdapterKind = "vault"
	// AdapterMarkets wraps a flat list of market positions.
	AdapterMarkets AdapterKind = "markets"
)

// Adapter is a V2 allocation target. Exactly one of Vault or Allocations is
// populated, selected by Kind.
type Adapter struct {
	Address       string
	Kind          AdapterKind
	AllocationUSD float64
	Vault         *VaultAllocations
	Allocations   []Allocation
}

// VaultAllocations is a vault's resolved allocation graph. V1 vaults allocate
// into markets directly (Allocations); V2 vaults allocate through adapters.
type VaultAllocations struct {
	Address        string
	Name           string
	Version        string
	TotalAssetsUSD float64
	Allocations    []Allocation
	Adapters       []Adapter
}

// ComponentScores are the four independent sub-scores, each in [0, 100].
type ComponentScores struct {
	Oracle      float64
	Utilization float64
	Headroom    float64
	Coverage    float64
}

// MarketScore is the scoring result for one market in one allocation context.
// When Idle is true the market carried no active allocation: Components,
// Composite, and Grade are not meaningful and must not be displayed as a real
// score of zero.
type MarketScore struct {
	MarketKey     string
	Idle          bool
	Components    ComponentScores
	Composite     float64
	Grade         Grade
	BadDebtUSD    float64
	AllocationUSD float64
}

// AdapterScore is the aggregate for one V2 adapter. Markets holds the
// constituent records for a markets adapter; Vault holds the nested vault
// aggregate for a vault adapter.
type AdapterScore struct {
	Address       string
	Kind          AdapterKind
	AllocationUSD float64
	Composite     float64
	Grade         Grade
	Markets       []MarketScore
	Vault         *VaultScore
}

// VaultScore is the allocation-weighted aggregate for a vault, with its
// constituent records ordered for display.
type VaultScore struct {
	Address        string
	Name           string
	Version        string
	TotalAssetsUSD float64
	Composite      float64
	Grade          Grade
	Markets        []MarketScore
	Adapters       []AdapterScore
}
