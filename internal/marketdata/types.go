// Package marketdata talks to the lending-protocol data API and normalizes
// its heterogeneous payloads into the uniform records the scoring engine
// consumes. Markets reached directly and markets reached through nested
// adapters come back in different shapes; both funnel through the same
// normalizer.
package marketdata

import "github.com/shopspring/decimal"

// Asset as the data API reports it.
type Asset struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type OracleFeed struct {
	Address string `json:"address"`
}

// OracleData carries the underlying feed addresses of composite oracles.
type OracleData struct {
	BaseFeedOne  *OracleFeed `json:"baseFeedOne"`
	QuoteFeedOne *OracleFeed `json:"quoteFeedOne"`
}

type Oracle struct {
	Address string      `json:"address"`
	Type    string      `json:"type"`
	Data    *OracleData `json:"data"`
}

type BadDebt struct {
	USD float64 `json:"usd"`
}

// MarketState mirrors the API's market state snapshot. CollateralAssetsUSD
// is nullable upstream; Utilization may be a fraction or a percentage.
type MarketState struct {
	SupplyAssetsUSD     float64  `json:"supplyAssetsUsd"`
	BorrowAssetsUSD     float64  `json:"borrowAssetsUsd"`
	CollateralAssetsUSD *float64 `json:"collateralAssetsUsd"`
	LiquidityAssetsUSD  float64  `json:"liquidityAssetsUsd"`
	Utilization         float64  `json:"utilization"`
	SupplyAPY           float64  `json:"supplyApy"`
	BorrowAPY           float64  `json:"borrowApy"`
	BadDebt             *BadDebt `json:"badDebt"`
}

// Market is the raw per-market payload. LLTV arrives either as a 10^18-scaled
// integer string or as an already-converted percentage, depending on the
// upstream code path; decimal.Decimal accepts both.
type Market struct {
	UniqueKey       string          `json:"uniqueKey"`
	LLTV            decimal.Decimal `json:"lltv"`
	IRMAddress      string          `json:"irmAddress"`
	Oracle          *Oracle         `json:"oracle"`
	LoanAsset       Asset           `json:"loanAsset"`
	CollateralAsset Asset           `json:"collateralAsset"`
	State           *MarketState    `json:"state"`
}

// MarketPosition is one allocation leg as the API reports it: a market plus
// the parent's supplied amount, in USD and in loan-asset base units.
type MarketPosition struct {
	Market          Market          `json:"market"`
	SupplyAssetsUSD float64         `json:"supplyAssetsUsd"`
	SupplyAssets    decimal.Decimal `json:"supplyAssets"`
}

// VaultState is a V1 vault's state snapshot with its direct allocations.
type VaultState struct {
	TotalAssetsUSD float64          `json:"totalAssetsUsd"`
	Allocation     []MarketPosition `json:"allocation"`
}

// Vault is the V1 vault payload.
type Vault struct {
	Address string      `json:"address"`
	Name    string      `json:"name"`
	State   *VaultState `json:"state"`
}

// Adapter discriminant values the API uses.
const (
	adapterTypeVault   = "VAULT"
	adapterTypeMarkets = "MARKETS"
)

// VaultV2Adapter is the polymorphic allocation target of a V2 vault. Type
// discriminates the variant: a VAULT adapter wraps another vault, a MARKETS
// adapter wraps a flat position list.
type VaultV2Adapter struct {
	Address       string           `json:"address"`
	Type          string           `json:"type"`
	AllocationUSD float64          `json:"allocationUsd"`
	Vault         *Vault           `json:"vault"`
	Positions     []MarketPosition `json:"positions"`
}

// VaultV2 is the V2 vault payload.
type VaultV2 struct {
	Address        string           `json:"address"`
	Name           string           `json:"name"`
	TotalAssetsUSD float64          `json:"totalAssetsUsd"`
	Adapters       []VaultV2Adapter `json:"adapters"`
}
