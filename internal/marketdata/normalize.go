package marketdata

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vaultline/vaultline-backend/internal/risk"
)

var (
	decimalOne     = decimal.NewFromInt(1)
	decimalHundred = decimal.NewFromInt(100)
	// Anything above this is a raw 10^18-scaled integer, not a percentage.
	rawScaleCutoff = decimal.NewFromInt(1_000_000)
)

// normalizeLTV accepts the three encodings the upstream mixes: a raw
// 10^18-scaled integer ("860000000000000000"), a percentage (86), or an
// already-converted fraction (0.86). The result is a fraction in [0, 1].
func normalizeLTV(raw decimal.Decimal) float64 {
	v := raw
	switch {
	case v.GreaterThan(rawScaleCutoff):
		v = v.Shift(-18)
	case v.GreaterThan(decimalOne):
		v = v.Div(decimalHundred)
	}
	return clampFraction(v.InexactFloat64())
}

// normalizeUtilization treats values above 1 as percentages.
func normalizeUtilization(u float64) float64 {
	if u > 1 {
		u = u / 100
	}
	return clampFraction(u)
}

// tokenAmount converts an asset amount in base units to human units.
func tokenAmount(baseUnits decimal.Decimal, decimals int) float64 {
	if baseUnits.IsZero() {
		return 0
	}
	return baseUnits.Shift(int32(-decimals)).InexactFloat64()
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeAsset(a Asset) risk.Asset {
	return risk.Asset{
		Address:  a.Address,
		Symbol:   a.Symbol,
		Decimals: a.Decimals,
	}
}

// normalizeMarket flattens a raw market payload into the engine's uniform
// record. Missing state or bad-debt blocks normalize to zeros; a missing
// oracle normalizes to an empty reference, which the engine scores as opaque.
func normalizeMarket(raw Market) risk.Market {
	m := risk.Market{
		Key:             raw.UniqueKey,
		LoanAsset:       normalizeAsset(raw.LoanAsset),
		CollateralAsset: normalizeAsset(raw.CollateralAsset),
		IRMAddress:      raw.IRMAddress,
		LTV:             normalizeLTV(raw.LLTV),
	}

	if raw.Oracle != nil {
		m.Oracle = risk.OracleRef{
			Address: raw.Oracle.Address,
			Type:    raw.Oracle.Type,
		}
		if raw.Oracle.Data != nil {
			if raw.Oracle.Data.BaseFeedOne != nil {
				m.Oracle.BaseFeed = raw.Oracle.Data.BaseFeedOne.Address
			}
			if raw.Oracle.Data.QuoteFeedOne != nil {
				m.Oracle.QuoteFeed = raw.Oracle.Data.QuoteFeedOne.Address
			}
		}
	}

	if raw.State != nil {
		m.State = risk.MarketState{
			SupplyUSD:    raw.State.SupplyAssetsUSD,
			BorrowUSD:    raw.State.BorrowAssetsUSD,
			LiquidityUSD: raw.State.LiquidityAssetsUSD,
			Utilization:  normalizeUtilization(raw.State.Utilization),
			SupplyAPY:    raw.State.SupplyAPY,
			BorrowAPY:    raw.State.BorrowAPY,
		}
		if raw.State.CollateralAssetsUSD != nil {
			m.State.CollateralUSD = *raw.State.CollateralAssetsUSD
		}
		if raw.State.BadDebt != nil {
			m.State.BadDebtUSD = raw.State.BadDebt.USD
		}
	}

	return m
}

func normalizePosition(raw MarketPosition) risk.Allocation {
	return risk.Allocation{
		Market:       normalizeMarket(raw.Market),
		AmountUSD:    raw.SupplyAssetsUSD,
		AmountTokens: tokenAmount(raw.SupplyAssets, raw.Market.LoanAsset.Decimals),
	}
}

func normalizePositions(raw []MarketPosition) []risk.Allocation {
	if len(raw) == 0 {
		return nil
	}
	legs := make([]risk.Allocation, len(raw))
	for i, p := range raw {
		legs[i] = normalizePosition(p)
	}
	return legs
}

// normalizeVault flattens a V1 vault payload.
func normalizeVault(raw Vault) risk.VaultAllocations {
	v := risk.VaultAllocations{
		Address: raw.Address,
		Name:    raw.Name,
		Version: "v1",
	}
	if raw.State != nil {
		v.TotalAssetsUSD = raw.State.TotalAssetsUSD
		v.Allocations = normalizePositions(raw.State.Allocation)
	}
	return v
}

// normalizeVaultV2 flattens a V2 vault payload, keeping the adapter variants
// as an explicit tagged union for the aggregator to dispatch on.
func normalizeVaultV2(raw VaultV2) risk.VaultAllocations {
	v := risk.VaultAllocations{
		Address:        raw.Address,
		Name:           raw.Name,
		Version:        "v2",
		TotalAssetsUSD: raw.TotalAssetsUSD,
	}

	if len(raw.Adapters) == 0 {
		return v
	}

	v.Adapters = make([]risk.Adapter, len(raw.Adapters))
	for i, a := range raw.Adapters {
		adapter := risk.Adapter{
			Address:       a.Address,
			Kind:          normalizeAdapterKind(a.Type),
			AllocationUSD: a.AllocationUSD,
		}
		switch {
		case adapter.Kind == risk.AdapterVault && a.Vault != nil:
			nested := normalizeVault(*a.Vault)
			adapter.Vault = &nested
		case adapter.Kind == risk.AdapterMarkets:
			adapter.Allocations = normalizePositions(a.Positions)
		}
		v.Adapters[i] = adapter
	}
	return v
}

// normalizeAdapterKind maps the API's discriminant spellings onto the
// engine's variants. Unknown values pass through so the engine can flag them
// instead of silently picking a branch.
func normalizeAdapterKind(raw string) risk.AdapterKind {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case adapterTypeVault, "VAULT_ADAPTER", "VAULTADAPTER":
		return risk.AdapterVault
	case adapterTypeMarkets, "MARKET", "MARKET_ADAPTER", "MARKETADAPTER":
		return risk.AdapterMarkets
	default:
		return risk.AdapterKind(strings.ToLower(raw))
	}
}
