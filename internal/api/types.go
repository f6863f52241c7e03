package api

import (
	"github.com/vaultline/vaultline-backend/internal/risk"
)

type AssetDTO struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type OracleRefDTO struct {
	Address   string `json:"address,omitempty"`
	Type      string `json:"type,omitempty"`
	BaseFeed  string `json:"baseFeed,omitempty"`
	QuoteFeed string `json:"quoteFeed,omitempty"`
}

type MarketStateDTO struct {
	SupplyUSD     float64 `json:"supplyUsd"`
	BorrowUSD     float64 `json:"borrowUsd"`
	CollateralUSD float64 `json:"collateralUsd"`
	LiquidityUSD  float64 `json:"liquidityUsd"`
	Utilization   float64 `json:"utilization"`
	SupplyAPY     float64 `json:"supplyApy"`
	BorrowAPY     float64 `json:"borrowApy"`
	BadDebtUSD    float64 `json:"badDebtUsd"`
}

type MarketDTO struct {
	Key             string         `json:"key"`
	LoanAsset       AssetDTO       `json:"loanAsset"`
	CollateralAsset AssetDTO       `json:"collateralAsset"`
	Oracle          OracleRefDTO   `json:"oracle"`
	IRMAddress      string         `json:"irmAddress,omitempty"`
	LTV             float64        `json:"ltv"`
	State           MarketStateDTO `json:"state"`
}

type ComponentScoresDTO struct {
	Oracle      float64 `json:"oracle"`
	Utilization float64 `json:"utilization"`
	Headroom    float64 `json:"headroom"`
	Coverage    float64 `json:"coverage"`
}

// MarketScoreDTO renders one scored market. Idle allocations carry no
// components, composite, or grade; the omitted fields are how the payload
// distinguishes "not scored" from a real zero.
type MarketScoreDTO struct {
	MarketKey     string              `json:"marketKey"`
	Idle          bool                `json:"idle,omitempty"`
	Components    *ComponentScoresDTO `json:"components,omitempty"`
	Composite     *float64            `json:"composite,omitempty"`
	Grade         string              `json:"grade,omitempty"`
	BadDebtUSD    float64             `json:"badDebtUsd"`
	AllocationUSD float64             `json:"allocationUsd"`
}

type AdapterScoreDTO struct {
	Address       string           `json:"address"`
	Kind          string           `json:"kind"`
	AllocationUSD float64          `json:"allocationUsd"`
	Composite     float64          `json:"composite"`
	Grade         string           `json:"grade"`
	Markets       []MarketScoreDTO `json:"markets,omitempty"`
	Vault         *VaultScoreDTO   `json:"vault,omitempty"`
}

type VaultScoreDTO struct {
	Address        string            `json:"address"`
	Name           string            `json:"name,omitempty"`
	Version        string            `json:"version"`
	TotalAssetsUSD float64           `json:"totalAssetsUsd"`
	Composite      float64           `json:"composite"`
	Grade          string            `json:"grade"`
	Markets        []MarketScoreDTO  `json:"markets,omitempty"`
	Adapters       []AdapterScoreDTO `json:"adapters,omitempty"`
}

type HealthDTO struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func toAssetDTO(a risk.Asset) AssetDTO {
	return AssetDTO{Address: a.Address, Symbol: a.Symbol, Decimals: a.Decimals}
}

func toMarketDTO(m risk.Market) MarketDTO {
	return MarketDTO{
		Key:             m.Key,
		LoanAsset:       toAssetDTO(m.LoanAsset),
		CollateralAsset: toAssetDTO(m.CollateralAsset),
		Oracle: OracleRefDTO{
			Address:   m.Oracle.Address,
			Type:      m.Oracle.Type,
			BaseFeed:  m.Oracle.BaseFeed,
			QuoteFeed: m.Oracle.QuoteFeed,
		},
		IRMAddress: m.IRMAddress,
		LTV:        m.LTV,
		State: MarketStateDTO{
			SupplyUSD:     m.State.SupplyUSD,
			BorrowUSD:     m.State.BorrowUSD,
			CollateralUSD: m.State.CollateralUSD,
			LiquidityUSD:  m.State.LiquidityUSD,
			Utilization:   m.State.Utilization,
			SupplyAPY:     m.State.SupplyAPY,
			BorrowAPY:     m.State.BorrowAPY,
			BadDebtUSD:    m.State.BadDebtUSD,
		},
	}
}

func toMarketScoreDTO(s risk.MarketScore) MarketScoreDTO {
	dto := MarketScoreDTO{
		MarketKey:     s.MarketKey,
		Idle:          s.Idle,
		BadDebtUSD:    s.BadDebtUSD,
		AllocationUSD: s.AllocationUSD,
	}
	if s.Idle {
		return dto
	}

	composite := s.Composite
	dto.Composite = &composite
	dto.Grade = string(s.Grade)
	dto.Components = &ComponentScoresDTO{
		Oracle:      s.Components.Oracle,
		Utilization: s.Components.Utilization,
		Headroom:    s.Components.Headroom,
		Coverage:    s.Components.Coverage,
	}
	return dto
}

func toMarketScoreDTOs(scores []risk.MarketScore) []MarketScoreDTO {
	if len(scores) == 0 {
		return nil
	}
	out := make([]MarketScoreDTO, 0, len(scores))
	for _, s := range scores {
		out = append(out, toMarketScoreDTO(s))
	}
	return out
}

func toAdapterScoreDTO(a risk.AdapterScore) AdapterScoreDTO {
	dto := AdapterScoreDTO{
		Address:       a.Address,
		Kind:          string(a.Kind),
		AllocationUSD: a.AllocationUSD,
		Composite:     a.Composite,
		Grade:         string(a.Grade),
		Markets:       toMarketScoreDTOs(a.Markets),
	}
	if a.Vault != nil {
		nested := toVaultScoreDTO(*a.Vault)
		dto.Vault = &nested
	}
	return dto
}

func toVaultScoreDTO(v risk.VaultScore) VaultScoreDTO {
	dto := VaultScoreDTO{
		Address:        v.Address,
		Name:           v.Name,
		Version:        v.Version,
		TotalAssetsUSD: v.TotalAssetsUSD,
		Composite:      v.Composite,
		Grade:          string(v.Grade),
		Markets:        toMarketScoreDTOs(v.Markets),
	}
	for _, adapter := range v.Adapters {
		dto.Adapters = append(dto.Adapters, toAdapterScoreDTO(adapter))
	}
	return dto
}
