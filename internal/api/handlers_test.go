package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/marketdata"
	"github.com/vaultline/vaultline-backend/internal/registry"
	"github.com/vaultline/vaultline-backend/internal/risk"
	"github.com/vaultline/vaultline-backend/internal/scores"
	"github.com/vaultline/vaultline-backend/internal/store"
	"github.com/vaultline/vaultline-backend/internal/ws"
)

type stubData struct {
	market  risk.Market
	markets []risk.Market
	vaultV1 risk.VaultAllocations
	vaultV2 risk.VaultAllocations
	err     error
}

func (d *stubData) MarketByKey(ctx context.Context, key string) (risk.Market, error) {
	if d.err != nil {
		return risk.Market{}, d.err
	}
	m := d.market
	m.Key = key
	return m, nil
}

func (d *stubData) Markets(ctx context.Context) ([]risk.Market, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.markets, nil
}

func (d *stubData) VaultV1(ctx context.Context, address string) (risk.VaultAllocations, error) {
	if d.err != nil {
		return risk.VaultAllocations{}, d.err
	}
	return d.vaultV1, nil
}

func (d *stubData) VaultV2(ctx context.Context, address string) (risk.VaultAllocations, error) {
	if d.err != nil {
		return risk.VaultAllocations{}, d.err
	}
	return d.vaultV2, nil
}

// calmMarket scores deterministically with nil resolvers: composite 77.5,
// grade B-.
func calmMarket(key string) risk.Market {
	return risk.Market{
		Key:       key,
		LoanAsset: risk.Asset{Symbol: "USDC", Decimals: 6},
		LTV:       0.80,
		State: risk.MarketState{
			SupplyUSD:     1_000_000,
			LiquidityUSD:  1_000_000,
			CollateralUSD: 1_200_000,
			Utilization:   0.90,
		},
	}
}

func newTestRouter(t *testing.T, data scores.MarketData) *chi.Mux {
	t.Helper()

	logger := zap.NewNop().Sugar()

	cache, err := store.NewCache("invalid:6379", logger, nil)
	require.NoError(t, err)
	require.True(t, cache.IsInMemoryMode())
	t.Cleanup(func() { cache.Close() })

	engine := risk.NewEngine(risk.DefaultConfig(), nil, nil, logger)
	svc := scores.NewService(data, engine, cache, time.Minute, time.Minute, logger, nil)
	vaults := registry.NewService([]string{
		"0xv1aaa@v1@Flagship USDC",
		"0xv2bbb@v2@Structured ETH",
	}, logger)

	hub := ws.NewHub(cache, logger, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	sse := ws.NewSSEHandler(cache, logger, nil)

	handler := NewHandler(svc, vaults, nil, hub, sse, cache, logger)
	m := NewMiddleware(logger, nil)

	return handler.Routes(m, []string{"*"}, 6000)
}

func doRequest(t *testing.T, router *chi.Mux, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestListMarkets(t *testing.T) {
	data := &stubData{markets: []risk.Market{calmMarket("0xaaa"), calmMarket("0xbbb")}}
	router := newTestRouter(t, data)

	rec := doRequest(t, router, http.MethodGet, "/v1/markets")
	require.Equal(t, http.StatusOK, rec.Code)

	var dtos []MarketDTO
	decodeJSON(t, rec, &dtos)
	require.Len(t, dtos, 2)
	assert.Equal(t, "0xaaa", dtos[0].Key)
	assert.Equal(t, 0.80, dtos[0].LTV)
	assert.Equal(t, 1_000_000.0, dtos[0].State.SupplyUSD)
}

func TestGetMarket(t *testing.T) {
	router := newTestRouter(t, &stubData{market: calmMarket("0xaaa")})

	rec := doRequest(t, router, http.MethodGet, "/v1/markets/0xaaa")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto MarketDTO
	decodeJSON(t, rec, &dto)
	assert.Equal(t, "0xaaa", dto.Key)
	assert.Equal(t, "USDC", dto.LoanAsset.Symbol)
}

func TestGetMarketNotFound(t *testing.T) {
	data := &stubData{err: fmt.Errorf("market 0xmissing: %w", marketdata.ErrMarketNotFound)}
	router := newTestRouter(t, data)

	rec := doRequest(t, router, http.MethodGet, "/v1/markets/0xmissing")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	decodeJSON(t, rec, &errResp)
	assert.Equal(t, "MARKET_NOT_FOUND", errResp.Code)
}

func TestGetMarketUpstreamError(t *testing.T) {
	data := &stubData{err: errors.New("connection refused")}
	router := newTestRouter(t, data)

	rec := doRequest(t, router, http.MethodGet, "/v1/markets/0xaaa")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var errResp ErrorResponse
	decodeJSON(t, rec, &errResp)
	assert.Equal(t, "UPSTREAM_ERROR", errResp.Code)
}

func TestGetMarketScore(t *testing.T) {
	router := newTestRouter(t, &stubData{market: calmMarket("0xaaa")})

	rec := doRequest(t, router, http.MethodGet, "/v1/markets/0xaaa/score")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto MarketScoreDTO
	decodeJSON(t, rec, &dto)
	assert.Equal(t, "0xaaa", dto.MarketKey)
	assert.False(t, dto.Idle)
	require.NotNil(t, dto.Composite)
	assert.InDelta(t, 77.5, *dto.Composite, 1e-9)
	assert.Equal(t, "B-", dto.Grade)
	require.NotNil(t, dto.Components)
	assert.Equal(t, 10.0, dto.Components.Oracle)
}

func TestGetMarketRating(t *testing.T) {
	router := newTestRouter(t, &stubData{market: calmMarket("0xaaa")})

	rec := doRequest(t, router, http.MethodGet, "/v1/markets/0xaaa/rating")
	require.Equal(t, http.StatusOK, rec.Code)

	var rating struct {
		MarketKey string   `json:"marketKey"`
		Rating    *float64 `json:"rating"`
		Tier      string   `json:"tier"`
	}
	decodeJSON(t, rec, &rating)
	assert.Equal(t, "0xaaa", rating.MarketKey)
	require.NotNil(t, rating.Rating)
	assert.NotEmpty(t, rating.Tier)
}

func TestGetMarketRatingInsufficientTVL(t *testing.T) {
	tiny := calmMarket("0xtiny")
	tiny.State.SupplyUSD = 5_000
	router := newTestRouter(t, &stubData{market: tiny})

	rec := doRequest(t, router, http.MethodGet, "/v1/markets/0xtiny/rating")
	require.Equal(t, http.StatusOK, rec.Code)

	var rating struct {
		Rating *float64 `json:"rating"`
		Tier   string   `json:"tier"`
	}
	decodeJSON(t, rec, &rating)
	assert.Nil(t, rating.Rating)
	assert.Equal(t, "Insufficient TVL", rating.Tier)
}

func TestGetMarketRatingWithOverrides(t *testing.T) {
	router := newTestRouter(t, &stubData{market: calmMarket("0xaaa")})

	// Dropping the ceiling below the market's 90% utilization drags the
	// utilization component down.
	rec := doRequest(t, router, http.MethodGet, "/v1/markets/0xaaa/rating?utilization_ceiling=0.5")
	require.Equal(t, http.StatusOK, rec.Code)

	var rating struct {
		Rating *float64 `json:"rating"`
		Tier   string   `json:"tier"`
	}
	decodeJSON(t, rec, &rating)
	require.NotNil(t, rating.Rating)

	// The default-parameter rating must not have been shadowed by the
	// override request.
	rec = doRequest(t, router, http.MethodGet, "/v1/markets/0xaaa/rating")
	require.Equal(t, http.StatusOK, rec.Code)

	var defaultRating struct {
		Rating *float64 `json:"rating"`
	}
	decodeJSON(t, rec, &defaultRating)
	require.NotNil(t, defaultRating.Rating)
	assert.Greater(t, *defaultRating.Rating, *rating.Rating)
}

func TestHasRatingOverrides(t *testing.T) {
	assert.False(t, hasRatingOverrides(url.Values{}))
	assert.False(t, hasRatingOverrides(url.Values{"unrelated": {"1"}}))
	assert.True(t, hasRatingOverrides(url.Values{"benchmark_rate": {"0.05"}}))
	assert.True(t, hasRatingOverrides(url.Values{"w_stress": {"0.3"}}))
}

func TestListVaults(t *testing.T) {
	router := newTestRouter(t, &stubData{})

	rec := doRequest(t, router, http.MethodGet, "/v1/vaults")
	require.Equal(t, http.StatusOK, rec.Code)

	var vaults []registry.Vault
	decodeJSON(t, rec, &vaults)
	require.Len(t, vaults, 2)
	assert.Equal(t, "0xv1aaa", vaults[0].Address)
	assert.Equal(t, "v1", vaults[0].Version)
	assert.Equal(t, "Flagship USDC", vaults[0].Label)
}

func TestGetVaultScore(t *testing.T) {
	data := &stubData{
		vaultV1: risk.VaultAllocations{
			Address:        "0xv1aaa",
			Name:           "Flagship USDC",
			Version:        "v1",
			TotalAssetsUSD: 1_000_000,
			Allocations: []risk.Allocation{
				{Market: calmMarket("0xaaa"), AmountUSD: 1_000_000},
			},
		},
	}
	router := newTestRouter(t, data)

	rec := doRequest(t, router, http.MethodGet, "/v1/vaults/0xv1aaa/score?version=v1")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto VaultScoreDTO
	decodeJSON(t, rec, &dto)
	assert.Equal(t, "0xv1aaa", dto.Address)
	assert.Equal(t, "v1", dto.Version)
	assert.InDelta(t, 77.5, dto.Composite, 1e-9)
	assert.Equal(t, "B-", dto.Grade)
	require.Len(t, dto.Markets, 1)
}

func TestGetVaultScoreUsesRegistryVersion(t *testing.T) {
	data := &stubData{
		vaultV2: risk.VaultAllocations{
			Address:        "0xv2bbb",
			Version:        "v2",
			TotalAssetsUSD: 500_000,
			Adapters: []risk.Adapter{
				{
					Address:       "0xadapter",
					Kind:          risk.AdapterMarkets,
					AllocationUSD: 500_000,
					Allocations: []risk.Allocation{
						{Market: calmMarket("0xaaa"), AmountUSD: 500_000},
					},
				},
			},
		},
	}
	router := newTestRouter(t, data)

	// No version query parameter; the watchlist entry says this one is v2.
	rec := doRequest(t, router, http.MethodGet, "/v1/vaults/0xv2bbb/score")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto VaultScoreDTO
	decodeJSON(t, rec, &dto)
	assert.Equal(t, "v2", dto.Version)
	require.Len(t, dto.Adapters, 1)
	assert.Equal(t, "markets", dto.Adapters[0].Kind)
}

func TestGetVaultScoreInvalidVersion(t *testing.T) {
	router := newTestRouter(t, &stubData{})

	rec := doRequest(t, router, http.MethodGet, "/v1/vaults/0xv1aaa/score?version=v3")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	decodeJSON(t, rec, &errResp)
	assert.Equal(t, "INVALID_VERSION", errResp.Code)
}

func TestGetVaultScoreNotFound(t *testing.T) {
	data := &stubData{err: fmt.Errorf("vault 0xnothere: %w", marketdata.ErrVaultNotFound)}
	router := newTestRouter(t, data)

	rec := doRequest(t, router, http.MethodGet, "/v1/vaults/0xnothere/score?version=v1")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	decodeJSON(t, rec, &errResp)
	assert.Equal(t, "VAULT_NOT_FOUND", errResp.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t, &stubData{})

	rec := doRequest(t, router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var health HealthDTO
	decodeJSON(t, rec, &health)
	assert.Equal(t, "ready", health.Status)
	assert.Empty(t, health.Reasons)

	rec = doRequest(t, router, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	router := newTestRouter(t, &stubData{})

	rec := doRequest(t, router, http.MethodGet, "/healthz")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestIdleMarketScoreOmitsCompositeInJSON(t *testing.T) {
	dto := toMarketScoreDTO(risk.MarketScore{
		MarketKey: "0xidle",
		Idle:      true,
	})

	raw, err := json.Marshal(dto)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "composite")
	assert.NotContains(t, decoded, "grade")
	assert.NotContains(t, decoded, "components")
	assert.Equal(t, true, decoded["idle"])
}

func TestVaultScoreDTOKeepsZeroComposite(t *testing.T) {
	dto := toVaultScoreDTO(risk.VaultScore{
		Address:   "0xempty",
		Version:   "v1",
		Composite: 0,
		Grade:     risk.GradeF,
	})

	raw, err := json.Marshal(dto)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 0.0, decoded["composite"])
	assert.Equal(t, "F", decoded["grade"])
}
