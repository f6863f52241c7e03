package scores

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/curator"
	"github.com/vaultline/vaultline-backend/internal/marketdata"
	"github.com/vaultline/vaultline-backend/internal/risk"
	"github.com/vaultline/vaultline-backend/internal/store"
)

type stubData struct {
	market  risk.Market
	markets []risk.Market
	vaultV1 risk.VaultAllocations
	vaultV2 risk.VaultAllocations
	err     error
	delay   time.Duration

	marketCalls atomic.Int64
	listCalls   atomic.Int64
	v1Calls     atomic.Int64
	v2Calls     atomic.Int64
}

func (d *stubData) MarketByKey(ctx context.Context, key string) (risk.Market, error) {
	d.marketCalls.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return risk.Market{}, d.err
	}
	return d.market, nil
}

func (d *stubData) Markets(ctx context.Context) ([]risk.Market, error) {
	d.listCalls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.markets, nil
}

func (d *stubData) VaultV1(ctx context.Context, address string) (risk.VaultAllocations, error) {
	d.v1Calls.Add(1)
	if d.err != nil {
		return risk.VaultAllocations{}, d.err
	}
	return d.vaultV1, nil
}

func (d *stubData) VaultV2(ctx context.Context, address string) (risk.VaultAllocations, error) {
	d.v2Calls.Add(1)
	if d.err != nil {
		return risk.VaultAllocations{}, d.err
	}
	return d.vaultV2, nil
}

// calmMarket scores deterministically with nil resolvers: oracle opaque (10),
// utilization at the fallback target (100), no borrow (100, 100). Composite
// 77.5, grade B-.
func calmMarket(key string) risk.Market {
	return risk.Market{
		Key:        key,
		LoanAsset:  risk.Asset{Symbol: "USDC", Decimals: 6},
		IRMAddress: "",
		LTV:        0.80,
		State: risk.MarketState{
			SupplyUSD:     1_000_000,
			LiquidityUSD:  1_000_000,
			CollateralUSD: 1_200_000,
			Utilization:   0.90,
		},
	}
}

func newTestService(t *testing.T, data MarketData) *Service {
	t.Helper()

	cache, err := store.NewCache("invalid:6379", zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	require.True(t, cache.IsInMemoryMode())

	engine := risk.NewEngine(risk.DefaultConfig(), nil, nil, zap.NewNop().Sugar())
	return NewService(data, engine, cache, time.Minute, time.Minute, zap.NewNop().Sugar(), nil)
}

func TestGetMarketScoreComputesThenCaches(t *testing.T) {
	data := &stubData{market: calmMarket("0xmarket")}
	svc := newTestService(t, data)
	ctx := context.Background()

	first, err := svc.GetMarketScore(ctx, "0xmarket")
	require.NoError(t, err)
	assert.InDelta(t, 77.5, first.Composite, 1e-9)
	assert.Equal(t, risk.GradeBMinus, first.Grade)

	second, err := svc.GetMarketScore(ctx, "0xmarket")
	require.NoError(t, err)
	assert.Equal(t, first.Composite, second.Composite)

	assert.EqualValues(t, 1, data.marketCalls.Load())
}

func TestGetMarketScorePropagatesNotFound(t *testing.T) {
	data := &stubData{err: marketdata.ErrMarketNotFound}
	svc := newTestService(t, data)

	_, err := svc.GetMarketScore(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, marketdata.ErrMarketNotFound)
}

func TestGetMarketScoreCollapsesConcurrentRequests(t *testing.T) {
	data := &stubData{market: calmMarket("0xmarket"), delay: 50 * time.Millisecond}
	svc := newTestService(t, data)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetMarketScore(context.Background(), "0xmarket")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, data.marketCalls.Load())
}

func TestListMarketsCaches(t *testing.T) {
	data := &stubData{markets: []risk.Market{calmMarket("a"), calmMarket("b")}}
	svc := newTestService(t, data)
	ctx := context.Background()

	first, err := svc.ListMarkets(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	_, err = svc.ListMarkets(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, data.listCalls.Load())
}

func TestGetVaultScoreDispatchesOnVersion(t *testing.T) {
	data := &stubData{
		vaultV1: risk.VaultAllocations{
			Address: "0xvault", Version: "v1", TotalAssetsUSD: 1_000_000,
			Allocations: []risk.Allocation{{Market: calmMarket("0xa"), AmountUSD: 1_000_000, AmountTokens: 1_000_000}},
		},
		vaultV2: risk.VaultAllocations{
			Address: "0xvault", Version: "v2", TotalAssetsUSD: 1_000_000,
			Adapters: []risk.Adapter{{
				Address: "0xadapter", Kind: risk.AdapterMarkets, AllocationUSD: 1_000_000,
				Allocations: []risk.Allocation{{Market: calmMarket("0xa"), AmountUSD: 1_000_000, AmountTokens: 1_000_000}},
			}},
		},
	}
	svc := newTestService(t, data)
	ctx := context.Background()

	v1, err := svc.GetVaultScore(ctx, "0xvault", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", v1.Version)
	assert.InDelta(t, 77.5, v1.Composite, 1e-9)
	assert.EqualValues(t, 1, data.v1Calls.Load())
	assert.EqualValues(t, 0, data.v2Calls.Load())

	v2, err := svc.GetVaultScore(ctx, "0xvault", "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", v2.Version)
	assert.EqualValues(t, 1, data.v2Calls.Load())

	// Separate cache entries per version.
	_, err = svc.GetVaultScore(ctx, "0xvault", "v1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, data.v1Calls.Load())
}

func TestGetVaultScoreRejectsUnknownVersion(t *testing.T) {
	svc := newTestService(t, &stubData{})

	_, err := svc.GetVaultScore(context.Background(), "0xvault", "v3")
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestGetVaultScorePropagatesNotFound(t *testing.T) {
	data := &stubData{err: marketdata.ErrVaultNotFound}
	svc := newTestService(t, data)

	_, err := svc.GetVaultScore(context.Background(), "0xmissing", "v1")
	assert.ErrorIs(t, err, marketdata.ErrVaultNotFound)
}

func TestRefreshVaultScorePublishesEvent(t *testing.T) {
	data := &stubData{
		vaultV1: risk.VaultAllocations{
			Address: "0xvault", Version: "v1", TotalAssetsUSD: 1_000_000,
			Allocations: []risk.Allocation{{Market: calmMarket("0xa"), AmountUSD: 1_000_000, AmountTokens: 1_000_000}},
		},
	}
	svc := newTestService(t, data)
	ctx := context.Background()

	sub := svc.cache.SubscribeInMemory(ctx, store.ChannelScores)
	require.NotNil(t, sub)
	defer sub.Close()

	_, err := svc.RefreshVaultScore(ctx, "0xvault", "v1")
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var event ScoreEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		assert.Equal(t, "vault", event.Scope)
		assert.Equal(t, "0xvault", event.Key)
		assert.Equal(t, "v1", event.Version)
		assert.Equal(t, risk.GradeBMinus, event.Grade)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for score event")
	}
}

func TestRateMarketCacheability(t *testing.T) {
	data := &stubData{market: calmMarket("0xmarket")}
	svc := newTestService(t, data)
	ctx := context.Background()

	// Poison the rating cache so a cache-bypassing call is observable.
	poisoned := curator.Rating{MarketKey: "0xmarket", Tier: curator.Tier("poisoned")}
	require.NoError(t, svc.cache.SetRating(ctx, "0xmarket", poisoned, time.Minute))

	fresh, err := svc.RateMarket(ctx, "0xmarket", curator.DefaultConfig(), false)
	require.NoError(t, err)
	assert.NotEqual(t, poisoned.Tier, fresh.Tier)
	require.NotNil(t, fresh.Rating)

	served, err := svc.RateMarket(ctx, "0xmarket", curator.DefaultConfig(), true)
	require.NoError(t, err)
	assert.Equal(t, poisoned.Tier, served.Tier)
}
