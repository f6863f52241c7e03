package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/registry"
	"github.com/vaultline/vaultline-backend/internal/risk"
)

type stubVaults struct {
	entries []registry.Vault
}

func (s *stubVaults) List() []registry.Vault { return s.entries }

type stubRefresher struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
}

func (s *stubRefresher) RefreshVaultScore(ctx context.Context, address, version string) (risk.VaultScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, address+"@"+version)
	if err, ok := s.failFor[address]; ok {
		return risk.VaultScore{}, err
	}
	return risk.VaultScore{Address: address, Version: version, Composite: 80, Grade: risk.GradeB}, nil
}

func (s *stubRefresher) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func TestScorePublisherRefreshesOnStart(t *testing.T) {
	vaults := &stubVaults{entries: []registry.Vault{
		{Address: "0xaaa", Version: registry.VersionV1},
		{Address: "0xbbb", Version: registry.VersionV2},
	}}
	refresher := &stubRefresher{}

	pub := NewScorePublisher(vaults, refresher, zap.NewNop().Sugar(), ScorePublisherConfig{
		Interval: time.Hour, // Long enough that only the startup pass runs.
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Start(ctx) }()

	require.Eventually(t, func() bool {
		return len(refresher.seen()) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop after cancellation")
	}

	assert.Equal(t, []string{"0xaaa@v1", "0xbbb@v2"}, refresher.seen())
}

func TestScorePublisherContinuesPastFailures(t *testing.T) {
	vaults := &stubVaults{entries: []registry.Vault{
		{Address: "0xbad", Version: registry.VersionV1},
		{Address: "0xgood", Version: registry.VersionV1},
	}}
	refresher := &stubRefresher{failFor: map[string]error{"0xbad": errors.New("upstream down")}}

	pub := NewScorePublisher(vaults, refresher, zap.NewNop().Sugar(), ScorePublisherConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Start(ctx)

	require.Eventually(t, func() bool {
		calls := refresher.seen()
		return len(calls) == 2 && calls[1] == "0xgood@v1"
	}, time.Second, 10*time.Millisecond)
}

func TestScorePublisherTicks(t *testing.T) {
	vaults := &stubVaults{entries: []registry.Vault{{Address: "0xaaa", Version: registry.VersionV1}}}
	refresher := &stubRefresher{}

	pub := NewScorePublisher(vaults, refresher, zap.NewNop().Sugar(), ScorePublisherConfig{
		Interval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Start(ctx)

	// Startup pass plus at least one tick.
	require.Eventually(t, func() bool {
		return len(refresher.seen()) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestScorePublisherStopIsIdempotent(t *testing.T) {
	vaults := &stubVaults{}
	refresher := &stubRefresher{}
	pub := NewScorePublisher(vaults, refresher, zap.NewNop().Sugar(), DefaultScorePublisherConfig())

	done := make(chan struct{})
	go func() {
		pub.Start(context.Background())
		close(done)
	}()

	// Give Start a moment to install its cancel func.
	require.Eventually(t, func() bool {
		pub.Stop()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	pub.Stop()
	pub.Stop()
}

func TestDefaultScorePublisherConfig(t *testing.T) {
	cfg := DefaultScorePublisherConfig()
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 15*time.Second, cfg.PerVaultTimeout)

	// Zero values fall back to defaults.
	pub := NewScorePublisher(&stubVaults{}, &stubRefresher{}, zap.NewNop().Sugar(), ScorePublisherConfig{})
	assert.Equal(t, cfg.Interval, pub.config.Interval)
	assert.Equal(t, cfg.PerVaultTimeout, pub.config.PerVaultTimeout)
}
