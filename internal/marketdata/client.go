package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	graphql "github.com/hasura/go-graphql-client"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/metrics"
	"github.com/vaultline/vaultline-backend/internal/risk"
)

var (
	// ErrMarketNotFound is returned when the data API has no market for a key.
	ErrMarketNotFound = errors.New("market not found")
	// ErrVaultNotFound is returned when the data API has no vault at an address.
	ErrVaultNotFound = errors.New("vault not found")
)

// Health describes the client's view of the upstream data API.
type Health struct {
	Healthy     bool      `json:"healthy"`
	LastSuccess time.Time `json:"lastSuccess"`
	LastError   string    `json:"lastError,omitempty"`
}

// Client fetches markets and vaults from the lending-protocol data API and
// hands back normalized records.
type Client struct {
	gql     *graphql.Client
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	chainID  int
	pageSize int
	timeout  time.Duration

	mu     sync.RWMutex
	health Health
}

// NewClient creates a data API client against the given GraphQL endpoint.
func NewClient(endpoint string, chainID, pageSize int, timeout time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		gql:      graphql.NewClient(endpoint, &http.Client{Timeout: timeout}),
		logger:   logger,
		metrics:  m,
		chainID:  chainID,
		pageSize: pageSize,
		timeout:  timeout,
		health: Health{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

// Health returns the current upstream health snapshot.
func (c *Client) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

func (c *Client) updateHealth(healthy bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.health.Healthy = healthy
	if healthy {
		c.health.LastSuccess = time.Now()
		c.health.LastError = ""
	} else if err != nil {
		c.health.LastError = err.Error()
	}
}

// exec runs a raw GraphQL query and unmarshals the data payload into out.
func (c *Client) exec(ctx context.Context, operation, query string, variables map[string]interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.gql.ExecRaw(ctx, query, variables)
	if c.metrics != nil {
		c.metrics.RecordUpstreamRequest(ctx, operation, err == nil, time.Since(start))
	}
	if err != nil {
		c.updateHealth(false, err)
		return fmt.Errorf("data api %s: %w", operation, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		c.updateHealth(false, err)
		return fmt.Errorf("data api %s: decode response: %w", operation, err)
	}

	c.updateHealth(true, nil)
	return nil
}

// MarketByKey fetches one market by its unique key. Returns
// ErrMarketNotFound when the API resolves the key to null.
func (c *Client) MarketByKey(ctx context.Context, key string) (risk.Market, error) {
	var resp struct {
		Market *Market `json:"marketByUniqueKey"`
	}
	vars := map[string]interface{}{
		"key":     key,
		"chainId": c.chainID,
	}
	if err := c.exec(ctx, "marketByUniqueKey", marketByKeyQuery, vars, &resp); err != nil {
		return risk.Market{}, err
	}
	if resp.Market == nil {
		return risk.Market{}, fmt.Errorf("market %s: %w", key, ErrMarketNotFound)
	}

	c.logger.Debugw("Fetched market", "key", key)
	return normalizeMarket(*resp.Market), nil
}

// Markets fetches one page of markets on the configured chain.
func (c *Client) Markets(ctx context.Context) ([]risk.Market, error) {
	var resp struct {
		Markets struct {
			Items []Market `json:"items"`
		} `json:"markets"`
	}
	vars := map[string]interface{}{
		"first":   c.pageSize,
		"chainId": c.chainID,
	}
	if err := c.exec(ctx, "markets", marketsQuery, vars, &resp); err != nil {
		return nil, err
	}

	markets := make([]risk.Market, 0, len(resp.Markets.Items))
	for _, raw := range resp.Markets.Items {
		markets = append(markets, normalizeMarket(raw))
	}

	c.logger.Debugw("Fetched markets", "count", len(markets))
	return markets, nil
}

// VaultV1 fetches a V1 vault and its market allocations. Returns
// ErrVaultNotFound when the API resolves the address to null.
func (c *Client) VaultV1(ctx context.Context, address string) (risk.VaultAllocations, error) {
	var resp struct {
		Vault *Vault `json:"vaultByAddress"`
	}
	vars := map[string]interface{}{
		"address": address,
		"chainId": c.chainID,
	}
	if err := c.exec(ctx, "vaultByAddress", vaultByAddressQuery, vars, &resp); err != nil {
		return risk.VaultAllocations{}, err
	}
	if resp.Vault == nil {
		return risk.VaultAllocations{}, fmt.Errorf("vault %s: %w", address, ErrVaultNotFound)
	}

	c.logger.Debugw("Fetched vault", "address", address, "version", "v1")
	return normalizeVault(*resp.Vault), nil
}

// VaultV2 fetches a V2 vault and its adapter tree. Returns ErrVaultNotFound
// when the API resolves the address to null.
func (c *Client) VaultV2(ctx context.Context, address string) (risk.VaultAllocations, error) {
	var resp struct {
		Vault *VaultV2 `json:"vaultV2ByAddress"`
	}
	vars := map[string]interface{}{
		"address": address,
		"chainId": c.chainID,
	}
	if err := c.exec(ctx, "vaultV2ByAddress", vaultV2ByAddressQuery, vars, &resp); err != nil {
		return risk.VaultAllocations{}, err
	}
	if resp.Vault == nil {
		return risk.VaultAllocations{}, fmt.Errorf("vault %s: %w", address, ErrVaultNotFound)
	}

	c.logger.Debugw("Fetched vault", "address", address, "version", "v2")
	return normalizeVaultV2(*resp.Vault), nil
}
