// Package onchain reads oracle freshness and interest-rate-model parameters
// directly from the chain over JSON-RPC. Every lookup returns a value plus an
// ok flag; callers treat a false flag as a signal to fall back, never as an
// error to propagate.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/metrics"
	"github.com/vaultline/vaultline-backend/internal/risk"
)

const aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

const irmABIJSON = `[{"inputs":[],"name":"kink","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var (
	aggregatorABI = mustABI(aggregatorABIJSON)
	irmABI        = mustABI(irmABIJSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Client is a read-only JSON-RPC client for oracle and IRM lookups. It
// implements risk.OracleResolver and risk.TargetResolver.
type Client struct {
	eth     *ethclient.Client
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewClient dials the RPC endpoint. The timeout bounds each contract call,
// not the dial.
func NewClient(ctx context.Context, rpcURL string, callTimeout time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) (*Client, error) {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", rpcURL, err)
	}
	return &Client{
		eth:     eth,
		logger:  logger,
		metrics: m,
		timeout: callTimeout,
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// OracleTimestamp resolves the last update time of a market's price oracle.
// The oracle contract itself is tried first, then the underlying base and
// quote feeds of composite oracles. The first address that answers
// latestRoundData with a nonzero updatedAt wins.
func (c *Client) OracleTimestamp(ctx context.Context, oracle risk.OracleRef) (time.Time, bool) {
	for _, addr := range feedCandidates(oracle) {
		ts, err := c.latestUpdate(ctx, addr)
		if err != nil {
			c.logger.Debugw("Oracle feed lookup failed", "feed", addr.Hex(), "error", err)
			continue
		}
		if ts.IsZero() {
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordChainLookup(ctx, "oracle", true)
		}
		return ts, true
	}

	if c.metrics != nil {
		c.metrics.RecordChainLookup(ctx, "oracle", false)
	}
	return time.Time{}, false
}

func (c *Client) latestUpdate(ctx context.Context, addr common.Address) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to pack latestRoundData: %w", err)
	}

	ret, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input}, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to call latestRoundData: %w", err)
	}

	return decodeUpdatedAt(ret)
}

// TargetUtilization reads the IRM's kink, the utilization the rate curve
// steers toward. The contract reports it 10^18-scaled; only values in (0, 1]
// count as resolved.
func (c *Client) TargetUtilization(ctx context.Context, irmAddress string) (float64, bool) {
	if !common.IsHexAddress(irmAddress) {
		return 0, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input, err := irmABI.Pack("kink")
	if err != nil {
		c.logger.Warnw("Failed to pack kink call", "error", err)
		return 0, false
	}

	addr := common.HexToAddress(irmAddress)
	ret, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input}, nil)
	if err != nil {
		c.logger.Debugw("IRM kink lookup failed", "irm", irmAddress, "error", err)
		if c.metrics != nil {
			c.metrics.RecordChainLookup(ctx, "irm", false)
		}
		return 0, false
	}

	target, err := decodeKink(ret)
	ok := err == nil && target > 0 && target <= 1
	if err != nil {
		c.logger.Debugw("IRM kink decode failed", "irm", irmAddress, "error", err)
	}
	if c.metrics != nil {
		c.metrics.RecordChainLookup(ctx, "irm", ok)
	}
	if !ok {
		return 0, false
	}
	return target, true
}

// feedCandidates returns the plausible aggregator addresses of an oracle
// reference, deduplicated, skipping anything that is not a hex address or is
// the zero address.
func feedCandidates(oracle risk.OracleRef) []common.Address {
	var out []common.Address
	seen := make(map[common.Address]bool, 3)
	for _, raw := range []string{oracle.Address, oracle.BaseFeed, oracle.QuoteFeed} {
		if !common.IsHexAddress(raw) {
			continue
		}
		addr := common.HexToAddress(raw)
		if addr == (common.Address{}) || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// decodeUpdatedAt extracts the updatedAt field from a latestRoundData return.
func decodeUpdatedAt(ret []byte) (time.Time, error) {
	out, err := aggregatorABI.Unpack("latestRoundData", ret)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to unpack latestRoundData: %w", err)
	}
	if len(out) != 5 {
		return time.Time{}, fmt.Errorf("unexpected latestRoundData arity: %d", len(out))
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected updatedAt type %T", out[3])
	}
	if updatedAt.Sign() <= 0 || !updatedAt.IsInt64() {
		return time.Time{}, nil
	}
	return time.Unix(updatedAt.Int64(), 0), nil
}

// decodeKink extracts the 10^18-scaled kink from a kink() return and converts
// it to a fraction.
func decodeKink(ret []byte) (float64, error) {
	out, err := irmABI.Unpack("kink", ret)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack kink: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("unexpected kink arity: %d", len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected kink type %T", out[0])
	}
	return decimal.NewFromBigInt(v, -18).InexactFloat64(), nil
}

// Disabled is the resolver wired in when no RPC endpoint is configured.
// Every lookup reports unresolved, so scoring degrades to its fallbacks
// instead of failing.
type Disabled struct{}

func (Disabled) OracleTimestamp(context.Context, risk.OracleRef) (time.Time, bool) {
	return time.Time{}, false
}

func (Disabled) TargetUtilization(context.Context, string) (float64, bool) {
	return 0, false
}
