package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env       string `mapstructure:"VLN_ENV"`
	HTTPAddr  string `mapstructure:"VLN_HTTP_ADDR"`
	PublicURL string `mapstructure:"VLN_PUBLIC_ORIGIN"`

	Data      DataAPIConfig   `mapstructure:",squash"`
	Chain     ChainConfig     `mapstructure:",squash"`
	Cache     CacheConfig     `mapstructure:",squash"`
	Scoring   ScoringConfig   `mapstructure:",squash"`
	Watchlist WatchlistConfig `mapstructure:",squash"`
	Jobs      JobsConfig      `mapstructure:",squash"`
	Security  SecurityConfig  `mapstructure:",squash"`
}

// DataAPIConfig points at the lending-protocol GraphQL API the dashboard reads
// market and vault state from.
type DataAPIConfig struct {
	GraphURL       string        `mapstructure:"VLN_GRAPH_URL"`
	ChainID        int64         `mapstructure:"VLN_GRAPH_CHAIN_ID"`
	RequestTimeout time.Duration `mapstructure:"VLN_GRAPH_TIMEOUT"`
	PageSize       int           `mapstructure:"VLN_GRAPH_PAGE_SIZE"`
}

// ChainConfig points at an EVM JSON-RPC endpoint used for oracle freshness and
// IRM target reads. An empty RPC URL disables on-chain reads; the scoring
// engine then runs entirely on its documented fallbacks.
type ChainConfig struct {
	RPCURL      string        `mapstructure:"VLN_EVM_RPC_URL"`
	CallTimeout time.Duration `mapstructure:"VLN_EVM_CALL_TIMEOUT"`
}

type CacheConfig struct {
	RedisAddr string        `mapstructure:"VLN_REDIS_ADDR"`
	ScoreTTL  time.Duration `mapstructure:"VLN_SCORE_CACHE_TTL"`
	MarketTTL time.Duration `mapstructure:"VLN_MARKET_CACHE_TTL"`
}

type ScoringConfig struct {
	FallbackTargetUtilization float64 `mapstructure:"VLN_FALLBACK_TARGET_UTILIZATION"`
	MaxConcurrentMarkets      int     `mapstructure:"VLN_MAX_CONCURRENT_MARKETS"`
}

// WatchlistConfig lists the vaults the operator tracks. Entries are
// "address@version@label" with version and label optional, e.g.
// "0xd8...91@v2@Flagship ETH".
type WatchlistConfig struct {
	Vaults []string `mapstructure:"VLN_WATCHLIST"`
}

type JobsConfig struct {
	PublisherEnabled bool          `mapstructure:"VLN_PUBLISHER_ENABLED"`
	PublishInterval  time.Duration `mapstructure:"VLN_PUBLISH_INTERVAL"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"VLN_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"VLN_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("backend", ".env"),
		filepath.Join("..", ".env"),
		filepath.Join("..", "backend", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if !filepath.IsAbs(path) {
			if resolved, err := filepath.Abs(path); err == nil {
				abs = resolved
			}
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("VLN_ENV", "dev")
	viper.SetDefault("VLN_HTTP_ADDR", ":8080")
	viper.SetDefault("VLN_PUBLIC_ORIGIN", "http://localhost:3000")
	viper.SetDefault("VLN_GRAPH_URL", "https://blue-api.morpho.org/graphql")
	viper.SetDefault("VLN_GRAPH_CHAIN_ID", 1)
	viper.SetDefault("VLN_GRAPH_TIMEOUT", "10s")
	viper.SetDefault("VLN_GRAPH_PAGE_SIZE", 100)
	viper.SetDefault("VLN_EVM_RPC_URL", "https://eth.llamarpc.com")
	viper.SetDefault("VLN_EVM_CALL_TIMEOUT", "5s")
	viper.SetDefault("VLN_REDIS_ADDR", "127.0.0.1:6379")
	viper.SetDefault("VLN_SCORE_CACHE_TTL", "30s")
	viper.SetDefault("VLN_MARKET_CACHE_TTL", "60s")
	viper.SetDefault("VLN_FALLBACK_TARGET_UTILIZATION", 0.90)
	viper.SetDefault("VLN_MAX_CONCURRENT_MARKETS", 8)
	viper.SetDefault("VLN_WATCHLIST", "")
	viper.SetDefault("VLN_PUBLISHER_ENABLED", true)
	viper.SetDefault("VLN_PUBLISH_INTERVAL", "30s")
	viper.SetDefault("VLN_RATE_LIMIT_RPM", 120)
	viper.SetDefault("VLN_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")

	// Handle array parsing for comma-separated values
	if vaults := viper.GetString("VLN_WATCHLIST"); vaults != "" {
		viper.Set("VLN_WATCHLIST", splitAndTrim(vaults))
	}
	if origins := viper.GetString("VLN_CORS_ALLOWED_ORIGINS"); origins != "" {
		viper.Set("VLN_CORS_ALLOWED_ORIGINS", splitAndTrim(origins))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Data.GraphURL == "" {
		return fmt.Errorf("VLN_GRAPH_URL is required")
	}
	if c.Data.RequestTimeout <= 0 {
		return fmt.Errorf("VLN_GRAPH_TIMEOUT must be positive")
	}
	if c.Data.PageSize <= 0 || c.Data.PageSize > 1000 {
		return fmt.Errorf("VLN_GRAPH_PAGE_SIZE must be in (0, 1000]")
	}
	if c.Chain.RPCURL != "" && c.Chain.CallTimeout <= 0 {
		return fmt.Errorf("VLN_EVM_CALL_TIMEOUT must be positive")
	}
	if t := c.Scoring.FallbackTargetUtilization; t <= 0 || t > 1 {
		return fmt.Errorf("VLN_FALLBACK_TARGET_UTILIZATION must be in (0, 1]")
	}
	if c.Scoring.MaxConcurrentMarkets <= 0 {
		return fmt.Errorf("VLN_MAX_CONCURRENT_MARKETS must be positive")
	}
	if c.Jobs.PublisherEnabled && c.Jobs.PublishInterval <= 0 {
		return fmt.Errorf("VLN_PUBLISH_INTERVAL must be positive")
	}
	if c.Security.RateLimitRPM <= 0 {
		return fmt.Errorf("VLN_RATE_LIMIT_RPM must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
