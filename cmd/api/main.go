package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaultline/vaultline-backend/internal/api"
	"github.com/vaultline/vaultline-backend/internal/config"
	"github.com/vaultline/vaultline-backend/internal/jobs"
	"github.com/vaultline/vaultline-backend/internal/log"
	"github.com/vaultline/vaultline-backend/internal/marketdata"
	"github.com/vaultline/vaultline-backend/internal/metrics"
	"github.com/vaultline/vaultline-backend/internal/onchain"
	"github.com/vaultline/vaultline-backend/internal/registry"
	"github.com/vaultline/vaultline-backend/internal/risk"
	"github.com/vaultline/vaultline-backend/internal/scores"
	"github.com/vaultline/vaultline-backend/internal/store"
	"github.com/vaultline/vaultline-backend/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting vaultline API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"version", "v1.0.0",
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("vaultline-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer startupCancel()

	// Setup Redis cache (falls back to in-memory when Redis is unreachable)
	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()

	if err := cache.Ping(startupCtx); err != nil {
		logger.Fatalw("Cache ping failed", "error", err)
	}
	logger.Infow("Cache ready", "in_memory", cache.IsInMemoryMode())

	// Data API client
	dataClient := marketdata.NewClient(
		cfg.Data.GraphURL,
		int(cfg.Data.ChainID),
		cfg.Data.PageSize,
		cfg.Data.RequestTimeout,
		logger,
		metricsObj,
	)

	// On-chain resolvers. With no RPC endpoint the engine runs entirely on
	// its documented fallbacks.
	var (
		oracles risk.OracleResolver
		targets risk.TargetResolver
	)
	if cfg.Chain.RPCURL == "" {
		logger.Warnw("EVM RPC not configured; oracle and IRM reads disabled")
		disabled := onchain.Disabled{}
		oracles, targets = disabled, disabled
	} else {
		chainClient, err := onchain.NewClient(startupCtx, cfg.Chain.RPCURL, cfg.Chain.CallTimeout, logger, metricsObj)
		if err != nil {
			logger.Warnw("EVM RPC dial failed; oracle and IRM reads disabled", "error", err)
			disabled := onchain.Disabled{}
			oracles, targets = disabled, disabled
		} else {
			defer chainClient.Close()
			oracles, targets = chainClient, chainClient
		}
	}

	// Scoring engine and services
	riskCfg := risk.DefaultConfig()
	riskCfg.FallbackTargetUtilization = cfg.Scoring.FallbackTargetUtilization
	riskCfg.MaxConcurrentMarkets = cfg.Scoring.MaxConcurrentMarkets
	engine := risk.NewEngine(riskCfg, oracles, targets, logger)

	scoresSvc := scores.NewService(dataClient, engine, cache, cfg.Cache.ScoreTTL, cfg.Cache.MarketTTL, logger, metricsObj)
	vaultRegistry := registry.NewService(cfg.Watchlist.Vaults, logger)

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(cache, logger, metricsObj, cfg.Security.CORSAllowedOrigins)
	sseHandler := ws.NewSSEHandler(cache, logger, cfg.Security.CORSAllowedOrigins)

	// Create context for background services
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()

	// Start WebSocket hub in background
	go wsHub.Run(hubCtx)

	// Setup and start the score publisher
	if cfg.Jobs.PublisherEnabled {
		publisher := jobs.NewScorePublisher(vaultRegistry, scoresSvc, logger, jobs.ScorePublisherConfig{
			Interval: cfg.Jobs.PublishInterval,
		})
		defer publisher.Stop()

		go func() {
			if err := publisher.Start(hubCtx); err != nil && err != context.Canceled {
				logger.Errorw("Score publisher error", "error", err)
			}
		}()
	}

	// Setup API handler and middleware
	handler := api.NewHandler(scoresSvc, vaultRegistry, dataClient, wsHub, sseHandler, cache, logger)
	middleware := api.NewMiddleware(logger, metricsObj)

	// Create router with middleware and routes - pass security config to Routes
	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)

	// Log configured CORS origins for easier debugging in dev
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Add metrics endpoint
	router.Handle("/metrics", metricsHandler)

	// Setup HTTP server. WriteTimeout stays unset: the streaming endpoints
	// hold responses open, and REST routes are bounded by the timeout
	// middleware instead.
	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
