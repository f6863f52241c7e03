package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline-backend/internal/curator"
	"github.com/vaultline/vaultline-backend/internal/marketdata"
	"github.com/vaultline/vaultline-backend/internal/registry"
	"github.com/vaultline/vaultline-backend/internal/scores"
	"github.com/vaultline/vaultline-backend/internal/store"
	"github.com/vaultline/vaultline-backend/internal/ws"
)

type Handler struct {
	scores     *scores.Service
	vaults     *registry.Service
	upstream   *marketdata.Client
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	cache      *store.Cache
	logger     *zap.SugaredLogger
}

func NewHandler(
	scoresSvc *scores.Service,
	vaults *registry.Service,
	upstream *marketdata.Client,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	cache *store.Cache,
	logger *zap.SugaredLogger,
) *Handler {
	return &Handler{
		scores:     scoresSvc,
		vaults:     vaults,
		upstream:   upstream,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		cache:      cache,
		logger:     logger,
	}
}

// Market endpoints
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.scores.ListMarkets(r.Context())
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	dtos := make([]MarketDTO, 0, len(markets))
	for _, m := range markets {
		dtos = append(dtos, toMarketDTO(m))
	}

	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMETER", "market key is required")
		return
	}

	market, err := h.scores.GetMarket(r.Context(), key)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toMarketDTO(market))
}

func (h *Handler) GetMarketScore(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMETER", "market key is required")
		return
	}

	score, err := h.scores.GetMarketScore(r.Context(), key)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toMarketScoreDTO(score))
}

// GetMarketRating rates a market against the curation policy. Every policy
// parameter can be overridden per request through query parameters; overridden
// requests bypass the rating cache so experiments never shadow the defaults.
func (h *Handler) GetMarketRating(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMETER", "market key is required")
		return
	}

	query := r.URL.Query()
	cfg := curator.DefaultConfig().WithQueryOverrides(query)

	rating, err := h.scores.RateMarket(r.Context(), key, cfg, !hasRatingOverrides(query))
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rating)
}

// Vault endpoints
func (h *Handler) ListVaults(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.vaults.List())
}

func (h *Handler) GetVaultScore(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_PARAMETER", "vault address is required")
		return
	}

	version := r.URL.Query().Get("version")
	if version == "" {
		if entry, ok := h.vaults.Get(address); ok {
			version = entry.Version
		}
	}

	score, err := h.scores.GetVaultScore(r.Context(), address, version)
	if err != nil {
		if errors.Is(err, scores.ErrUnsupportedVersion) {
			h.writeError(w, http.StatusBadRequest, "INVALID_VERSION", err.Error())
			return
		}
		h.writeUpstreamError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toVaultScoreDTO(score))
}

// Health and ops endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var reasons []string

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			reasons = append(reasons, "CACHE_UNAVAILABLE")
		}
	}
	if h.upstream != nil {
		if health := h.upstream.Health(); !health.Healthy {
			reasons = append(reasons, "UPSTREAM_UNHEALTHY")
		}
	}

	dto := HealthDTO{Status: "ready", Reasons: reasons}
	status := http.StatusOK
	if len(reasons) > 0 {
		dto.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, dto)
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Errorw("API error", "code", code, "message", message, "status", status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Code:    code,
		Message: message,
	}
	json.NewEncoder(w).Encode(err)
}

// writeUpstreamError maps data-API failures onto HTTP statuses: a resolved
// null is a 404, anything else is the upstream's fault.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, marketdata.ErrMarketNotFound):
		h.writeError(w, http.StatusNotFound, "MARKET_NOT_FOUND", err.Error())
	case errors.Is(err, marketdata.ErrVaultNotFound):
		h.writeError(w, http.StatusNotFound, "VAULT_NOT_FOUND", err.Error())
	default:
		h.writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	}
}

var ratingParams = []string{
	curator.ParamUtilizationCeiling,
	curator.ParamUtilizationBuffer,
	curator.ParamRateEpsilon,
	curator.ParamBenchmarkRate,
	curator.ParamPriceStress,
	curator.ParamLiquidityStress,
	curator.ParamMinLiquidity,
	curator.ParamInsolvencyTolerance,
	curator.ParamWeightUtilization,
	curator.ParamWeightRate,
	curator.ParamWeightStress,
	curator.ParamWeightLiquidity,
	curator.ParamWeightCapacity,
}

func hasRatingOverrides(query url.Values) bool {
	for _, param := range ratingParams {
		if query.Get(param) != "" {
			return true
		}
	}
	return false
}
