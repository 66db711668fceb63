// Package api exposes the miner over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
)

type MineExecutor interface {
	Execute(ctx context.Context, req proto.MineRequest) (*proto.MineResponse, error)
}

// RunStore reads persisted runs and appends to datasets.
type RunStore interface {
	LatestRun(ctx context.Context, dataset string) (*proto.RunSummary, error)
	ListPatterns(ctx context.Context, runID string, limit int) ([]proto.PatternDTO, error)
	AppendTransactions(ctx context.Context, dataset string, txs [][]string) (int64, error)
}

type Handler struct {
	runner   MineExecutor
	store    RunStore
	cache    *cache.ResultCache
	maxBody  int64
	throttle func(http.Handler) http.Handler
	logger   *slog.Logger
}

// New creates a Handler. store and resultCache may be nil; the endpoints
// that need them then answer 503.
func New(runner MineExecutor, store RunStore, resultCache *cache.ResultCache, maxBody int64) *Handler {
	return &Handler{
		runner:  runner,
		store:   store,
		cache:   resultCache,
		maxBody: maxBody,
		logger:  slog.Default().With("component", "api-handler"),
	}
}

// ThrottleMining wraps the mining endpoint in mw. It must be called before
// Register.
func (h *Handler) ThrottleMining(mw func(http.Handler) http.Handler) *Handler {
	h.throttle = mw
	return h
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	var mine http.Handler = http.HandlerFunc(h.Mine)
	if h.throttle != nil {
		mine = h.throttle(mine)
	}
	mux.Handle("POST /api/v1/mine", mine)
	mux.HandleFunc("GET /api/v1/runs/{dataset}", h.LatestRun)
	mux.HandleFunc("POST /api/v1/datasets/{dataset}/transactions", h.AppendTransactions)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req proto.MineRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = middleware.GetRequestID(ctx)
	}

	resp, err := h.runner.Execute(ctx, req)
	if err != nil {
		h.writeAppError(ctx, w, "mining failed", err)
		return
	}
	log.Debug("mining request served", "run_id", resp.RunID, "patterns", len(resp.Patterns), "cached", resp.Cached)
	h.writeJSON(w, http.StatusOK, resp)
}

// LatestRun returns the most recent persisted run of a dataset with up to
// ?limit= patterns (default 100, 0 for all).
func (h *Handler) LatestRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run store is not configured")
		return
	}
	ctx := r.Context()
	dataset := r.PathValue("dataset")

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	run, err := h.store.LatestRun(ctx, dataset)
	if err != nil {
		h.writeAppError(ctx, w, "loading latest run failed", err)
		return
	}
	patterns, err := h.store.ListPatterns(ctx, run.RunID, limit)
	if err != nil {
		h.writeAppError(ctx, w, "listing patterns failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, proto.RunDetail{RunSummary: *run, Patterns: patterns})
}

type appendRequest struct {
	Transactions [][]string `json:"transactions"`
}

func (h *Handler) AppendTransactions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run store is not configured")
		return
	}
	dataset := r.PathValue("dataset")
	var req appendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Transactions) == 0 {
		h.writeError(w, http.StatusBadRequest, "transactions must not be empty")
		return
	}
	total, err := h.store.AppendTransactions(r.Context(), dataset, req.Transactions)
	if err != nil {
		h.writeAppError(r.Context(), w, "appending transactions failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"dataset": dataset,
		"added":   len(req.Transactions),
		"total":   total,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) writeAppError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx).Error(msg, "error", err)
		h.writeError(w, status, msg)
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
