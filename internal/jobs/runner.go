// Package jobs turns mining requests into mining runs: it resolves the
// input transactions, consults the result cache, runs the engine, persists
// the run and announces its completion. The HTTP API, the RPC surface and
// the Kafka job consumer all go through the same Runner.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/dataset"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/tracing"
)

// TransactionSource resolves a named dataset into transactions.
type TransactionSource interface {
	LoadTransactions(ctx context.Context, dataset string, maxTx int) ([][]string, error)
}

// RunSink persists a finished run.
type RunSink interface {
	SaveRun(ctx context.Context, run proto.RunSummary, patterns []proto.PatternDTO) error
}

// Deps are the Runner's collaborators. Only Engine is required; a missing
// Source or Sink makes requests that need them fail with ErrUnavailable, a
// missing Cache or Publisher is skipped.
type Deps struct {
	Engine    *mining.Engine
	Source    TransactionSource
	Sink      RunSink
	Cache     *cache.ResultCache
	Publisher kafka.Publisher
	Trace     tracing.Sampler
}

// Runner executes mining requests.
type Runner struct {
	cfg    config.MiningConfig
	deps   Deps
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// NewRunner creates a Runner whose unset request tunables default to cfg.
func NewRunner(cfg config.MiningConfig, deps Deps) *Runner {
	return &Runner{
		cfg:  cfg,
		deps: deps,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			Retryable:    isTransient,
		},
		logger: slog.Default().With("component", "job-runner"),
	}
}

// Execute runs one mining request end to end. A completion event is
// published whether or not the run succeeds.
func (r *Runner) Execute(ctx context.Context, req proto.MineRequest) (*proto.MineResponse, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	if req.RequestID != "" {
		ctx = logger.WithRequestID(ctx, req.RequestID)
	}
	ctx, span := tracing.StartSpan(ctx, "mining.job", runID)
	log := logger.FromContext(ctx).With("component", "job-runner")

	resp, err := r.execute(ctx, runID, req)

	span.SetAttr("dataset", req.Dataset)
	span.End()
	if r.deps.Trace.Sample() {
		span.Log(log)
	}

	completed := proto.MiningCompleted{
		RunID:       runID,
		RequestID:   req.RequestID,
		Dataset:     req.Dataset,
		Status:      proto.StatusSucceeded,
		LatencyMs:   time.Since(start).Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		completed.Status = proto.StatusFailed
		completed.Error = err.Error()
		log.Warn("mining job failed", "dataset", req.Dataset, "error", err)
	} else {
		resp.LatencyMs = completed.LatencyMs
		completed.TotalPatterns = resp.TotalPatterns
		log.Info("mining job completed",
			"dataset", req.Dataset,
			"patterns", resp.TotalPatterns,
			"cached", resp.Cached,
			"latency_ms", resp.LatencyMs,
		)
	}
	r.publish(ctx, completed)
	return resp, err
}

func (r *Runner) execute(ctx context.Context, runID string, req proto.MineRequest) (*proto.MineResponse, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}
	opts := r.options(req)
	// A cache hit never reaches the engine's own validation.
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	txs := req.Transactions
	if req.Dataset != "" {
		if r.deps.Source == nil {
			return nil, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "no transaction store configured")
		}
		loaded, err := r.deps.Source.LoadTransactions(ctx, req.Dataset, r.cfg.MaxTransactions)
		if err != nil {
			return nil, fmt.Errorf("loading dataset %q: %w", req.Dataset, err)
		}
		txs = loaded
	}

	data := dataset.FromSlice(txs, r.cfg.Parallelism).WithParallelism(r.cfg.Parallelism)
	key := cache.Key{Transactions: txs, MinSupport: opts.MinSupport, Ordered: opts.Ordered}
	cached, hit, err := r.deps.Cache.GetOrCompute(ctx, key, func() (*proto.MineResponse, error) {
		return r.mine(ctx, data, opts)
	})
	if err != nil {
		return nil, err
	}

	// The cached value is shared between callers, and its partition count
	// is the one of whichever request computed it.
	resp := *cached
	resp.RunID = runID
	resp.Dataset = req.Dataset
	resp.Cached = hit
	resp.NumPartitions = opts.NumPartitions
	if resp.NumPartitions == 0 {
		resp.NumPartitions = data.NumPartitions()
	}

	if req.Persist {
		if err := r.persist(ctx, &resp); err != nil {
			return nil, err
		}
	}
	if req.Limit > 0 && len(resp.Patterns) > req.Limit {
		resp.Patterns = resp.Patterns[:req.Limit:req.Limit]
	}
	return &resp, nil
}

func (r *Runner) validate(req proto.MineRequest) error {
	switch {
	case req.Dataset == "" && req.Transactions == nil:
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "one of dataset or transactions is required")
	case req.Dataset != "" && req.Transactions != nil:
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "dataset and transactions are mutually exclusive")
	case req.Persist && req.Dataset == "":
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "persist requires a named dataset")
	case req.Limit < 0:
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must not be negative")
	case r.cfg.MaxTransactions > 0 && len(req.Transactions) > r.cfg.MaxTransactions:
		return apperrors.Newf(apperrors.ErrTooLarge, http.StatusRequestEntityTooLarge,
			"%d transactions exceed the limit of %d", len(req.Transactions), r.cfg.MaxTransactions)
	}
	return nil
}

func (r *Runner) options(req proto.MineRequest) mining.Options {
	opts := mining.Options{
		MinSupport:    r.cfg.MinSupport,
		NumPartitions: r.cfg.NumPartitions,
		Ordered:       r.cfg.Ordered,
	}
	if req.MinSupport != 0 {
		opts.MinSupport = req.MinSupport
	}
	if req.NumPartitions != 0 {
		opts.NumPartitions = req.NumPartitions
	}
	if req.Ordered != nil {
		opts.Ordered = *req.Ordered
	}
	return opts
}

func (r *Runner) mine(ctx context.Context, data dataset.Dataset[[]string], opts mining.Options) (*proto.MineResponse, error) {
	var res *mining.Result[string]
	err := resilience.WithTimeout(ctx, r.cfg.RunTimeout, "mining run", func(ctx context.Context) error {
		var err error
		res, err = mining.Mine(ctx, r.deps.Engine, data, opts, strings.Compare)
		return err
	})
	if err != nil {
		var timeout *resilience.TimeoutError
		if errors.As(err, &timeout) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		return nil, err
	}
	return toResponse(res, opts), nil
}

func toResponse(res *mining.Result[string], opts mining.Options) *proto.MineResponse {
	resp := &proto.MineResponse{
		Ordered:         opts.Ordered,
		MinSupport:      opts.MinSupport,
		MinCount:        res.MinCount,
		NumTransactions: res.NumTransactions,
		NumPartitions:   res.NumPartitions,
		FrequentItems:   make([]proto.ItemCountDTO, len(res.FrequentItems)),
		Patterns:        make([]proto.PatternDTO, len(res.Patterns)),
		TotalPatterns:   len(res.Patterns),
	}
	for i, ic := range res.FrequentItems {
		resp.FrequentItems[i] = proto.ItemCountDTO{Item: ic.Item, Count: ic.Count}
	}
	for i, p := range res.Patterns {
		resp.Patterns[i] = proto.PatternDTO{Items: p.Items, Frequency: p.Frequency}
	}
	return resp
}

func (r *Runner) persist(ctx context.Context, resp *proto.MineResponse) error {
	if r.deps.Sink == nil {
		return apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "no run store configured")
	}
	run := proto.RunSummary{
		RunID:           resp.RunID,
		Dataset:         resp.Dataset,
		Ordered:         resp.Ordered,
		MinSupport:      resp.MinSupport,
		MinCount:        resp.MinCount,
		NumTransactions: resp.NumTransactions,
		TotalPatterns:   resp.TotalPatterns,
		CreatedAt:       time.Now().UTC(),
	}
	err := resilience.Retry(ctx, "save run", r.retry, func() error {
		return r.deps.Sink.SaveRun(ctx, run, resp.Patterns)
	})
	if err != nil {
		return fmt.Errorf("persisting run %s: %w", resp.RunID, err)
	}
	return nil
}

func (r *Runner) publish(ctx context.Context, event proto.MiningCompleted) {
	if r.deps.Publisher == nil {
		return
	}
	// The completion event outlives a cancelled request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := resilience.Retry(ctx, "publish completion", r.retry, func() error {
		return r.deps.Publisher.Publish(ctx, kafka.Event{Key: event.RunID, Value: event})
	})
	if err != nil {
		r.logger.Error("failed to publish completion", "run_id", event.RunID, "error", err)
	}
}

// isTransient reports whether err is worth retrying: client errors and an
// open circuit are not.
func isTransient(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	return apperrors.HTTPStatusCode(err) >= http.StatusInternalServerError
}
