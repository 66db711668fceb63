package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/api"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/tracing"
)

const maxRequestBody = 64 << 20

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting miner service",
		"port", cfg.Server.Port,
		"min_support", cfg.Mining.MinSupport,
		"ordered", cfg.Mining.Ordered,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(ctx, cfg.Metrics.Port); err != nil {
			slog.Error("metrics server disabled", "error", err)
		}
	}

	checker := health.NewChecker()
	deps := jobs.Deps{
		Engine: mining.NewEngine(m),
		Trace:  tracing.Sampler{Enabled: cfg.Tracing.Enabled, Rate: cfg.Tracing.SampleRate},
	}

	breaker := resilience.NewCircuitBreaker("postgres", resilience.CircuitBreakerConfig{
		// Unknown datasets and rejected input say nothing about the database.
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled) && apperrors.HTTPStatusCode(err) >= http.StatusInternalServerError
		},
		OnStateChange: func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	var runStore api.RunStore
	openCtx, cancelOpen := context.WithTimeout(ctx, 10*time.Second)
	st, err := store.Open(openCtx, cfg.Postgres, breaker)
	cancelOpen()
	if err != nil {
		slog.Warn("postgres unavailable, datasets and persistence disabled", "error", err)
		checker.Register("postgres", health.Static(health.StatusDegraded, "unavailable at startup"))
	} else {
		defer st.Close()
		deps.Source, deps.Sink, runStore = st, st, st
		checker.Register("postgres", health.PingCheck(st.Ping, health.StatusDown))
		slog.Info("run store ready", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	redisCtx, cancelRedis := context.WithTimeout(ctx, 5*time.Second)
	redisClient, err := pkgredis.NewClient(redisCtx, cfg.Redis)
	cancelRedis()
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
		checker.Register("redis", health.Static(health.StatusDegraded, "unavailable at startup"))
	} else {
		defer redisClient.Close()
		deps.Cache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
		checker.Register("redis", health.PingCheck(redisClient.Ping, health.StatusDegraded))
		slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	kafkaEnabled := len(cfg.Kafka.Brokers) > 0
	if kafkaEnabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.MiningComplete)
		defer producer.Close()
		deps.Publisher = producer
	}

	runner := jobs.NewRunner(cfg.Mining, deps)

	if kafkaEnabled {
		var opts []kafka.Option
		if cfg.Kafka.Topics.MiningJobsDeadLetter != "" {
			deadLetters := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.MiningJobsDeadLetter)
			defer deadLetters.Close()
			opts = append(opts, kafka.WithDeadLetter(deadLetters))
		}
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.MiningJobs, jobs.HandleMessage(runner, m), opts...)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("job consumer stopped", "error", err)
			}
		}()
		slog.Info("job consumer started",
			"brokers", cfg.Kafka.Brokers,
			"jobs_topic", cfg.Kafka.Topics.MiningJobs,
			"completion_topic", cfg.Kafka.Topics.MiningComplete,
			"dead_letter_topic", cfg.Kafka.Topics.MiningJobsDeadLetter,
		)
	} else {
		slog.Info("no kafka brokers configured, job consumer disabled")
	}

	var rpcServer *grpc.Server
	if cfg.Server.RPCPort > 0 {
		rpcServer = grpc.NewServer()
		api.RegisterRPC(rpcServer, runner)
		go func() {
			if err := rpcServer.Serve(fmt.Sprintf(":%d", cfg.Server.RPCPort)); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
	}

	h := api.New(runner, runStore, deps.Cache, maxRequestBody)
	if cfg.Server.MineRateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.MineRateLimit, time.Minute)
		go limiter.Run(ctx, 5*time.Minute)
		h.ThrottleMining(middleware.RateLimit(limiter))
	}
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.RequestID(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins))(chain)
	chain = middleware.Metrics(m)(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if rpcServer != nil {
			rpcServer.Stop()
		}
	}()

	slog.Info("miner service listening", "addr", server.Addr, "rpc_port", cfg.Server.RPCPort)
	start := time.Now()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("miner service stopped", "uptime", time.Since(start).Round(time.Second))
}
