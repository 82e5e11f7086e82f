// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/infra/adapters/compute"
	"ai-analysis-gateway/internal/infra/api"
	"ai-analysis-gateway/internal/infra/breaker"
	"ai-analysis-gateway/internal/infra/cache"
	"ai-analysis-gateway/internal/infra/logging"
	"ai-analysis-gateway/internal/infra/metrics"
	red "ai-analysis-gateway/internal/infra/redis"
	"ai-analysis-gateway/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "console logging at debug level")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev, "gateway")
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, "gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Shared store ----
	store, err := red.Open(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("store")
	}
	defer store.Close()
	jobs := red.NewJobStore(store)
	system := red.NewSystemStateRepo(store)
	clock := clockwork.NewRealClock()

	// ---- Compute worker client ----
	worker := compute.NewClient(cfg.Worker, logger)
	if !worker.Enabled() {
		logger.Warn().Msg("worker.url empty; triggers are skipped and /analyze falls back")
	}

	// ---- Use cases ----
	jobUC := usecase.NewJobUseCase(jobs, jobs, system, worker, red.NewRateLimiter(store), clock, cfg.Jobs, logger)
	stream := usecase.NewStreamDelivery(jobs, system, clock, cfg.Stream, cfg.Jobs.MaxRetries, logger)
	responses := cache.New(cfg.Cache, store, logger)
	analysis := usecase.NewAnalysisUseCase(
		responses,
		breaker.New(cfg.Breaker, logger),
		worker,
		usecase.NewRetryBudgetPlanner(cfg.Budget),
		clock,
		cfg.Budget.MaxAttemptTimeout,
		logger,
	)

	// ---- HTTP ----
	srv := api.NewServer(jobUC, analysis, stream, responses, system, store, api.NewAuthManager(cfg.Auth.JWTSecret), cfg.Budget.RouteBudget, logger)
	srv.ServeMetrics = cfg.Admin.Port == 0
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("auth.jwt_secret empty; API is unauthenticated")
	}

	// streams watch the base context so shutdown ends them instead of waiting out the cap
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Serve(gctx, httpSrv, cfg.Server.ShutdownWait, logger) })
	if cfg.Admin.Port != 0 {
		adminSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Admin.Port), Handler: api.Chain(metrics.Handler(), api.Recover(logger)), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return api.Serve(gctx, adminSrv, cfg.Server.ShutdownWait, logger) })
	}

	logger.Info().Str("version", version).Int("port", cfg.Server.Port).Msg("gateway started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("gateway stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("gateway stopped")
}
