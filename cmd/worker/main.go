// File: cmd/worker/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/domain/ports/adapter"
	"ai-analysis-gateway/internal/domain/ports/repository"
	aiAdapters "ai-analysis-gateway/internal/infra/adapters/ai"
	"ai-analysis-gateway/internal/infra/api"
	pg "ai-analysis-gateway/internal/infra/db/postgres"
	"ai-analysis-gateway/internal/infra/logging"
	"ai-analysis-gateway/internal/infra/metrics"
	red "ai-analysis-gateway/internal/infra/redis"
	"ai-analysis-gateway/internal/infra/worker"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "console logging at debug level")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev, "worker")
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := red.Open(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("store")
	}
	defer store.Close()
	jobs := red.NewJobStore(store)
	clock := clockwork.NewRealClock()

	// ---- Result archive (optional) ----
	var archive worker.Archiver
	if cfg.Database.URL != "" {
		db, err := pg.ConnectPostgres(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer db.Close()
		if err := pg.EnsureSchema(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("postgres schema")
		}
		archive = pg.NewResultArchive(db, logger)
	}

	// ---- AI ----
	ai, err := buildAI(ctx, cfg.AI, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ai adapter")
	}
	logger.Info().Str("provider", ai.Provider()).Str("model", ai.DefaultModel()).Msg("ai adapter ready")

	analyzer := worker.NewAnalyzer(ai, clock, logger)
	processor := worker.NewJobProcessor(jobs, red.NewLocker(store), analyzer, archive, clock, logger)
	pool := worker.NewPool(cfg.AI.Workers, logger)
	sweeper := worker.NewSweeper(jobs, pool, processor, cfg.AI.SweepInterval, logger)

	srv := worker.NewServer(pool, processor, analyzer, store, cfg.Worker.Token, logger)
	srv.ServeMetrics = cfg.Admin.Port == 0
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	pool.Start(poolCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Serve(gctx, httpSrv, cfg.Server.ShutdownWait, logger) })
	g.Go(func() error { sweeper.Run(gctx); return nil })
	if cfg.Admin.Port != 0 {
		adminSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Admin.Port), Handler: api.Chain(metrics.Handler(), api.Recover(logger)), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return api.Serve(gctx, adminSrv, cfg.Server.ShutdownWait, logger) })
	}

	logger.Info().Str("version", version).Int("port", cfg.Server.Port).Int("workers", cfg.AI.Workers).Msg("worker started")
	werr := g.Wait()

	// in-flight jobs get the shutdown window; unfinished ones stay processing
	// until their claim expires
	done := make(chan []string, 1)
	go func() { done <- pool.Stop() }()
	var left []string
	select {
	case left = <-done:
	case <-time.After(cfg.Server.ShutdownWait):
		logger.Warn().Msg("pool did not drain in time")
		stopPool()
		left = <-done
	}
	requeue(jobs, left, logger)

	if werr != nil {
		logger.Error().Err(werr).Msg("worker stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker stopped")
}

// buildAI picks providers from the configured keys. Without any key the noop
// adapter answers so the pipeline can run end to end locally.
func buildAI(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (adapter.AIServiceAdapter, error) {
	providers := map[string]adapter.AIServiceAdapter{}

	if cfg.OpenAIKey != "" {
		model := cfg.DefaultModel
		if strings.HasPrefix(strings.ToLower(model), "gemini") {
			model = ""
		}
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBaseURL, model, cfg.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers["openai"] = oa
	}
	if cfg.GeminiKey != "" {
		model := cfg.DefaultModel
		if !strings.HasPrefix(strings.ToLower(model), "gemini") {
			model = "gemini-2.0-flash"
		}
		gm, err := aiAdapters.NewGeminiAdapter(ctx, cfg.GeminiKey, cfg.GeminiURL, model, cfg.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers["gemini"] = gm
	}

	if len(providers) == 0 {
		logger.Warn().Msg("no ai provider key configured; using noop adapter")
		return aiAdapters.NewLimitedAI(aiAdapters.NewNoopAIAdapter(logger), cfg.ConcurrentLimit), nil
	}

	order := []string{"openai", "gemini"}
	if strings.HasPrefix(strings.ToLower(cfg.DefaultModel), "gemini") {
		order = []string{"gemini", "openai"}
	}
	router := aiAdapters.NewRouter(order, providers, logger)
	logger.Info().Str("primary", router.Provider()).Int("providers", len(providers)).Msg("ai providers ready")
	return aiAdapters.NewLimitedAI(router, cfg.ConcurrentLimit), nil
}

// requeue puts jobs the pool accepted but never started back on the pending
// queue for the next worker.
func requeue(queue repository.JobQueue, ids []string, logger *zerolog.Logger) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := queue.Enqueue(ctx, id); err != nil {
			logger.Error().Err(err).Str("job_id", id).Msg("requeue on shutdown")
		}
	}
	logger.Info().Int("jobs", len(ids)).Msg("requeued unstarted jobs")
}
