package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepmindneural/escuchodromo-sub002/internal/config"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
	aiAdapters "github.com/deepmindneural/escuchodromo-sub002/internal/infra/adapters/ai"
	authAdapters "github.com/deepmindneural/escuchodromo-sub002/internal/infra/adapters/auth"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/api"
	pg "github.com/deepmindneural/escuchodromo-sub002/internal/infra/db/postgres"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/logging"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/metrics"
	red "github.com/deepmindneural/escuchodromo-sub002/internal/infra/redis"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/worker"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/ws"
	"github.com/deepmindneural/escuchodromo-sub002/internal/realtime"
	"github.com/deepmindneural/escuchodromo-sub002/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, fallback AI)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	sessionStore := red.NewSessionStore(redisClient, cfg.Redis.TTL)

	// ---- Repositories ----
	messageRepo := pg.NewMessageRepo(pool)

	// ---- AI adapters (OpenAI -> Gemini -> keyword fallback) ----
	scorer := aiAdapters.NewKeywordScorer()
	var replier adapter.ReplyGenerator
	switch {
	case cfg.AI.OpenAIKey != "":
		replier, err = aiAdapters.NewOpenAIReplier(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.DefaultModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai replier")
		}
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("reply generator: OpenAI")
	case cfg.AI.GeminiKey != "":
		replier, err = aiAdapters.NewGeminiReplier(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel, cfg.AI.MaxOutputTokens)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini replier")
		}
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("reply generator: Gemini")
	default:
		if !cfg.Runtime.Dev {
			logger.Warn().Msg("no AI provider configured; using keyword fallback replier")
		}
		replier = aiAdapters.NewKeywordReplier()
	}
	replier = aiAdapters.NewLimitedReplier(replier, cfg.AI.ConcurrentLimit)

	// ---- Realtime core ----
	registry := realtime.NewRegistry(logger)
	broadcaster := realtime.NewBroadcaster(registry, logger)

	// ---- Use cases ----
	quota := usecase.NewQuotaLedger(messageRepo)
	pipeline := usecase.NewMessagePipeline(messageRepo, quota, scorer, replier, broadcaster, logger)

	// ---- Background workers ----
	taskPool := worker.NewPool(cfg.Server.Workers, logger)
	taskPool.Start(ctx)
	defer taskPool.Stop()

	// ---- Transport ----
	verifier := authAdapters.NewJWTVerifier(cfg.Auth.HMACSecret)
	wsHandler := ws.NewHandler(
		registry,
		pipeline,
		verifier,
		sessionStore,
		rateLimiter,
		taskPool,
		cfg.Server.AllowedOrigins,
		cfg.Rate.MessagesPerMinute,
		logger,
	)

	srv := api.NewServer(messageRepo, wsHandler, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Router(),
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}
