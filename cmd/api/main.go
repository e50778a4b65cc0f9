package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/engine"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/idempotency"
	"server/internal/infra"
	"server/internal/obs"
	"server/internal/orchestrator"
	"server/internal/resilience"
	"server/internal/service"
	"server/internal/storage"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	jobs := repo.NewJobRepository(dbpool)
	records := repo.NewIdempotencyRepository(dbpool)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := obs.NewMetrics(registry)

	// One breaker per configured engine; each is exported as a state gauge.
	breakers := make(map[string]*resilience.CircuitBreaker)
	engines := make(map[domain.Engine]engine.Adapter)
	for _, name := range cfg.Engines {
		switch domain.Engine(name) {
		case domain.EngineMock:
			engines[domain.EngineMock] = engine.NewMock(cfg.MockDuration)
		case domain.EngineRunway:
			breaker := resilience.NewCircuitBreaker(name, logger)
			runway, err := engine.NewRunway(engine.RunwayConfig{
				APIKey:  cfg.RunwayAPIKey,
				BaseURL: cfg.RunwayBaseURL,
				Model:   cfg.RunwayModel,
			}, breaker, logger)
			if err != nil {
				logger.Fatal().Err(err).Msg("runway engine misconfigured")
			}
			breakers[name] = breaker
			obs.RegisterBreaker(registry, breaker)
			engines[domain.EngineRunway] = runway
		default:
			logger.Fatal().Str("engine", name).Msg("unknown engine in VIDEO_ENGINES")
		}
	}
	if len(engines) == 0 {
		logger.Fatal().Msg("no engines configured")
	}

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	transfer := storage.NewVideoTransfer(store, cfg.StorageBaseURL)

	guard := idempotency.NewGuard(records, cfg.IdempotencyTTL, logger)
	sup := orchestrator.NewSupervisor(logger)
	orc := orchestrator.New(jobs, transfer, metrics, orchestrator.Config{
		PollInterval: cfg.PollInterval,
		PollBudget:   cfg.PollBudget,
	}, logger)

	svc := service.NewJobService(jobs, guard, engines, orc, sup, cfg.MaxActiveJobs, metrics, logger)

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go guard.RunCleanup(cleanupCtx, cfg.CleanupInterval)

	app := handlers.NewApp(svc, breakers, logger)
	router := httpapi.NewRouter(app, cfg, registry)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	stopCleanup()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("in-flight jobs aborted at shutdown")
	}
	logger.Info().Msg("server stopped")
}
