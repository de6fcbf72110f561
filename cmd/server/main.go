// Package main provides the entry point for the retrieval service server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scholarsift/retrieval-service/internal/analysis"
	"github.com/scholarsift/retrieval-service/internal/cache"
	"github.com/scholarsift/retrieval-service/internal/config"
	"github.com/scholarsift/retrieval-service/internal/database"
	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/events"
	"github.com/scholarsift/retrieval-service/internal/fetch"
	"github.com/scholarsift/retrieval-service/internal/observability"
	"github.com/scholarsift/retrieval-service/internal/retrieval"
	"github.com/scholarsift/retrieval-service/internal/scoring"
	httpserver "github.com/scholarsift/retrieval-service/internal/server/http"
	"github.com/scholarsift/retrieval-service/internal/sources/arxiv"
	"github.com/scholarsift/retrieval-service/internal/sources/biorxiv"
	"github.com/scholarsift/retrieval-service/internal/sources/openalex"
	"github.com/scholarsift/retrieval-service/internal/sources/pubmed"
	"github.com/scholarsift/retrieval-service/internal/taskqueue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("retrieval-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	metrics := observability.NewMetrics("retrieval_service")

	// Two-tier cache over the durable Postgres store, with a background
	// sweeper for expired durable entries.
	twoTierCache := cache.NewTwoTierCache(cache.NewPostgresStore(db), cfg.Cache, logger, metrics)
	sweeper := cache.NewSweeper(db, twoTierCache, cfg.Cache.CleanupInterval, logger)

	// Register enabled source adapters and build the fetcher over them.
	sourceRegistry := fetch.NewRegistry()
	openAlexClient := registerSources(sourceRegistry, cfg, logger)

	fetcher := fetch.NewMultiSourceFetcher(sourceRegistry, fetch.Config{
		MaxWorkers: cfg.Fetcher.MaxWorkers,
		Timeouts: map[domain.SourceName]time.Duration{
			domain.SourcePubMed:   cfg.Sources.PubMed.Timeout,
			domain.SourceArXiv:    cfg.Sources.ArXiv.Timeout,
			domain.SourceBioRxiv:  cfg.Sources.BioRxiv.Timeout,
			domain.SourceMedRxiv:  cfg.Sources.MedRxiv.Timeout,
			domain.SourceOpenAlex: cfg.Sources.OpenAlex.Timeout,
		},
	}, logger, metrics)

	// Analysis provider and analyzer, when enabled.
	var analyzer *analysis.Analyzer
	if cfg.Analysis.Enabled {
		provider, err := analysis.DefaultRegistry().New(cfg.Analysis.Provider, analysisProviderConfig(cfg.Analysis))
		if err != nil {
			return fmt.Errorf("create analysis provider: %w", err)
		}
		analyzer = analysis.NewAnalyzer(provider, twoTierCache, logger, metrics)
		logger.Info().Str("provider", cfg.Analysis.Provider).Msg("analysis enabled")
	}

	// Task queue for asynchronous analysis work. New starts the workers.
	queue := taskqueue.New(taskqueue.Config{
		Depth:         cfg.Queue.Depth,
		Workers:       cfg.Queue.Workers,
		Retention:     cfg.Queue.Retention,
		SweepInterval: cfg.Queue.SweepInterval,
	}, logger, metrics)

	// Event publisher: Kafka when configured, otherwise a no-op.
	var publisher events.Publisher = events.NoopPublisher{}
	var kafkaPublisher *events.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher = events.NewKafkaPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger, metrics)
		publisher = kafkaPublisher
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka publisher enabled")
	}

	// Wire the retrieval orchestrator. Enricher and Analyzer stay nil
	// interfaces when their backends are disabled.
	deps := retrieval.Deps{
		Cache:     twoTierCache,
		Fetcher:   fetcher,
		Scorer:    scoring.NewScorer(),
		Queue:     queue,
		Publisher: publisher,
	}
	if openAlexClient != nil {
		deps.Enricher = openalex.NewImpactEnricher(openAlexClient, logger)
	}
	if analyzer != nil {
		deps.Analyzer = analyzer
	}

	orchestrator := retrieval.NewOrchestrator(deps, retrieval.Config{
		DefaultDaysBack:  cfg.Retrieval.DefaultDaysBack,
		MaxAutoAnalyze:   cfg.Retrieval.MaxAutoAnalyze,
		BatchParallelism: cfg.Retrieval.BatchParallelism,
	}, logger, metrics)

	// Create the HTTP REST API server.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, orchestrator, queue, twoTierCache, db, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 3)

	// Start HTTP REST API server in background.
	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Start the durable cache sweeper in background. It exits cleanly on
	// shutdown; anything else is a real failure.
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("cache sweeper error: %w", err)
		}
	}()

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Strs("sources", sourceNames(sourceRegistry))
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("retrieval-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down retrieval-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shut down HTTP REST API server with timeout.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Shut down metrics server if running.
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	// Drain the task queue: pending tasks are cancelled, running tasks get
	// until the shutdown deadline to finish.
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("task queue shutdown error")
	}

	// Flush and close the Kafka publisher last so completions from draining
	// tasks still publish.
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error().Err(err).Msg("event publisher close error")
		}
	}

	logger.Info().Msg("retrieval-service shutdown complete")
	return nil
}

// registerSources registers every enabled source adapter with the registry.
// It returns the OpenAlex client, which doubles as the backend for the
// impact enricher, or nil when OpenAlex is disabled.
func registerSources(registry *fetch.Registry, cfg *config.Config, logger zerolog.Logger) *openalex.Client {
	// PubMed.
	if cfg.Sources.PubMed.Enabled {
		pmCfg := cfg.Sources.PubMed
		pmClient := pubmed.New(pubmed.Config{
			BaseURL:    pmCfg.BaseURL,
			APIKey:     pmCfg.APIKey,
			Timeout:    pmCfg.Timeout,
			RateLimit:  pmCfg.RateLimit,
			MaxResults: pmCfg.MaxResults,
			Enabled:    true,
		})
		registry.Register(pmClient)
		logger.Info().Msg("registered paper source: PubMed")
	}

	// arXiv.
	if cfg.Sources.ArXiv.Enabled {
		axCfg := cfg.Sources.ArXiv
		axClient := arxiv.New(arxiv.Config{
			BaseURL:    axCfg.BaseURL,
			Timeout:    axCfg.Timeout,
			RateLimit:  axCfg.RateLimit,
			MaxResults: axCfg.MaxResults,
			Enabled:    true,
		})
		registry.Register(axClient)
		logger.Info().Msg("registered paper source: arXiv")
	}

	// bioRxiv.
	if cfg.Sources.BioRxiv.Enabled {
		brCfg := cfg.Sources.BioRxiv
		brClient := biorxiv.New(biorxiv.Config{
			BaseURL:    brCfg.BaseURL,
			Server:     biorxiv.ServerBioRxiv,
			Timeout:    brCfg.Timeout,
			RateLimit:  brCfg.RateLimit,
			MaxResults: brCfg.MaxResults,
			Enabled:    true,
		})
		registry.Register(brClient)
		logger.Info().Msg("registered paper source: bioRxiv")
	}

	// medRxiv shares the bioRxiv details API.
	if cfg.Sources.MedRxiv.Enabled {
		mrCfg := cfg.Sources.MedRxiv
		mrClient := biorxiv.New(biorxiv.Config{
			BaseURL:    mrCfg.BaseURL,
			Server:     biorxiv.ServerMedRxiv,
			Timeout:    mrCfg.Timeout,
			RateLimit:  mrCfg.RateLimit,
			MaxResults: mrCfg.MaxResults,
			Enabled:    true,
		})
		registry.Register(mrClient)
		logger.Info().Msg("registered paper source: medRxiv")
	}

	// OpenAlex.
	if cfg.Sources.OpenAlex.Enabled {
		oaCfg := cfg.Sources.OpenAlex
		oaClient := openalex.New(openalex.Config{
			BaseURL:    oaCfg.BaseURL,
			Email:      oaCfg.Email,
			APIKey:     oaCfg.APIKey,
			Timeout:    oaCfg.Timeout,
			RateLimit:  oaCfg.RateLimit,
			MaxResults: oaCfg.MaxResults,
			Enabled:    true,
		})
		registry.Register(oaClient)
		logger.Info().Msg("registered paper source: OpenAlex")
		return oaClient
	}

	return nil
}

// analysisProviderConfig merges the shared analysis settings with the
// selected provider's credentials and model.
func analysisProviderConfig(cfg config.AnalysisConfig) analysis.Config {
	out := analysis.Config{
		TargetLanguage: cfg.TargetLanguage,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
	}

	var provider config.ProviderConfig
	switch cfg.Provider {
	case "anthropic":
		provider = cfg.Anthropic
	case "openai":
		provider = cfg.OpenAI
	case "deepseek":
		provider = cfg.DeepSeek
	}
	out.APIKey = provider.APIKey
	out.Model = provider.Model
	out.BaseURL = provider.BaseURL
	return out
}

// sourceNames lists the registered source names for the ready log.
func sourceNames(registry *fetch.Registry) []string {
	adapters := registry.All()
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, string(adapter.Name()))
	}
	return names
}
