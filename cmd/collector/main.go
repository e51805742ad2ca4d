package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"autopost/internal/adapters/ranker"
	"autopost/internal/adapters/sources"
	"autopost/internal/app"
	"autopost/internal/infra/config"
	applog "autopost/internal/infra/log"
	"autopost/internal/infra/metrics"
	"autopost/internal/usecase/dedup"
	"autopost/internal/usecase/ingest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: нет подключения к хранилищу")
	}
	defer stores.Close()

	redisClient := app.Redis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	jobs, err := app.IngestQueue(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: не удалось инициализировать очередь")
	}
	defer jobs.Close()

	srcs := app.Sources(cfg, logger)
	if len(srcs) == 0 {
		logger.Fatal().Msg("collector: не настроено ни одного источника (RSS_FEEDS, GITHUB_ENABLED)")
	}

	detector := dedup.NewDetector(stores.Fingerprints, app.WindowCache(cfg, redisClient, logger), logger.With().Str("component", "dedup").Logger())
	var enricher ingest.Enricher
	if cfg.Sources.Enrich {
		enricher = sources.NewEnricher(cfg.Sources.FetchTimeout)
	}
	ingestService := ingest.NewService(srcs, enricher, detector, jobs, logger, ingest.Options{
		Similarity:    app.Similarity(cfg),
		FetchTimeout:  cfg.Sources.FetchTimeout,
		EnrichTimeout: cfg.Sources.FetchTimeout,
		StoreTimeout:  cfg.Pipeline.StoreTimeout,
		QueueTimeout:  cfg.Pipeline.StoreTimeout,
		Ranker:        ranker.NewFreshness(cfg.Dedup.WindowHours),
		MaxPerRun:     cfg.Sources.MaxPerRun,
	})

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(cfg.Sources.CollectCron, func() { collect(ctx, ingestService, logger) }); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Sources.CollectCron).Msg("collector: некорректное расписание сбора")
	}
	if _, err := scheduler.AddFunc(cfg.Dedup.CleanupCron, func() { cleanup(ctx, detector, cfg.Dedup.RetentionDays, logger) }); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Dedup.CleanupCron).Msg("collector: некорректное расписание очистки")
	}

	logger.Info().Int("sources", len(srcs)).Msg("collector: запуск")
	collect(ctx, ingestService, logger)
	scheduler.Start()

	<-ctx.Done()
	<-scheduler.Stop().Done()
	logger.Info().Msg("collector: остановлен")
}

func collect(ctx context.Context, svc *ingest.Service, logger zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	report, err := svc.RunOnce(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("collector: сбор прерван")
		return
	}
	logger.Info().
		Int("fetched", report.Fetched).
		Int("enqueued", report.Enqueued).
		Int("duplicates", report.Duplicates).
		Int("deferred", report.Deferred).
		Int("failed_items", report.FailedItems).
		Int("failed_sources", len(report.Failed)).
		Dur("took", time.Since(start)).
		Msg("collector: сбор завершён")
}

func cleanup(ctx context.Context, detector *dedup.Detector, days int, logger zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	removed, err := detector.Cleanup(ctx, days)
	if err != nil {
		logger.Error().Err(err).Msg("collector: очистка отпечатков не удалась")
		return
	}
	logger.Info().Int64("removed", removed).Int("older_than_days", days).Msg("collector: старые отпечатки удалены")
}
