package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"autopost/internal/app"
	"autopost/internal/infra/config"
	applog "autopost/internal/infra/log"
	"autopost/internal/infra/metrics"
	"autopost/internal/usecase/dedup"
	"autopost/internal/usecase/pipeline"
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
		logger.Fatal().Err(err).Msg("worker: нет подключения к хранилищу")
	}
	defer stores.Close()

	redisClient := app.Redis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	jobs, err := app.IngestQueue(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь")
	}
	defer jobs.Close()

	pub, err := app.Publisher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать публикатор")
	}

	detector := dedup.NewDetector(stores.Fingerprints, app.WindowCache(cfg, redisClient, logger), logger.With().Str("component", "dedup").Logger())
	service := pipeline.NewService(detector, app.Generator(cfg, logger), pub, stores.Drafts, logger, app.PipelineOptions(cfg))

	logger.Info().Msg("worker: запуск обработки очереди")
	pipeline.NewWorker(jobs, service, logger).Run(ctx)
	logger.Info().Msg("worker: остановлен")
}
