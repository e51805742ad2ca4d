package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"autopost/internal/adapters/httpapi"
	"autopost/internal/app"
	"autopost/internal/infra/config"
	httpinfra "autopost/internal/infra/http"
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

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к хранилищу")
	}
	defer stores.Close()

	redisClient := app.Redis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	detector := dedup.NewDetector(stores.Fingerprints, app.WindowCache(cfg, redisClient, logger), logger.With().Str("component", "dedup").Logger())
	pub, err := app.Publisher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать публикатор")
	}
	service := pipeline.NewService(detector, app.Generator(cfg, logger), pub, stores.Drafts, logger, app.PipelineOptions(cfg))

	if err := cfg.ValidateAPIAuth(); err != nil {
		logger.Fatal().Err(err).Msg("api: авторизация не настроена")
	}
	var auth func(http.Handler) http.Handler
	if cfg.Auth.JWTSecret != "" {
		auth = httpinfra.JWTMiddleware(cfg.Auth.JWTSecret)
	} else {
		logger.Warn().Msg("api: JWT_SECRET не задан, в dev API доступно без авторизации")
	}

	server := httpinfra.NewServer(logger)
	httpapi.New(service, detector, app.Similarity(cfg), cfg.Dedup.RetentionDays, logger).Mount(server.Router, auth)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: ошибка остановки сервера")
		}
	}()

	if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Fatal().Err(err).Msg("api: сервер остановлен с ошибкой")
	}
	logger.Info().Msg("api: остановлен")
}
