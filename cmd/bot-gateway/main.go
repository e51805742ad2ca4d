package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"autopost/internal/adapters/bot"
	"autopost/internal/app"
	"autopost/internal/infra/config"
	httpinfra "autopost/internal/infra/http"
	applog "autopost/internal/infra/log"
	"autopost/internal/infra/metrics"
	"autopost/internal/usecase/dedup"
	"autopost/internal/usecase/pipeline"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.ValidateModeration(); err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: доступ к модерации не настроен")
	}
	if cfg.Moderation.BotToken == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен бота модерации (MODERATION_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Moderation.BotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к хранилищу")
	}
	defer stores.Close()

	redisClient := app.Redis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	pub, err := app.Publisher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать публикатор")
	}
	detector := dedup.NewDetector(stores.Fingerprints, app.WindowCache(cfg, redisClient, logger), logger.With().Str("component", "dedup").Logger())
	service := pipeline.NewService(detector, app.Generator(cfg, logger), pub, stores.Drafts, logger, app.PipelineOptions(cfg))

	h := bot.NewHandler(botAPI, logger, service, detector, cfg.Moderation.AdminIDs)

	server := httpinfra.NewServer(logger)
	server.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		if (cfg.Moderation.WebhookSecret != "" || !cfg.IsDev()) && r.Header.Get(secretHeader) != cfg.Moderation.WebhookSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("bot-gateway: ошибка остановки")
		}
	}()

	logger.Info().Msg("бот-гейтвей запущен")
	if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: HTTP сервер остановлен")
	}
	logger.Info().Msg("остановка бота")
}
