package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DuplicatesDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_duplicates_detected_total",
		Help: "Найденные дубли по виду проверки",
	}, []string{"kind"})
	DedupFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dedup_fail_open_total",
		Help: "Проверки дублей, пропущенные из-за сбоя хранилища",
	})
	FingerprintsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_fingerprints_recorded_total",
		Help: "Сохранённые отпечатки по причине",
	}, []string{"reason"})
	FingerprintsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dedup_fingerprints_removed_total",
		Help: "Отпечатки, удалённые очисткой",
	})
	WindowCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_window_cache_lookups_total",
		Help: "Обращения к кэшу окна давности",
	}, []string{"backend", "result"})

	BudgetDegradations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "budget_hashtags_dropped",
		Help:    "Сколько хэштегов пришлось отбросить при укладке в лимит",
		Buckets: []float64{0, 1, 2, 3, 5, 8},
	})
	DraftsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_items_total",
		Help: "Результаты обработки материалов",
	}, []string{"outcome"})
	PublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publisher_posts_total",
		Help: "Публикации по площадкам и статусу",
	}, []string{"platform", "status"})
	SourceItemsFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "source_items_fetched_total",
		Help: "Материалы, полученные из источников",
	}, []string{"source"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DuplicatesDetected,
		DedupFailOpen,
		FingerprintsRecorded,
		FingerprintsRemoved,
		WindowCacheLookups,
		BudgetDegradations,
		DraftsTotal,
		PublishTotal,
		SourceItemsFetched,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObservePublish фиксирует исход публикации.
func ObservePublish(platform string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	PublishTotal.WithLabelValues(platform, status).Inc()
}
