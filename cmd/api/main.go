package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"apex-api/internal/adapters/api"
	"apex-api/internal/adapters/repo"
	"apex-api/internal/infra/cache"
	"apex-api/internal/infra/config"
	httpinfra "apex-api/internal/infra/http"
	applog "apex-api/internal/infra/log"
	"apex-api/internal/infra/metrics"
	"apex-api/internal/infra/queue"
	"apex-api/internal/usecase/records"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := repo.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("api: не удалось открыть хранилище")
	}
	defer closeStore()

	// Недоступная база не мешает старту: таблицы создадутся при первом запросе.
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Warn().Err(err).Msg("api: схема не создана, повторим при первом запросе")
	}

	opts := []records.Option{
		records.WithLogger(logger.With().Str("component", "records").Logger()),
		records.WithHealthChecker(store),
		records.WithMaxLimit(cfg.Limits.ListMax),
	}

	var redisClient *redis.Client
	if cfg.Cache.RedisAddr != "" {
		redisClient = cache.NewClient(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		defer redisClient.Close()
		opts = append(opts, records.WithListCache(cache.NewRedis(redisClient), cfg.Cache.ListTTL))
	}

	switch cfg.Events.Backend {
	case config.EventsBackendRabbitMQ:
		publisher, err := queue.NewRabbitEventQueue(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к RabbitMQ")
		}
		defer publisher.Close()
		opts = append(opts, records.WithEvents(publisher, cfg.Events.Backend))
	case config.EventsBackendRedis:
		opts = append(opts, records.WithEvents(queue.NewRedisEventQueue(redisClient, cfg.Events.RedisKey), cfg.Events.Backend))
	}

	svc := records.NewService(store, store, opts...)

	srv := httpinfra.NewServer(logger, httpinfra.Options{
		Addr:           cfg.Addr(),
		TenantHeader:   cfg.TenantHeader,
		RequestTimeout: cfg.Server.RequestTimeout,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		ExposeMetrics:  cfg.Metrics.Addr == "",
	})
	api.NewHandler(svc, cfg.TenantHeader, version).Register(srv.Router)

	if cfg.Metrics.Addr != "" {
		metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.Metrics.Addr)
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка при остановке сервера")
	}
}
