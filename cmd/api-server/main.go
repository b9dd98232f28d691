package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caresched/booking-engine/internal/api"
	"github.com/caresched/booking-engine/internal/config"
	"github.com/caresched/booking-engine/internal/db"
	"github.com/caresched/booking-engine/internal/events"
	"github.com/caresched/booking-engine/internal/logger"
	"github.com/caresched/booking-engine/internal/redislock"
	"github.com/caresched/booking-engine/internal/schedule"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "api-server")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, "api-server")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Redis is optional; without it bookings fall back to storage-level
	// conflict checks alone.
	var rdb *redis.Client
	locker := redislock.Locker(redislock.NopLocker{})
	if cfg.RedisAddr != "" {
		rdb, err = redislock.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		locker = redislock.NewRedisDayLocker(rdb, cfg.LockTTL)
		log.Info().Msg("connected to Redis")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		publisher, err = events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connection error")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("error closing amqp publisher")
			}
		}()
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to RabbitMQ")
	}

	var cache *schedule.SlotCache
	if cfg.CacheSize > 0 {
		cache, err = schedule.NewSlotCache(cfg.CacheSize)
		if err != nil {
			log.Fatal().Err(err).Msg("slot cache error")
		}
	}

	repo := schedule.NewPgRepository(pgPool)
	coord := schedule.NewCoordinator(repo, locker, cache, publisher, cfg.GranularityMinutes(), log)

	router := api.NewRouter(api.RouterConfig{
		Coordinator: coord,
		PgPool:      pgPool,
		Redis:       rdb,
		Env:         cfg.Env,
		Version:     version,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()

	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}
