package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/caresched/booking-engine/internal/config"
	"github.com/caresched/booking-engine/internal/db"
	"github.com/caresched/booking-engine/internal/events"
	"github.com/caresched/booking-engine/internal/logger"
	"github.com/caresched/booking-engine/internal/redislock"
	"github.com/caresched/booking-engine/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "sweep-worker")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, "sweep-worker")
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("sweep-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

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
	}

	repo := schedule.NewPgRepository(pgPool)
	// The sweep only runs CAS transitions, no booking, so no Redis lock.
	coord := schedule.NewCoordinator(repo, redislock.NopLocker{}, nil, publisher, cfg.GranularityMinutes(), log)

	// Run once at startup
	runOnce(rootCtx, coord, log)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutting down sweep-worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, coord, log)
		}
	}
}

func runOnce(ctx context.Context, coord *schedule.Coordinator, log zerolog.Logger) {
	swept, err := coord.SweepCompleted(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep pass failed")
		return
	}
	if swept > 0 {
		log.Info().Int("completed", swept).Msg("sweep pass")
	}
}
