package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/caresched/booking-engine/internal/schedule"
)

type RouterConfig struct {
	Coordinator *schedule.Coordinator
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Env         string
	Version     string
	Log         zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability
	r.Get("/availability/{doctorID}/{date}", availabilityHandler(cfg.Coordinator))

	// Availability windows
	r.Post("/windows", createWindowHandler(cfg.Coordinator))
	r.Get("/windows/{doctorID}", listWindowsHandler(cfg.Coordinator))
	r.Delete("/windows/{id}", removeWindowHandler(cfg.Coordinator))

	// Appointments
	r.Post("/appointments", bookAppointmentHandler(cfg.Coordinator))
	r.Get("/appointments", listAppointmentsHandler(cfg.Coordinator))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Coordinator))
	r.Patch("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Coordinator))
	r.Patch("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Coordinator))
	r.Patch("/appointments/{id}/postpone", postponeAppointmentHandler(cfg.Coordinator))
	r.Patch("/appointments/{id}/complete", completeAppointmentHandler(cfg.Coordinator))
	r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Coordinator))

	return r
}
