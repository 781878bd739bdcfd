package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reminder-engine/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger.Named("http")))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/providers/{providerID}/available-slots", availableSlotsHandler(cfg.Service))

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", createBookingHandler(cfg.Service))
		r.Get("/{id}", getBookingHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelBookingHandler(cfg.Service))
		r.Post("/{id}/confirm", transitionHandler(cfg.Service, confirm))
		r.Post("/{id}/complete", transitionHandler(cfg.Service, complete))
		r.Post("/{id}/no-show", transitionHandler(cfg.Service, noShow))
	})

	r.Get("/admin/bookings/{id}/jobs", bookingJobsHandler(cfg.Service))

	return otelhttp.NewHandler(r, "slot-reminder-api")
}
