package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/admission"
	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/availability"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
)

type RouterConfig struct {
	Availability *availability.Service
	Appointments *appointment.Service
	Admissions   *admission.Service

	Logger  *zap.Logger
	Metrics *metrics.Collector

	// Readiness probes; nil entries are skipped.
	PgPool *pgxpool.Pool
	SQLite *sql.DB
	Redis  *redis.Client

	CORSOrigins  []string
	// RateLimitRPM caps write requests per client IP per minute. Zero disables it.
	RateLimitRPM int

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoverMiddleware(log))
	r.Use(LoggingMiddleware(log))
	r.Use(MetricsMiddleware(cfg.Metrics))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	health := NewHealthHandler(cfg.PgPool, cfg.SQLite, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	avail := availabilityHandlers{svc: cfg.Availability, log: log}
	appts := appointmentHandlers{svc: cfg.Appointments, log: log}
	adms := admissionHandlers{svc: cfg.Admissions, log: log}

	// Reads stay unthrottled; writes are limited per client IP.
	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitRPM > 0 {
		limit = httprate.LimitByIP(cfg.RateLimitRPM, time.Minute)
	}

	r.Route("/doctors/{doctorID}/availability", func(r chi.Router) {
		r.Get("/", avail.list)
		r.With(limit).Post("/", avail.add)
		r.With(limit).Put("/", avail.replace)
	})
	r.With(limit).Delete("/availability/{slotID}", avail.remove)
	r.With(limit).Patch("/availability/{slotID}", avail.setEnabled)

	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", appts.list)
		r.With(limit).Post("/", appts.create)
		r.Get("/{id}", appts.get)
		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/{id}/approve", appts.transition(appts.approve))
			r.Post("/{id}/reject", appts.transition(cfg.Appointments.Reject))
			r.Post("/{id}/confirm", appts.transition(appts.confirm))
			r.Post("/{id}/cancel", appts.transition(cfg.Appointments.Cancel))
			r.Post("/{id}/complete", appts.transition(appts.complete))
			r.Post("/{id}/no-show", appts.transition(appts.noShow))
		})
	})

	r.Route("/beds", func(r chi.Router) {
		r.Get("/", adms.listBeds)
		r.With(limit).Post("/", adms.registerBed)
		r.Get("/{id}", adms.getBed)
	})

	r.Route("/admissions", func(r chi.Router) {
		r.With(limit).Post("/", adms.admit)
		r.Get("/{id}", adms.get)
		r.Get("/{id}/transfers", adms.transfers)
		r.With(limit).Post("/{id}/transfer", adms.transfer)
		r.With(limit).Post("/{id}/discharge", adms.discharge)
	})
	r.Get("/patients/{patientID}/admission", adms.activeForPatient)

	return r
}
