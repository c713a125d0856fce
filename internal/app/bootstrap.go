// Package app wires configuration into the stores, lockers and services
// shared by every command.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/admission"
	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/availability"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/domain"
	"github.com/hackgods/hospital-scheduling/internal/lock"
	"github.com/hackgods/hospital-scheduling/internal/metrics"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
	"github.com/hackgods/hospital-scheduling/internal/store"
)

const notifyStreamMaxLen = 100_000

type Bootstrap struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Collector

	Store  domain.Store
	Locker lock.Locker

	// Backends, nil when not configured.
	PgPool *pgxpool.Pool
	SQLite *sql.DB
	Redis  *redis.Client

	Availability *availability.Service
	Appointments *appointment.Service
	Admissions   *admission.Service

	dispatcher *notify.Dispatcher
}

// New connects the configured backends, runs pending migrations and builds
// the services. Callers must call Shutdown.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (b *Bootstrap, err error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("facility timezone: %w", err)
	}

	b = &Bootstrap{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.NewCollector(cfg.MetricsNamespace),
	}
	defer func() {
		if err != nil {
			_ = b.Shutdown(context.Background())
		}
	}()

	if err := b.openStore(ctx); err != nil {
		return nil, err
	}

	if cfg.NeedsRedis() {
		b.Redis, err = redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	switch cfg.LockBackend {
	case config.LockRedis:
		b.Locker = redisclient.NewLocker(b.Redis, cfg.LockTTL, cfg.LockWait, log.Named("lock"))
	default:
		b.Locker = lock.NewLocal(cfg.LockWait)
	}

	var sink notify.Sink = notify.LogSink{Log: log.Named("notify")}
	if cfg.NotifySink == config.SinkRedis {
		sink = redisclient.NewStreamSink(b.Redis, cfg.NotifyStream, notifyStreamMaxLen)
	}
	b.dispatcher = notify.NewDispatcher(sink, cfg.NotifyBuffer, log.Named("notify"),
		notify.WithDropHook(b.Metrics.NotificationDropped))

	b.Availability = availability.NewService(b.Store, b.Locker, log.Named("availability"), b.Metrics)
	b.Appointments = appointment.NewService(b.Store, b.Locker,
		appointment.Config{
			DefaultDuration: cfg.AppointmentLength,
			Location:        loc,
			NoShowGrace:     cfg.NoShowGrace,
			OpTimeout:       cfg.PersistenceTimeout,
		},
		appointment.WithLogger(log.Named("appointment")),
		appointment.WithNotifier(b.dispatcher),
		appointment.WithMetrics(b.Metrics),
	)
	b.Admissions = admission.NewService(b.Store, b.Locker,
		admission.WithLogger(log.Named("admission")),
		admission.WithNotifier(b.dispatcher),
		admission.WithMetrics(b.Metrics),
		admission.WithTimeout(cfg.PersistenceTimeout),
	)

	log.Info("services ready",
		zap.String("store", cfg.StoreDriver),
		zap.String("lock_backend", cfg.LockBackend),
		zap.String("notify_sink", cfg.NotifySink),
		zap.String("timezone", loc.String()),
	)
	return b, nil
}

func (b *Bootstrap) openStore(ctx context.Context) error {
	cfg, log := b.Config, b.Logger

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
			MaxConns: cfg.PostgresMaxConns,
			AppName:  cfg.ServiceName,
		})
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		b.PgPool = pool
		applied, err := db.MigratePostgres(pgCtx, pool)
		if err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		log.Info("connected to postgres", zap.Int("migrations_applied", applied))
		b.Store = store.NewPostgres(pool)

	case config.StoreSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite open: %w", err)
		}
		b.SQLite = conn
		applied, err := db.MigrateSQLite(ctx, conn)
		if err != nil {
			return fmt.Errorf("sqlite migrations: %w", err)
		}
		log.Info("opened sqlite", zap.String("path", cfg.SQLitePath), zap.Int("migrations_applied", applied))
		b.Store = store.NewSQLite(conn)

	default:
		log.Warn("using in-memory store, data is lost on exit")
		b.Store = store.NewMemory()
	}
	return nil
}

// Shutdown drains pending notifications and closes every backend. Call it
// only after request handling has stopped.
func (b *Bootstrap) Shutdown(ctx context.Context) error {
	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}

	if b.dispatcher != nil {
		b.dispatcher.Shutdown(timeout)
		b.dispatcher = nil
	}

	var firstErr error
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
		b.Redis = nil
	}
	if b.SQLite != nil {
		if err := b.SQLite.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close sqlite: %w", err)
		}
		b.SQLite = nil
	}
	if b.PgPool != nil {
		b.PgPool.Close()
		b.PgPool = nil
	}
	return firstErr
}
