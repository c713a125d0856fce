package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/hospital-scheduling/internal/api"
	"github.com/hackgods/hospital-scheduling/internal/app"
	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("api-server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := app.New(rootCtx, cfg, log)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Availability: b.Availability,
		Appointments: b.Appointments,
		Admissions:   b.Admissions,
		Logger:       log.Named("http"),
		Metrics:      b.Metrics,
		PgPool:       b.PgPool,
		SQLite:       b.SQLite,
		Redis:        b.Redis,
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPM: cfg.RateLimitRPM,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Sweeps stale requests in-process so a single-binary deployment needs no
	// separate expiry worker.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.WorkerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				res, err := b.Appointments.SweepStale(ctx, time.Now())
				if err != nil {
					log.Warn("stale appointment sweep failed", zap.Error(err))
					continue
				}
				if res.Expired+res.NoShows > 0 {
					log.Info("stale appointments swept", zap.Int("expired", res.Expired), zap.Int("no_shows", res.NoShows))
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down api-server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		log.Warn("error closing backends", zap.Error(err))
	}
	log.Info("api-server stopped")
	return runErr
}
