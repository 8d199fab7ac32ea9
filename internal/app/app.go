package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tfst/carrier-portal/internal/config"
	"github.com/tfst/carrier-portal/internal/health"
	"github.com/tfst/carrier-portal/internal/observability"
)

// App owns the assembled process: the HTTP server, the shared clients and
// the shutdown ordering.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Readiness     *health.ProbeRunner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	stop func()
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	readiness *health.ProbeRunner,
	stop func(),
) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		DB:                           db,
		Redis:                        redisClient,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
		stop:                         stop,
	}
}

// StopBackgroundTasks halts the periodic workers (session cleanup). Safe to
// call more than once.
func (a *App) StopBackgroundTasks() {
	if a.stop != nil {
		a.stop()
		a.stop = nil
	}
}

// Run serves until the context is cancelled, then shuts down in order:
// background tasks, HTTP drain, observability flush, client close.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.Logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

func (a *App) Shutdown(ctx context.Context) error {
	a.StopBackgroundTasks()

	var errs []error

	drainCtx, cancelDrain := context.WithTimeout(ctx, a.ShutdownHTTPDrainTimeout)
	defer cancelDrain()
	if err := a.Server.Shutdown(drainCtx); err != nil {
		errs = append(errs, err)
	}

	if a.Observability != nil {
		obsCtx, cancelObs := context.WithTimeout(ctx, a.ShutdownObservabilityTimeout)
		defer cancelObs()
		if err := a.Observability.Shutdown(obsCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.Logger.Info("shutdown complete")
	return nil
}
