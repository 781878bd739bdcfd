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

	"github.com/hackgods/slot-reminder-engine/internal/api"
	"github.com/hackgods/slot-reminder-engine/internal/app"
	"github.com/hackgods/slot-reminder-engine/internal/config"
	"github.com/hackgods/slot-reminder-engine/internal/logging"
	"github.com/hackgods/slot-reminder-engine/internal/otelx"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger, err := logging.New(cfg.Env, "api-server")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.Storage),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otelx.Setup(rootCtx, cfg, "slot-reminder-api")
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}

	a, err := app.Open(rootCtx, cfg, logger, app.Options{Migrate: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.FiresRemindersInProcess() {
		logger.Info("in-memory storage, firing reminders in process")
		if err := a.Scheduler.Recover(rootCtx); err != nil {
			return fmt.Errorf("recover reminders: %w", err)
		}
		go func() {
			if err := a.Scheduler.Run(rootCtx); err != nil {
				logger.Error("reminder fire loop", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: a.Service,
			PgPool:  a.PgPool,
			Redis:   a.Redis,
			Logger:  logger,
			Env:     cfg.Env,
			Version: version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}

	logger.Info("api-server stopped")
	return nil
}
