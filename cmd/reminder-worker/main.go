package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-reminder-engine/internal/app"
	"github.com/hackgods/slot-reminder-engine/internal/booking"
	"github.com/hackgods/slot-reminder-engine/internal/config"
	"github.com/hackgods/slot-reminder-engine/internal/logging"
	"github.com/hackgods/slot-reminder-engine/internal/notify"
	"github.com/hackgods/slot-reminder-engine/internal/otelx"
	"github.com/hackgods/slot-reminder-engine/internal/reminder"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reminder-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger, err := logging.New(cfg.Env, "reminder-worker")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("reminder-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("worker_interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otelx.Setup(rootCtx, cfg, "slot-reminder-worker")
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	sender, closeSender, err := newSender(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSender()

	dispatcher := notify.NewRouter(
		notify.DefaultKinds(cfg.NotifyInApp, cfg.NotifyEmail),
		map[notify.Channel]notify.Sender{
			notify.ChannelInApp: sender,
			notify.ChannelEmail: sender,
		},
		logger,
	)

	a, err := app.Open(rootCtx, cfg, logger, app.Options{Dispatcher: dispatcher, SkipRedis: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.FiresRemindersInProcess() {
		return fmt.Errorf("STORAGE=%s keeps jobs inside api-server, which fires them itself", cfg.Storage)
	}

	if err := a.Scheduler.Recover(rootCtx); err != nil {
		return fmt.Errorf("recover reminders: %w", err)
	}

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- a.Scheduler.Run(rootCtx)
	}()

	runOnce(rootCtx, a.Service, a.Scheduler, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping reminder worker")
			<-schedDone
			logger.Info("reminder-worker stopped", statsFields(a.Scheduler.Stats())...)
			return nil
		case err := <-schedDone:
			if err != nil {
				return fmt.Errorf("scheduler stopped: %w", err)
			}
			return nil
		case <-ticker.C:
			runOnce(rootCtx, a.Service, a.Scheduler, logger)
		}
	}
}

// newSender publishes to RabbitMQ when AMQP_URL is set and logs notifications otherwise.
func newSender(cfg config.Config, logger *zap.Logger) (notify.Sender, func(), error) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP_URL not set, notifications go to the log")
		return notify.NewLogSender(logger.Named("notify")), func() {}, nil
	}

	sender, err := notify.NewAMQPSender(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp sender: %w", err)
	}
	logger.Info("publishing notifications to rabbitmq", zap.String("exchange", cfg.AMQPExchange))
	return sender, func() {
		if err := sender.Close(); err != nil {
			logger.Warn("close amqp sender", zap.Error(err))
		}
	}, nil
}

// runOnce is the periodic housekeeping pass: backfill missing reminders, expire stale holds,
// report the fire loop counters.
func runOnce(ctx context.Context, svc *booking.Service, sched *reminder.Scheduler, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	repaired, err := svc.ReconcileReminders(runCtx)
	if err != nil {
		logger.Error("reconcile run", zap.Error(err))
	}

	expired, err := svc.ExpirePendingBookings(runCtx)
	if err != nil {
		logger.Error("expiry run", zap.Error(err))
	}

	logger.Info("housekeeping run complete",
		zap.Int("reminders_repaired", repaired),
		zap.Int("bookings_expired", expired),
		zap.Duration("took", time.Since(start)),
	)

	stats := sched.Stats()
	if stats.DispatchFailed > 0 || stats.Missed > 0 {
		logger.Warn("reminder delivery problems since start", statsFields(stats)...)
	} else {
		logger.Info("reminder stats", statsFields(stats)...)
	}
}

func statsFields(s reminder.Stats) []zap.Field {
	return []zap.Field{
		zap.Int64("fired", s.Fired),
		zap.Int64("dispatched", s.Dispatched),
		zap.Int64("dispatch_failed", s.DispatchFailed),
		zap.Int64("skipped", s.Skipped),
		zap.Int64("missed", s.Missed),
	}
}
