// Package app assembles the runtime shared by the binaries: storage, the booking lock, the
// reminder scheduler and the booking service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reminder-engine/internal/booking"
	"github.com/hackgods/slot-reminder-engine/internal/clock"
	"github.com/hackgods/slot-reminder-engine/internal/config"
	"github.com/hackgods/slot-reminder-engine/internal/db"
	"github.com/hackgods/slot-reminder-engine/internal/notify"
	redisclient "github.com/hackgods/slot-reminder-engine/internal/redis"
	"github.com/hackgods/slot-reminder-engine/internal/reminder"
	"github.com/hackgods/slot-reminder-engine/internal/store/memory"
)

type Options struct {
	// Dispatcher delivers fired reminders. Processes that only register jobs leave it nil.
	Dispatcher reminder.Dispatcher
	// Migrate applies the embedded schema on startup when running on Postgres.
	Migrate bool
	// SkipRedis keeps the process off Redis even when it is configured.
	SkipRedis bool
	// Clock defaults to the system clock.
	Clock clock.Clock
}

type App struct {
	Config    config.Config
	Logger    *zap.Logger
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Bookings  booking.Store
	Windows   booking.AvailabilitySource
	Scheduler *reminder.Scheduler
	Service   *booking.Service

	closers []func()
}

// Open connects the configured backends and wires the services on top of them.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	dispatcher := opts.Dispatcher

	var reminders reminder.Store
	switch cfg.Storage {
	case config.StoragePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.PgPool = pool
		a.closers = append(a.closers, pool.Close)
		logger.Info("connected to postgres")

		if opts.Migrate {
			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			for _, name := range applied {
				logger.Info("migration applied", zap.String("name", name))
			}
		}

		repo := booking.NewPgRepository(pool)
		a.Bookings = repo
		a.Windows = repo
		reminders = reminder.NewPgStore(pool)
	default:
		store := memory.NewBookings(clk)
		a.Bookings = store
		a.Windows = store
		reminders = memory.NewReminders()
		logger.Warn("using in-memory storage, state is lost on restart")

		// no other process can see these jobs, so this one has to fire them
		if dispatcher == nil {
			dispatcher = notify.NewRouter(
				notify.DefaultKinds(cfg.NotifyInApp, cfg.NotifyEmail),
				map[notify.Channel]notify.Sender{
					notify.ChannelInApp: notify.NewLogSender(logger.Named("notify")),
					notify.ChannelEmail: notify.NewLogSender(logger.Named("notify")),
				},
				logger,
			)
		}
	}

	locker := redisclient.NewNoopLocker()
	if cfg.RedisAddr != "" && !opts.SkipRedis {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			// the store still serializes conflicting inserts on its own
			logger.Warn("redis unavailable, booking lock disabled", zap.Error(err))
		} else {
			a.Redis = rdb
			a.closers = append(a.closers, func() {
				if err := rdb.Close(); err != nil {
					logger.Warn("close redis", zap.Error(err))
				}
			})
			locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
			logger.Info("connected to redis")
		}
	}

	a.Scheduler = reminder.NewScheduler(reminders, dispatcher, booking.NewActiveChecker(a.Bookings), clk, reminder.Config{
		LeadTimes:    cfg.ReminderLeadTimes,
		GraceWindow:  cfg.GraceWindow,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.ClaimBatchSize,
	}, logger)
	a.Service = booking.NewService(a.Bookings, a.Windows, locker, a.Scheduler, cfg, clk, logger)

	return a, nil
}

// FiresRemindersInProcess is true when reminder jobs live in this process's memory. The caller
// must then run Scheduler.Run itself; a separate reminder-worker would see an empty store.
func (a *App) FiresRemindersInProcess() bool {
	return a.Config.Storage != config.StoragePostgres
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
