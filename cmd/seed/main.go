package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reminder-engine/internal/app"
	"github.com/hackgods/slot-reminder-engine/internal/booking"
	"github.com/hackgods/slot-reminder-engine/internal/config"
	"github.com/hackgods/slot-reminder-engine/internal/interval"
	"github.com/hackgods/slot-reminder-engine/internal/logging"
)

type seedConfig struct {
	Providers int `envconfig:"SEED_PROVIDERS" default:"20"`
	Days      int `envconfig:"SEED_DAYS" default:"14"`
	Bookings  int `envconfig:"SEED_BOOKINGS" default:"100"`
}

// windowWriter is implemented by the Postgres repository; memory storage has no use for seeding.
type windowWriter interface {
	InsertWindow(ctx context.Context, w booking.AvailabilityWindow) (*booking.AvailabilityWindow, error)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if cfg.Storage != config.StoragePostgres {
		return fmt.Errorf("seed needs STORAGE=%s", config.StoragePostgres)
	}

	var sc seedConfig
	if err := envconfig.Process("", &sc); err != nil {
		return fmt.Errorf("read seed settings: %w", err)
	}

	logger, err := logging.New(cfg.Env, "seed")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	a, err := app.Open(ctx, cfg, logger, app.Options{Migrate: true, SkipRedis: true})
	if err != nil {
		return err
	}
	defer a.Close()

	writer, ok := a.Windows.(windowWriter)
	if !ok {
		return fmt.Errorf("storage %q cannot store availability windows", cfg.Storage)
	}

	gofakeit.Seed(0)

	providers, err := seedWindows(ctx, writer, a.Service.Today(), sc, logger)
	if err != nil {
		return fmt.Errorf("seed windows: %w", err)
	}

	created := seedBookings(ctx, a.Service, providers, cfg.AllowedDurations, sc, logger)

	logger.Info("seed complete",
		zap.Int("providers", len(providers)),
		zap.Int("days", sc.Days),
		zap.Int("bookings", created),
	)
	return nil
}

// seedWindows gives every provider a morning window on each day and an afternoon window on some.
func seedWindows(ctx context.Context, w windowWriter, today time.Time, sc seedConfig, logger *zap.Logger) ([]string, error) {
	providers := make([]string, 0, sc.Providers)
	for i := 0; i < sc.Providers; i++ {
		providers = append(providers, providerID())
	}

	windows := 0
	for _, p := range providers {
		for day := 0; day < sc.Days; day++ {
			date := today.AddDate(0, 0, day)

			morning := 8*60 + gofakeit.Number(0, 2)*30
			if _, err := w.InsertWindow(ctx, booking.AvailabilityWindow{
				ProviderID:  p,
				Date:        date,
				StartOffset: morning,
				EndOffset:   morning + 4*60,
				Active:      true,
			}); err != nil {
				return nil, err
			}
			windows++

			if gofakeit.Bool() {
				afternoon := 14*60 + gofakeit.Number(0, 2)*30
				if _, err := w.InsertWindow(ctx, booking.AvailabilityWindow{
					ProviderID:  p,
					Date:        date,
					StartOffset: afternoon,
					EndOffset:   afternoon + 3*60,
					Active:      true,
				}); err != nil {
					return nil, err
				}
				windows++
			}
		}
		logger.Debug("provider seeded", zap.String("provider_id", p))
	}

	logger.Info("availability windows seeded", zap.Int("windows", windows))
	return providers, nil
}

// seedBookings books random free slots through the booking service so reminders get scheduled
// the same way live traffic schedules them.
func seedBookings(ctx context.Context, svc *booking.Service, providers []string, durations []int, sc seedConfig, logger *zap.Logger) int {
	today := svc.Today()

	created := 0
	for attempt := 0; created < sc.Bookings && attempt < sc.Bookings*3; attempt++ {
		provider := providers[gofakeit.Number(0, len(providers)-1)]
		date := today.AddDate(0, 0, gofakeit.Number(1, max(1, sc.Days-1)))
		duration := durations[gofakeit.Number(0, len(durations)-1)]

		res, err := svc.AvailableSlots(ctx, provider, date, duration)
		if err != nil {
			logger.Warn("list slots", zap.String("provider_id", provider), zap.Error(err))
			continue
		}
		if len(res.Slots) == 0 {
			continue
		}
		slot := res.Slots[gofakeit.Number(0, len(res.Slots)-1)]

		status := booking.StatusConfirmed
		if gofakeit.Number(0, 3) == 0 {
			status = booking.StatusPending
		}

		b, err := svc.CreateBooking(ctx, booking.CreateRequest{
			ProviderID:    provider,
			ClientID:      "client-" + uuid.NewString()[:8],
			Date:          date,
			Start:         slot.Start,
			End:           slot.End,
			Duration:      duration,
			InitialStatus: status,
		})
		if err != nil {
			logger.Warn("create booking", zap.String("provider_id", provider), zap.Error(err))
			continue
		}
		created++
		logger.Debug("booking seeded",
			zap.String("booking_id", b.ID.String()),
			zap.String("date", interval.FormatDate(b.Date)),
			zap.String("start", interval.ToClockTime(b.StartOffset)),
		)
	}
	return created
}

func providerID() string {
	name := strings.ToLower(strings.ReplaceAll(gofakeit.LastName(), " ", ""))
	return fmt.Sprintf("prov-%s-%s", name, uuid.NewString()[:6])
}
