package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reminder-engine/internal/app"
	"github.com/hackgods/slot-reminder-engine/internal/booking"
	"github.com/hackgods/slot-reminder-engine/internal/config"
	"github.com/hackgods/slot-reminder-engine/internal/db"
	"github.com/hackgods/slot-reminder-engine/internal/interval"
	"github.com/hackgods/slot-reminder-engine/internal/logging"
)

// openApp loads configuration and opens the storage the running services use. slotctl never takes
// the booking lock, so Redis stays closed.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Storage != config.StoragePostgres {
		return nil, fmt.Errorf("slotctl needs STORAGE=%s, memory state lives inside the server process", config.StoragePostgres)
	}

	logger, err := logging.New(cfg.Env, "slotctl")
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel)), app.Options{SkipRedis: true})
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := db.Migrate(ctx, a.PgPool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func newWindowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Manage provider availability windows",
	}
	cmd.AddCommand(newWindowAddCmd())
	return cmd
}

func newWindowAddCmd() *cobra.Command {
	var (
		providerID string
		date       string
		start      string
		end        string
	)

	c := &cobra.Command{
		Use:   "add",
		Short: "Open an availability window for a provider on one date",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := interval.ParseDate(date)
			if err != nil {
				return fmt.Errorf("invalid --date (want YYYY-MM-DD)")
			}
			from, err := interval.ToOffset(start)
			if err != nil {
				return fmt.Errorf("invalid --start (want HH:MM): %w", err)
			}
			to, err := interval.ToOffset(end)
			if err != nil {
				return fmt.Errorf("invalid --end (want HH:MM): %w", err)
			}
			if to <= from {
				return fmt.Errorf("--end must be after --start")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			repo := booking.NewPgRepository(a.PgPool)
			w, err := repo.InsertWindow(ctx, booking.AvailabilityWindow{
				ProviderID:  providerID,
				Date:        d,
				StartOffset: from,
				EndOffset:   to,
				Active:      true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created window id=%d provider=%s date=%s %s-%s\n",
				w.ID, w.ProviderID, interval.FormatDate(w.Date), interval.ToClockTime(w.StartOffset), interval.ToClockTime(w.EndOffset))
			return nil
		},
	}

	c.Flags().StringVar(&providerID, "provider", "", "provider id")
	c.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	c.Flags().StringVar(&start, "start", "09:00", "window start (HH:MM)")
	c.Flags().StringVar(&end, "end", "17:00", "window end (HH:MM)")
	_ = c.MarkFlagRequired("provider")
	_ = c.MarkFlagRequired("date")
	return c
}

func newSlotsCmd() *cobra.Command {
	var duration int

	c := &cobra.Command{
		Use:   "slots <provider-id> <date>",
		Short: "List bookable slots for a provider on a date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := interval.ParseDate(args[1])
			if err != nil {
				return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", args[1])
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Service.AvailableSlots(ctx, args[0], d, duration)
			if err != nil {
				return err
			}
			if len(res.Slots) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no slots: %s\n", res.Reason)
				return nil
			}
			for _, s := range res.Slots {
				fmt.Fprintf(cmd.OutOrStdout(), "%s-%s\n", interval.ToClockTime(s.Start), interval.ToClockTime(s.End))
			}
			return nil
		},
	}

	c.Flags().IntVar(&duration, "duration", 60, "slot length in minutes")
	return c
}

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <booking-id>",
		Short: "Show every reminder job of a booking, whatever its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid booking id: %w", err)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.Scheduler.ListJobs(ctx, id)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no reminder jobs")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tRECIPIENT\tROLE\tLEAD\tTRIGGER\tSTATUS\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dm\t%s\t%s\t%s\n",
					j.JobID, j.RecipientUserID, j.RecipientRole, j.LeadMinutes,
					j.TriggerAt.Format(time.RFC3339), j.Status, j.LastError)
			}
			return tw.Flush()
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Backfill missing reminders for upcoming confirmed bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			repaired, err := a.Service.ReconcileReminders(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d bookings\n", repaired)
			return nil
		},
	}
}

func newExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Cancel pending bookings older than PENDING_TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			expired, err := a.Service.ExpirePendingBookings(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d pending bookings\n", expired)
			return nil
		},
	}
}
