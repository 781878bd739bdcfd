package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reminder-engine/internal/clock"
)

const minWait = 100 * time.Millisecond

var errNoDispatcher = errors.New("no dispatcher configured")

// Dispatcher delivers one reminder. The scheduler does not care which channel is used.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipientUserID string, leadMinutes int, payload Payload) error
}

// BookingChecker tells the fire loop whether the booking behind a job still wants reminders.
type BookingChecker interface {
	BookingActive(ctx context.Context, bookingID uuid.UUID) (bool, error)
}

type Config struct {
	LeadTimes    []int
	GraceWindow  time.Duration
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if len(c.LeadTimes) == 0 {
		c.LeadTimes = DefaultLeadTimes
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

type RegisterRequest struct {
	BookingID  uuid.UUID
	StartAt    time.Time
	ClientID   string
	ProviderID string
	Date       string
	StartTime  string
}

// Stats are process-local counters since the scheduler was created.
type Stats struct {
	Fired          int64 `json:"fired"`
	Dispatched     int64 `json:"dispatched"`
	DispatchFailed int64 `json:"dispatch_failed"`
	Skipped        int64 `json:"skipped"`
	Missed         int64 `json:"missed"`
}

type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	bookings   BookingChecker
	clock      clock.Clock
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
	wake       chan struct{}

	fired          atomic.Int64
	dispatched     atomic.Int64
	dispatchFailed atomic.Int64
	skipped        atomic.Int64
	missed         atomic.Int64
}

// NewScheduler wires a scheduler around a durable store. bookings may be nil, in which case every
// claimed job is dispatched without checking the booking first.
func NewScheduler(store Store, dispatcher Dispatcher, bookings BookingChecker, clk clock.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		bookings:   bookings,
		clock:      clk,
		cfg:        cfg.withDefaults(),
		logger:     logger.Named("reminder"),
		tracer:     otel.Tracer("github.com/hackgods/slot-reminder-engine/internal/reminder"),
		wake:       make(chan struct{}, 1),
	}
}

// Register upserts one job per participant and lead time whose trigger is still in the future.
// It returns the jobs it wrote.
func (s *Scheduler) Register(ctx context.Context, req RegisterRequest) ([]Job, error) {
	jobs := s.plan(req)
	if len(jobs) == 0 {
		s.logger.Debug("no future reminders to register",
			zap.String("booking_id", req.BookingID.String()),
			zap.Time("start_at", req.StartAt),
		)
		return nil, nil
	}

	if err := s.store.Upsert(ctx, jobs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchedulerPersistence, err)
	}

	s.logger.Info("reminders registered",
		zap.String("booking_id", req.BookingID.String()),
		zap.Int("jobs", len(jobs)),
	)
	s.poke()
	return jobs, nil
}

func (s *Scheduler) plan(req RegisterRequest) []Job {
	now := s.clock.Now()
	recipients := []struct {
		role Role
		id   string
	}{
		{RoleClient, req.ClientID},
		{RoleProvider, req.ProviderID},
	}

	var jobs []Job
	for _, lead := range s.cfg.LeadTimes {
		trigger := req.StartAt.Add(-time.Duration(lead) * time.Minute)
		if !trigger.After(now) {
			continue
		}
		for _, r := range recipients {
			jobs = append(jobs, Job{
				JobID:           JobID(req.BookingID, r.role, lead),
				BookingID:       req.BookingID,
				RecipientUserID: r.id,
				RecipientRole:   r.role,
				TriggerAt:       trigger,
				LeadMinutes:     lead,
				Status:          StatusScheduled,
				Payload: Payload{
					BookingID:     req.BookingID.String(),
					ProviderID:    req.ProviderID,
					ClientID:      req.ClientID,
					RecipientRole: r.role,
					Date:          req.Date,
					StartTime:     req.StartTime,
					StartAt:       req.StartAt,
					LeadMinutes:   lead,
				},
			})
		}
	}
	return jobs
}

// EnsureRegistered registers the booking again when any job it should have is missing.
// It reports whether anything was written.
func (s *Scheduler) EnsureRegistered(ctx context.Context, req RegisterRequest) (bool, error) {
	expected := s.plan(req)
	if len(expected) == 0 {
		return false, nil
	}

	existing, err := s.store.ListByBooking(ctx, req.BookingID)
	if err != nil {
		return false, fmt.Errorf("list jobs for booking %s: %w", req.BookingID, err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, j := range existing {
		have[j.JobID] = struct{}{}
	}

	for _, j := range expected {
		if _, ok := have[j.JobID]; !ok {
			if _, err := s.Register(ctx, req); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// Cancel moves the booking's scheduled jobs to cancelled. Calling it again is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, bookingID uuid.UUID) (int, error) {
	n, err := s.store.CancelByBooking(ctx, bookingID)
	if err != nil {
		return 0, fmt.Errorf("cancel reminders for booking %s: %w", bookingID, err)
	}
	if n > 0 {
		s.logger.Info("reminders cancelled",
			zap.String("booking_id", bookingID.String()),
			zap.Int("jobs", n),
		)
	}
	return n, nil
}

// ListPendingJobs returns the booking's jobs that have not fired or been cancelled yet.
func (s *Scheduler) ListPendingJobs(ctx context.Context, bookingID uuid.UUID) ([]Job, error) {
	jobs, err := s.store.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for booking %s: %w", bookingID, err)
	}
	pending := jobs[:0]
	for _, j := range jobs {
		if j.Status == StatusScheduled {
			pending = append(pending, j)
		}
	}
	return pending, nil
}

// ListJobs returns every job of the booking whatever its state.
func (s *Scheduler) ListJobs(ctx context.Context, bookingID uuid.UUID) ([]Job, error) {
	jobs, err := s.store.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for booking %s: %w", bookingID, err)
	}
	return jobs, nil
}

// Recover runs once on startup. Jobs overdue by more than the grace window are marked missed;
// the rest stay scheduled and the fire loop picks up the overdue ones on its first tick.
func (s *Scheduler) Recover(ctx context.Context) error {
	now := s.clock.Now()

	missed, err := s.store.ExpireOverdue(ctx, now.Add(-s.cfg.GraceWindow))
	if err != nil {
		return fmt.Errorf("expire overdue reminders: %w", err)
	}
	s.missed.Add(int64(missed))

	scheduled, err := s.store.CountScheduled(ctx)
	if err != nil {
		return fmt.Errorf("count scheduled reminders: %w", err)
	}

	s.logger.Info("reminder scheduler recovered",
		zap.Int("scheduled", scheduled),
		zap.Int("missed", missed),
		zap.Duration("grace_window", s.cfg.GraceWindow),
	)
	return nil
}

// Run is the fire loop. It wakes at the earlier of the next due trigger and the poll interval,
// and returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("reminder fire loop started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("batch_size", s.cfg.BatchSize),
	)

	for {
		if _, err := s.FireDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("fire due reminders", zap.Error(err))
		}

		timer := time.NewTimer(s.nextWait(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("reminder fire loop stopped")
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) nextWait(ctx context.Context) time.Duration {
	wait := s.cfg.PollInterval

	next, ok, err := s.store.NextDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("next due reminder lookup failed", zap.Error(err))
		}
		return wait
	}
	if ok {
		if d := next.Sub(s.clock.Now()); d < wait {
			wait = d
		}
	}
	if wait < minWait {
		wait = minWait
	}
	return wait
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// FireDue claims and dispatches every job that is due now. Jobs overdue by more than the grace
// window are marked missed instead. It returns how many jobs were claimed.
func (s *Scheduler) FireDue(ctx context.Context) (int, error) {
	now := s.clock.Now()

	missed, err := s.store.ExpireOverdue(ctx, now.Add(-s.cfg.GraceWindow))
	if err != nil {
		return 0, fmt.Errorf("expire overdue reminders: %w", err)
	}
	if missed > 0 {
		s.missed.Add(int64(missed))
		s.logger.Warn("reminders missed their grace window", zap.Int("jobs", missed))
	}

	claimed := 0
	for {
		jobs, err := s.store.ClaimDue(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return claimed, fmt.Errorf("claim due reminders: %w", err)
		}
		for _, j := range jobs {
			s.fire(ctx, j)
		}
		claimed += len(jobs)
		if len(jobs) < s.cfg.BatchSize {
			return claimed, nil
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	ctx, span := s.tracer.Start(ctx, "reminder.fire", trace.WithAttributes(
		attribute.String("reminder.job_id", job.JobID),
		attribute.String("booking.id", job.BookingID.String()),
		attribute.Int("reminder.lead_minutes", job.LeadMinutes),
	))
	defer span.End()

	s.fired.Add(1)
	log := s.logger.With(
		zap.String("job_id", job.JobID),
		zap.String("booking_id", job.BookingID.String()),
		zap.String("recipient", job.RecipientUserID),
		zap.String("role", string(job.RecipientRole)),
		zap.Int("lead_minutes", job.LeadMinutes),
	)

	if s.bookings != nil {
		active, err := s.bookings.BookingActive(ctx, job.BookingID)
		if err != nil {
			s.fail(ctx, span, log, job, fmt.Errorf("check booking: %w", err))
			return
		}
		if !active {
			s.skipped.Add(1)
			span.SetAttributes(attribute.Bool("reminder.skipped", true))
			log.Info("booking no longer active, reminder skipped")
			s.record(ctx, log, job.JobID, StatusCancelled, "booking no longer active")
			return
		}
	}

	if s.dispatcher == nil {
		s.fail(ctx, span, log, job, errNoDispatcher)
		return
	}
	if err := s.dispatcher.Dispatch(ctx, job.RecipientUserID, job.LeadMinutes, job.Payload); err != nil {
		s.fail(ctx, span, log, job, err)
		return
	}

	s.dispatched.Add(1)
	log.Info("reminder dispatched")
	s.record(ctx, log, job.JobID, StatusDispatched, "")
}

func (s *Scheduler) fail(ctx context.Context, span trace.Span, log *zap.Logger, job Job, err error) {
	s.dispatchFailed.Add(1)
	span.RecordError(err)
	span.SetStatus(codes.Error, "dispatch failed")
	log.Error("reminder dispatch failed", zap.Error(err))
	s.record(ctx, log, job.JobID, StatusDispatchFailed, err.Error())
}

func (s *Scheduler) record(ctx context.Context, log *zap.Logger, jobID string, status Status, lastErr string) {
	// the outcome is written even when the loop is shutting down
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.MarkResult(writeCtx, jobID, status, lastErr); err != nil && !errors.Is(err, ErrJobNotFound) {
		log.Error("record reminder outcome", zap.String("status", string(status)), zap.Error(err))
	}
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Fired:          s.fired.Load(),
		Dispatched:     s.dispatched.Load(),
		DispatchFailed: s.dispatchFailed.Load(),
		Skipped:        s.skipped.Load(),
		Missed:         s.missed.Load(),
	}
}
