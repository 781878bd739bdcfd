package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reminder-engine/internal/clock"
	"github.com/hackgods/slot-reminder-engine/internal/config"
	"github.com/hackgods/slot-reminder-engine/internal/interval"
	redisclient "github.com/hackgods/slot-reminder-engine/internal/redis"
	"github.com/hackgods/slot-reminder-engine/internal/reminder"
)

const (
	EventBookingCreated       = "BOOKING_CREATED"
	EventBookingConfirmed     = "BOOKING_CONFIRMED"
	EventBookingCancelled     = "BOOKING_CANCELLED"
	EventBookingStatusChanged = "BOOKING_STATUS_CHANGED"
	EventBookingExpired       = "BOOKING_EXPIRED"
)

const (
	ReasonNoAvailability = "no availability"
	ReasonFullyBooked    = "fully booked"
	ReasonNoFit          = "no free interval fits the requested duration"
)

var (
	ErrInvalidDuration         = errors.New("duration is not one of the allowed values")
	ErrInvalidInterval         = errors.New("start and end do not form a valid interval for the duration")
	ErrInvalidRequest          = errors.New("invalid booking request")
	ErrPastDate                = errors.New("date is in the past")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrBookingBusy             = errors.New("provider calendar is being updated, please retry")
)

// Reminders is what the booking flow needs from the reminder scheduler.
type Reminders interface {
	Register(ctx context.Context, req reminder.RegisterRequest) ([]reminder.Job, error)
	EnsureRegistered(ctx context.Context, req reminder.RegisterRequest) (bool, error)
	Cancel(ctx context.Context, bookingID uuid.UUID) (int, error)
	ListPendingJobs(ctx context.Context, bookingID uuid.UUID) ([]reminder.Job, error)
}

type Service struct {
	store     Store
	windows   AvailabilitySource
	locker    redisclient.Locker
	reminders Reminders
	cfg       config.Config
	clock     clock.Clock
	logger    *zap.Logger
	allowed   map[int]struct{}
}

func NewService(store Store, windows AvailabilitySource, locker redisclient.Locker, reminders Reminders, cfg config.Config, clk clock.Clock, logger *zap.Logger) *Service {
	if locker == nil {
		locker = redisclient.NewNoopLocker()
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SlotStepMinutes <= 0 {
		cfg.SlotStepMinutes = 30
	}

	allowed := make(map[int]struct{}, len(cfg.AllowedDurations))
	for _, d := range cfg.AllowedDurations {
		allowed[d] = struct{}{}
	}

	return &Service{
		store:     store,
		windows:   windows,
		locker:    locker,
		reminders: reminders,
		cfg:       cfg,
		clock:     clk,
		logger:    logger.Named("booking"),
		allowed:   allowed,
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func (s *Service) allowedDuration(d int) bool {
	_, ok := s.allowed[d]
	return ok
}

// Today is the current calendar date in the service's time zone.
func (s *Service) Today() time.Time {
	return interval.DateOf(s.clock.Now().In(s.cfg.Location))
}

// AvailableSlots lists the bookable slots of one provider on one date. An empty list is a valid
// answer and comes with a Reason; a storage failure is always returned as an error.
func (s *Service) AvailableSlots(ctx context.Context, providerID string, date time.Time, duration int) (SlotResult, error) {
	if !s.allowedDuration(duration) {
		return SlotResult{}, fmt.Errorf("%w: %d", ErrInvalidDuration, duration)
	}

	res := SlotResult{
		ProviderID: providerID,
		Date:       interval.DateOf(date),
		Duration:   duration,
	}

	windows, err := s.windows.ListActiveWindows(ctx, providerID, date)
	if err != nil {
		return SlotResult{}, storageErr("list availability", err)
	}
	if len(windows) == 0 {
		res.Reason = ReasonNoAvailability
		return res, nil
	}

	booked, err := s.store.ListOccupying(ctx, providerID, date, OccupyingStatuses)
	if err != nil {
		return SlotResult{}, storageErr("list bookings", err)
	}
	occupied := occupiedIntervals(booked)

	res.Slots = ComputeSlots(windows, occupied, duration, s.cfg.SlotStepMinutes)
	if len(res.Slots) > 0 {
		return res, nil
	}

	switch {
	case len(ComputeSlots(windows, nil, duration, s.cfg.SlotStepMinutes)) == 0:
		res.Reason = ReasonNoAvailability
	case len(FreeIntervals(windows, occupied)) == 0:
		res.Reason = ReasonFullyBooked
	default:
		res.Reason = ReasonNoFit
	}
	return res, nil
}

type CreateRequest struct {
	ProviderID    string
	ClientID      string
	Date          time.Time
	Start         int
	End           int
	Duration      int
	InitialStatus Status // pending or confirmed, empty uses the configured default
}

func (s *Service) validate(req *CreateRequest) error {
	if req.ProviderID == "" || req.ClientID == "" {
		return fmt.Errorf("%w: provider_id and client_id are required", ErrInvalidRequest)
	}
	if req.ProviderID == req.ClientID {
		return fmt.Errorf("%w: provider cannot book themselves", ErrInvalidRequest)
	}
	if !s.allowedDuration(req.Duration) {
		return fmt.Errorf("%w: %d", ErrInvalidDuration, req.Duration)
	}
	if !interval.ValidOffset(req.Start) || req.End <= req.Start || req.End > interval.MinutesPerDay || req.End-req.Start != req.Duration {
		return fmt.Errorf("%w: %s-%s for %d minutes", ErrInvalidInterval,
			interval.ToClockTime(req.Start), interval.ToClockTime(req.End), req.Duration)
	}

	if req.InitialStatus == "" {
		req.InitialStatus = Status(s.cfg.BookingInitialStatus)
	}
	if req.InitialStatus != StatusPending && req.InitialStatus != StatusConfirmed {
		return fmt.Errorf("%w: initial status must be pending or confirmed", ErrInvalidRequest)
	}

	if interval.DateOf(req.Date).Before(s.Today()) {
		return fmt.Errorf("%w: %s", ErrPastDate, interval.FormatDate(req.Date))
	}
	return nil
}

// CreateBooking reserves [Start, End) for the client. The overlap check and the insert happen as
// one unit in the store, so two overlapping requests can never both succeed; the loser gets
// ErrSlotConflict. The Redis lock in front only keeps contenders from piling onto the database.
func (s *Service) CreateBooking(ctx context.Context, req CreateRequest) (*Booking, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	nb := NewBooking{
		ProviderID:      req.ProviderID,
		ClientID:        req.ClientID,
		Date:            interval.DateOf(req.Date),
		StartOffset:     req.Start,
		EndOffset:       req.End,
		DurationMinutes: req.Duration,
		Status:          req.InitialStatus,
	}

	var created *Booking
	insert := func(ctx context.Context) error {
		b, err := s.store.InsertIfFree(ctx, nb)
		if err != nil {
			return err
		}
		created = b
		return nil
	}

	key := redisclient.ProviderDayKey(nb.ProviderID, interval.FormatDate(nb.Date))
	err := s.locker.WithLock(ctx, key, insert)
	if errors.Is(err, redisclient.ErrLockUnavailable) {
		s.logger.Warn("booking lock unavailable, relying on the store alone", zap.String("key", key), zap.Error(err))
		err = insert(ctx)
	}
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			return nil, ErrBookingBusy
		case errors.Is(err, ErrSlotConflict):
			return nil, ErrSlotConflict
		default:
			return nil, storageErr("create booking", err)
		}
	}

	s.logEvent(ctx, created.ID, EventBookingCreated, map[string]any{
		"provider_id": created.ProviderID,
		"client_id":   created.ClientID,
		"date":        interval.FormatDate(created.Date),
		"start":       interval.ToClockTime(created.StartOffset),
		"end":         interval.ToClockTime(created.EndOffset),
		"status":      created.Status,
	})

	if created.Status == StatusConfirmed {
		s.registerReminders(ctx, created)
	}

	return created, nil
}

// ConfirmBooking moves a pending booking to confirmed and schedules its reminders. Confirming a
// booking that is already confirmed is a no-op.
func (s *Service) ConfirmBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusConfirmed {
		return b, nil
	}

	updated, err := s.transition(ctx, b, StatusConfirmed)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventBookingConfirmed, map[string]any{})
	s.registerReminders(ctx, updated)
	return updated, nil
}

// CancelBooking cancels a pending or confirmed booking and cancels its outstanding reminders.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, b, StatusCancelled)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventBookingCancelled, map[string]any{"from": b.Status})
	s.cancelReminders(ctx, updated.ID)
	return updated, nil
}

func (s *Service) CompleteBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.finish(ctx, id, StatusCompleted)
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.finish(ctx, id, StatusNoShow)
}

func (s *Service) finish(ctx context.Context, id uuid.UUID, to Status) (*Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, b, to)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventBookingStatusChanged, map[string]any{"from": b.Status, "to": to})
	s.cancelReminders(ctx, updated.ID)
	return updated, nil
}

func (s *Service) transition(ctx context.Context, b *Booking, to Status) (*Booking, error) {
	if !CanTransition(b.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, b.Status, to)
	}

	updated, err := s.store.UpdateStatus(ctx, b.ID, []Status{b.Status}, to)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// status moved underneath us
			return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidStatusTransition, b.ID)
		}
		return nil, storageErr("update booking status", err)
	}
	return updated, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.store.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, storageErr("get booking", err)
	}
	return b, nil
}

// ListPendingJobs returns the reminders still waiting to fire for a booking.
func (s *Service) ListPendingJobs(ctx context.Context, id uuid.UUID) ([]reminder.Job, error) {
	if _, err := s.GetBooking(ctx, id); err != nil {
		return nil, err
	}
	if s.reminders == nil {
		return nil, nil
	}
	return s.reminders.ListPendingJobs(ctx, id)
}

// ReconcileReminders backfills reminders for confirmed bookings from today on that are missing
// some of their jobs, e.g. because registration failed after the booking committed.
func (s *Service) ReconcileReminders(ctx context.Context) (int, error) {
	if s.reminders == nil {
		return 0, nil
	}
	bookings, err := s.store.ListConfirmedFrom(ctx, s.Today())
	if err != nil {
		return 0, storageErr("list confirmed bookings", err)
	}

	now := s.clock.Now()
	repaired := 0
	for i := range bookings {
		b := &bookings[i]
		if !b.StartAt(s.cfg.Location).After(now) {
			continue
		}
		wrote, err := s.reminders.EnsureRegistered(ctx, s.reminderRequest(b))
		if err != nil {
			s.logger.Error("reconcile reminders", zap.String("booking_id", b.ID.String()), zap.Error(err))
			continue
		}
		if wrote {
			repaired++
			s.logger.Info("reminders backfilled", zap.String("booking_id", b.ID.String()))
		}
	}
	return repaired, nil
}

// ExpirePendingBookings cancels pending bookings older than the configured TTL so they stop
// holding the provider's time. A zero TTL disables expiry.
func (s *Service) ExpirePendingBookings(ctx context.Context) (int, error) {
	if s.cfg.PendingTTL <= 0 {
		return 0, nil
	}

	cutoff := s.clock.Now().Add(-s.cfg.PendingTTL)
	stale, err := s.store.FindStalePending(ctx, cutoff)
	if err != nil {
		return 0, storageErr("find stale pending bookings", err)
	}

	expired := 0
	for _, b := range stale {
		_, err := s.store.UpdateStatus(ctx, b.ID, []Status{StatusPending}, StatusCancelled)
		if err != nil {
			if !errors.Is(err, ErrBookingNotFound) {
				s.logger.Error("expire pending booking", zap.String("booking_id", b.ID.String()), zap.Error(err))
			}
			continue
		}
		expired++
		s.logEvent(ctx, b.ID, EventBookingExpired, map[string]any{
			"reason":     "worker",
			"created_at": b.CreatedAt,
		})
	}
	return expired, nil
}

func (s *Service) reminderRequest(b *Booking) reminder.RegisterRequest {
	return reminder.RegisterRequest{
		BookingID:  b.ID,
		StartAt:    b.StartAt(s.cfg.Location),
		ClientID:   b.ClientID,
		ProviderID: b.ProviderID,
		Date:       interval.FormatDate(b.Date),
		StartTime:  interval.ToClockTime(b.StartOffset),
	}
}

// registerReminders never fails the caller: the booking is already committed and the reconcile
// sweep picks up anything that did not get written here.
func (s *Service) registerReminders(ctx context.Context, b *Booking) {
	if s.reminders == nil {
		return
	}
	if _, err := s.reminders.Register(ctx, s.reminderRequest(b)); err != nil {
		s.logger.Error("register reminders",
			zap.String("booking_id", b.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) cancelReminders(ctx context.Context, id uuid.UUID) {
	if s.reminders == nil {
		return
	}
	if _, err := s.reminders.Cancel(ctx, id); err != nil {
		s.logger.Error("cancel reminders", zap.String("booking_id", id.String()), zap.Error(err))
	}
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: s.clock.Now(),
	}

	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("insert event log",
			zap.String("event", eventType),
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	}
}

// ActiveChecker answers the fire loop's question of whether a booking still wants reminders.
type ActiveChecker struct {
	store Store
}

func NewActiveChecker(store Store) *ActiveChecker {
	return &ActiveChecker{store: store}
}

func (c *ActiveChecker) BookingActive(ctx context.Context, id uuid.UUID) (bool, error) {
	b, err := c.store.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return false, nil
		}
		return false, err
	}
	return b.Status.Occupies(), nil
}
