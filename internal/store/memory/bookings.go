package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-reminder-engine/internal/booking"
	"github.com/hackgods/slot-reminder-engine/internal/clock"
	"github.com/hackgods/slot-reminder-engine/internal/interval"
)

// Bookings is an in-process booking.Store and booking.AvailabilitySource. One mutex serializes
// every write, which gives InsertIfFree the same atomicity the Postgres transaction has.
type Bookings struct {
	mu       sync.Mutex
	clock    clock.Clock
	windows  map[string][]booking.AvailabilityWindow
	bookings map[uuid.UUID]booking.Booking
	events   []booking.EventLog
	nextWin  int64
	nextEv   int64
}

func NewBookings(clk clock.Clock) *Bookings {
	if clk == nil {
		clk = clock.System()
	}
	return &Bookings{
		clock:    clk,
		windows:  make(map[string][]booking.AvailabilityWindow),
		bookings: make(map[uuid.UUID]booking.Booking),
	}
}

func dayKey(providerID string, date time.Time) string {
	return providerID + "|" + interval.FormatDate(date)
}

func sameDay(a, b time.Time) bool {
	return interval.FormatDate(a) == interval.FormatDate(b)
}

// AddWindow stores an availability window and returns it with its assigned id.
func (s *Bookings) AddWindow(w booking.AvailabilityWindow) booking.AvailabilityWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextWin++
	w.ID = s.nextWin
	w.Date = interval.DateOf(w.Date)
	key := dayKey(w.ProviderID, w.Date)
	s.windows[key] = append(s.windows[key], w)
	return w
}

func (s *Bookings) ListActiveWindows(_ context.Context, providerID string, date time.Time) ([]booking.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []booking.AvailabilityWindow
	for _, w := range s.windows[dayKey(providerID, date)] {
		if w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Bookings) ListOccupying(_ context.Context, providerID string, date time.Time, statuses []booking.Status) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listLocked(providerID, date, statuses), nil
}

func (s *Bookings) listLocked(providerID string, date time.Time, statuses []booking.Status) []booking.Booking {
	var out []booking.Booking
	for _, b := range s.bookings {
		if b.ProviderID != providerID || !sameDay(b.Date, date) || !hasStatus(statuses, b.Status) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartOffset < out[j].StartOffset })
	return out
}

func (s *Bookings) InsertIfFree(_ context.Context, nb booking.NewBooking) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.listLocked(nb.ProviderID, nb.Date, booking.OccupyingStatuses) {
		if interval.Overlaps(b.Interval(), nb.Interval()) {
			return nil, booking.ErrSlotConflict
		}
	}

	now := s.clock.Now()
	b := booking.Booking{
		ID:              uuid.New(),
		ProviderID:      nb.ProviderID,
		ClientID:        nb.ClientID,
		Date:            interval.DateOf(nb.Date),
		StartOffset:     nb.StartOffset,
		EndOffset:       nb.EndOffset,
		DurationMinutes: nb.DurationMinutes,
		Status:          nb.Status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.bookings[b.ID] = b
	return &b, nil
}

func (s *Bookings) GetBookingByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return &b, nil
}

func (s *Bookings) UpdateStatus(_ context.Context, id uuid.UUID, from []booking.Status, to booking.Status) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || !hasStatus(from, b.Status) {
		return nil, booking.ErrBookingNotFound
	}
	b.Status = to
	b.UpdatedAt = s.clock.Now()
	s.bookings[id] = b
	return &b, nil
}

func (s *Bookings) ListConfirmedFrom(_ context.Context, from time.Time) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := interval.FormatDate(from)
	var out []booking.Booking
	for _, b := range s.bookings {
		if b.Status == booking.StatusConfirmed && interval.FormatDate(b.Date) >= day {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartOffset < out[j].StartOffset
	})
	return out, nil
}

func (s *Bookings) FindStalePending(_ context.Context, createdBefore time.Time) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []booking.Booking
	for _, b := range s.bookings {
		if b.Status == booking.StatusPending && b.CreatedAt.Before(createdBefore) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Bookings) InsertEvent(_ context.Context, ev booking.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEv++
	ev.ID = s.nextEv
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the audit log.
func (s *Bookings) Events() []booking.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]booking.EventLog, len(s.events))
	copy(out, s.events)
	return out
}

func hasStatus(set []booking.Status, s booking.Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
