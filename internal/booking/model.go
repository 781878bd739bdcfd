package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-reminder-engine/internal/interval"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// OccupyingStatuses are the statuses that hold a provider's time.
var OccupyingStatuses = []Status{StatusPending, StatusConfirmed}

func (s Status) Occupies() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// transitions lists the permitted status changes. Everything else is rejected.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusNoShow},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AvailabilityWindow is one open interval a provider offers on one date.
// Offsets are minutes from midnight.
type AvailabilityWindow struct {
	ID          int64
	ProviderID  string
	Date        time.Time
	StartOffset int
	EndOffset   int
	Active      bool
}

func (w AvailabilityWindow) Interval() interval.Interval {
	return interval.Interval{Start: w.StartOffset, End: w.EndOffset}
}

type Booking struct {
	ID              uuid.UUID
	ProviderID      string
	ClientID        string
	Date            time.Time
	StartOffset     int
	EndOffset       int
	DurationMinutes int
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b Booking) Interval() interval.Interval {
	return interval.Interval{Start: b.StartOffset, End: b.EndOffset}
}

// StartAt is the absolute start of the booking in the provider's location.
func (b Booking) StartAt(loc *time.Location) time.Time {
	return interval.StartAt(b.Date, b.StartOffset, loc)
}

// NewBooking is what the conflict guard hands to the store for an atomic insert.
type NewBooking struct {
	ProviderID      string
	ClientID        string
	Date            time.Time
	StartOffset     int
	EndOffset       int
	DurationMinutes int
	Status          Status
}

func (n NewBooking) Interval() interval.Interval {
	return interval.Interval{Start: n.StartOffset, End: n.EndOffset}
}

// Slot is one bookable start/end pair.
type Slot struct {
	Start int
	End   int
}

func (s Slot) Interval() interval.Interval {
	return interval.Interval{Start: s.Start, End: s.End}
}

type SlotResult struct {
	ProviderID string
	Date       time.Time
	Duration   int
	Slots      []Slot
	Reason     string
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
