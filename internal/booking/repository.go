package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrSlotConflict       = errors.New("requested interval overlaps an existing booking")
	ErrStorageUnavailable = errors.New("booking storage unavailable")
)

// AvailabilitySource is read access to a provider's declared windows.
type AvailabilitySource interface {
	ListActiveWindows(ctx context.Context, providerID string, date time.Time) ([]AvailabilityWindow, error)
}

// Store is read/write access to committed bookings.
type Store interface {
	ListOccupying(ctx context.Context, providerID string, date time.Time, statuses []Status) ([]Booking, error)

	// InsertIfFree checks for an overlapping booking in one of OccupyingStatuses and inserts nb
	// as a single atomic unit. Returns ErrSlotConflict when an overlap exists.
	InsertIfFree(ctx context.Context, nb NewBooking) (*Booking, error)

	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// UpdateStatus moves a booking to `to` only if its current status is one of `from`.
	// Returns ErrBookingNotFound when no row matched.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Booking, error)

	// Reconcile sweep
	ListConfirmedFrom(ctx context.Context, from time.Time) ([]Booking, error)

	// Expiry worker
	FindStalePending(ctx context.Context, createdBefore time.Time) ([]Booking, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
