package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound          = errors.New("reminder job not found")
	ErrSchedulerPersistence = errors.New("reminder jobs could not be persisted")
)

// Store is the durable home of reminder jobs. Every state change is a conditional update so that
// several scheduler processes can share one store.
type Store interface {
	// Upsert writes jobs keyed by JobID. A job whose trigger is unchanged keeps its status and
	// only gets a fresh payload; a moved trigger puts the job back to scheduled.
	Upsert(ctx context.Context, jobs []Job) error

	// CancelByBooking moves every scheduled job of the booking to cancelled.
	CancelByBooking(ctx context.Context, bookingID uuid.UUID) (int, error)

	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Job, error)

	// ClaimDue moves up to limit scheduled jobs with TriggerAt <= now to fired and returns them.
	// A job is handed to exactly one caller.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)

	// MarkResult records the outcome of a fired job.
	MarkResult(ctx context.Context, jobID string, status Status, lastErr string) error

	// ExpireOverdue moves scheduled jobs with TriggerAt < before to missed.
	ExpireOverdue(ctx context.Context, before time.Time) (int, error)

	// NextDue returns the earliest TriggerAt among scheduled jobs.
	NextDue(ctx context.Context) (time.Time, bool, error)

	CountScheduled(ctx context.Context) (int, error)
}
