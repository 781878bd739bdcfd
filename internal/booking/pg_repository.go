package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/slot-reminder-engine/internal/db"
	"github.com/hackgods/slot-reminder-engine/internal/interval"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const bookingColumns = `id, provider_id, client_id, date, start_offset, end_offset, duration_minutes, status, created_at, updated_at`

// Helpers

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow

	err := row.Scan(
		&w.ID,
		&w.ProviderID,
		&w.Date,
		&w.StartOffset,
		&w.EndOffset,
		&w.Active,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking

	err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&b.ClientID,
		&b.Date,
		&b.StartOffset,
		&b.EndOffset,
		&b.DurationMinutes,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Availability

func (r *PgRepository) ListActiveWindows(ctx context.Context, providerID string, date time.Time) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, date, start_offset, end_offset, active
		FROM availability_windows
		WHERE provider_id = $1
		  AND date = $2
		  AND active
		ORDER BY start_offset, end_offset
	`, providerID, interval.DateOf(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InsertWindow stores one availability window. Only seeding and admin tooling write windows.
func (r *PgRepository) InsertWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_windows (provider_id, date, start_offset, end_offset, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, provider_id, date, start_offset, end_offset, active
	`, w.ProviderID, interval.DateOf(w.Date), w.StartOffset, w.EndOffset, w.Active)
	return scanWindow(row)
}

// Bookings

func (r *PgRepository) ListOccupying(ctx context.Context, providerID string, date time.Time, statuses []Status) ([]Booking, error) {
	return listOccupying(ctx, r.pool, providerID, date, statuses)
}

func listOccupying(ctx context.Context, q db.Querier, providerID string, date time.Time, statuses []Status) ([]Booking, error) {
	rows, err := q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1
		  AND date = $2
		  AND status = ANY($3)
		ORDER BY start_offset
	`, providerID, interval.DateOf(date), statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// InsertIfFree serializes writers for one provider and date with a transaction scoped advisory
// lock, then probes for an overlapping occupying booking before inserting.
func (r *PgRepository) InsertIfFree(ctx context.Context, nb NewBooking) (*Booking, error) {
	var created *Booking
	date := interval.DateOf(nb.Date)
	lockKey := nb.ProviderID + "|" + interval.FormatDate(date)

	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var conflict bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM bookings
				WHERE provider_id = $1
				  AND date = $2
				  AND status = ANY($3)
				  AND start_offset < $5
				  AND $4 < end_offset
			)
		`, nb.ProviderID, date, statusStrings(OccupyingStatuses), nb.StartOffset, nb.EndOffset).Scan(&conflict)
		if err != nil {
			return fmt.Errorf("overlap probe: %w", err)
		}
		if conflict {
			return ErrSlotConflict
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO bookings (id, provider_id, client_id, date, start_offset, end_offset, duration_minutes, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			RETURNING `+bookingColumns+`
		`, uuid.New(), nb.ProviderID, nb.ClientID, date, nb.StartOffset, nb.EndOffset, nb.DurationMinutes, nb.Status)

		b, err := scanBooking(row)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+bookingColumns+`
	`, id, to, statusStrings(from))

	return scanBooking(row)
}

func (r *PgRepository) ListConfirmedFrom(ctx context.Context, from time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'confirmed'
		  AND date >= $1
		ORDER BY date, start_offset
	`, interval.DateOf(from))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) FindStalePending(ctx context.Context, createdBefore time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND created_at < $1
	`, createdBefore)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
