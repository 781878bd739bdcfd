package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/slot-reminder-engine/internal/db"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const jobColumns = `job_id, booking_id, recipient_user_id, recipient_role, lead_minutes, trigger_at, status, payload, COALESCE(last_error, ''), fired_at, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var raw []byte

	err := row.Scan(
		&j.JobID,
		&j.BookingID,
		&j.RecipientUserID,
		&j.RecipientRole,
		&j.LeadMinutes,
		&j.TriggerAt,
		&j.Status,
		&raw,
		&j.LastError,
		&j.FiredAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", j.JobID, err)
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *PgStore) Upsert(ctx context.Context, jobs []Job) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, j := range jobs {
			payload, err := json.Marshal(j.Payload)
			if err != nil {
				return fmt.Errorf("encode payload of %s: %w", j.JobID, err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO reminder_jobs (job_id, booking_id, recipient_user_id, recipient_role, lead_minutes, trigger_at, status, payload)
				VALUES ($1, $2, $3, $4, $5, $6, 'scheduled', $7)
				ON CONFLICT (job_id) DO UPDATE
				SET recipient_user_id = EXCLUDED.recipient_user_id,
				    payload = EXCLUDED.payload,
				    status = CASE WHEN reminder_jobs.trigger_at = EXCLUDED.trigger_at THEN reminder_jobs.status ELSE 'scheduled' END,
				    last_error = CASE WHEN reminder_jobs.trigger_at = EXCLUDED.trigger_at THEN reminder_jobs.last_error ELSE NULL END,
				    fired_at = CASE WHEN reminder_jobs.trigger_at = EXCLUDED.trigger_at THEN reminder_jobs.fired_at ELSE NULL END,
				    trigger_at = EXCLUDED.trigger_at,
				    updated_at = now()
			`, j.JobID, j.BookingID, j.RecipientUserID, j.RecipientRole, j.LeadMinutes, j.TriggerAt, payload)
			if err != nil {
				return fmt.Errorf("upsert reminder job %s: %w", j.JobID, err)
			}
		}
		return nil
	})
}

func (s *PgStore) CancelByBooking(ctx context.Context, bookingID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled',
		    updated_at = now()
		WHERE booking_id = $1
		  AND status = 'scheduled'
	`, bookingID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgStore) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM reminder_jobs
		WHERE booking_id = $1
		ORDER BY trigger_at, recipient_role
	`, bookingID)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ClaimDue locks due rows with SKIP LOCKED so concurrent schedulers split the batch between them
// instead of both firing the same job.
func (s *PgStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE reminder_jobs
		SET status = 'fired',
		    fired_at = $1,
		    updated_at = now()
		WHERE job_id IN (
			SELECT job_id
			FROM reminder_jobs
			WHERE status = 'scheduled'
			  AND trigger_at <= $1
			ORDER BY trigger_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		  AND status = 'scheduled'
		RETURNING `+jobColumns+`
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (s *PgStore) MarkResult(ctx context.Context, jobID string, status Status, lastErr string) error {
	var errText *string
	if lastErr != "" {
		errText = &lastErr
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = $2,
		    last_error = $3,
		    updated_at = now()
		WHERE job_id = $1
		  AND status = 'fired'
	`, jobID, status, errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PgStore) ExpireOverdue(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'missed',
		    updated_at = now()
		WHERE status = 'scheduled'
		  AND trigger_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgStore) NextDue(ctx context.Context) (time.Time, bool, error) {
	var next *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(trigger_at)
		FROM reminder_jobs
		WHERE status = 'scheduled'
	`).Scan(&next)
	if err != nil {
		return time.Time{}, false, err
	}
	if next == nil {
		return time.Time{}, false, nil
	}
	return *next, true, nil
}

func (s *PgStore) CountScheduled(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM reminder_jobs
		WHERE status = 'scheduled'
	`).Scan(&n)
	return n, err
}
