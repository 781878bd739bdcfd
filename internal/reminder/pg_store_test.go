package reminder

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/slot-reminder-engine/internal/db"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 20})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestPgClaimDueHandsEachJobToOneClaimer(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewPgStore(pool)

	// triggers far in the past so nothing else in the table sorts ahead of them
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(time.Now().UnixNano() % int64(time.Hour)))
	want := make(map[string]bool)
	var jobs []Job
	for i := 0; i < 10; i++ {
		bookingID := uuid.New()
		for _, role := range []Role{RoleClient, RoleProvider} {
			j := Job{
				JobID:           JobID(bookingID, role, 60),
				BookingID:       bookingID,
				RecipientUserID: string(role) + "-1",
				RecipientRole:   role,
				TriggerAt:       base.Add(time.Duration(i) * time.Second),
				LeadMinutes:     60,
				Status:          StatusScheduled,
				Payload:         Payload{BookingID: bookingID.String(), RecipientRole: role, LeadMinutes: 60},
			}
			jobs = append(jobs, j)
			want[j.JobID] = true
		}
	}
	if err := store.Upsert(ctx, jobs); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	const claimers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimerStore := NewPgStore(pool)
			for {
				got, err := claimerStore.ClaimDue(ctx, base.Add(time.Minute), 3)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				mu.Lock()
				for _, j := range got {
					seen[j.JobID]++
				}
				mu.Unlock()
				if len(got) == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	for id := range want {
		if seen[id] != 1 {
			t.Fatalf("job %s claimed %d times", id, seen[id])
		}
	}

	// claimed jobs are fired; only they may be marked
	if err := store.MarkResult(ctx, jobs[0].JobID, StatusDispatched, ""); err != nil {
		t.Fatalf("mark result: %v", err)
	}
	if err := store.MarkResult(ctx, jobs[0].JobID, StatusDispatchFailed, "late"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("second mark must not overwrite the outcome, got %v", err)
	}
}

func TestPgUpsertKeepsStateForSameTrigger(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewPgStore(pool)

	bookingID := uuid.New()
	trigger := time.Date(2001, 1, 1, 9, 0, 0, 0, time.UTC)
	job := Job{
		JobID:           JobID(bookingID, RoleClient, 10),
		BookingID:       bookingID,
		RecipientUserID: "client-1",
		RecipientRole:   RoleClient,
		TriggerAt:       trigger,
		LeadMinutes:     10,
		Status:          StatusScheduled,
	}
	if err := store.Upsert(ctx, []Job{job}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n, err := store.CancelByBooking(ctx, bookingID); err != nil || n != 1 {
		t.Fatalf("cancel: %d %v", n, err)
	}

	if err := store.Upsert(ctx, []Job{job}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err := store.ListByBooking(ctx, bookingID)
	if err != nil || len(got) != 1 || got[0].Status != StatusCancelled {
		t.Fatalf("same trigger must keep cancelled state, got %+v (%v)", got, err)
	}

	job.TriggerAt = trigger.Add(time.Hour)
	if err := store.Upsert(ctx, []Job{job}); err != nil {
		t.Fatalf("moved upsert: %v", err)
	}
	got, _ = store.ListByBooking(ctx, bookingID)
	if len(got) != 1 || got[0].Status != StatusScheduled || !got[0].TriggerAt.Equal(job.TriggerAt) {
		t.Fatalf("moved trigger must reschedule, got %+v", got)
	}
	_, _ = store.CancelByBooking(ctx, bookingID)
}
