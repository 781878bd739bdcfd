package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-reminder-engine/internal/reminder"
)

// Reminders is an in-process reminder.Store. It is durable only for the life of the value, which
// is enough to share one store between several schedulers in tests.
type Reminders struct {
	mu   sync.Mutex
	jobs map[string]reminder.Job
}

func NewReminders() *Reminders {
	return &Reminders{jobs: make(map[string]reminder.Job)}
}

func (s *Reminders) Upsert(_ context.Context, jobs []reminder.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, j := range jobs {
		existing, ok := s.jobs[j.JobID]
		if ok && existing.TriggerAt.Equal(j.TriggerAt) {
			existing.RecipientUserID = j.RecipientUserID
			existing.Payload = j.Payload
			existing.UpdatedAt = now
			s.jobs[j.JobID] = existing
			continue
		}

		j.Status = reminder.StatusScheduled
		j.LastError = ""
		j.FiredAt = nil
		j.UpdatedAt = now
		if ok {
			j.CreatedAt = existing.CreatedAt
		} else {
			j.CreatedAt = now
		}
		s.jobs[j.JobID] = j
	}
	return nil
}

func (s *Reminders) CancelByBooking(_ context.Context, bookingID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.BookingID == bookingID && j.Status == reminder.StatusScheduled {
			j.Status = reminder.StatusCancelled
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *Reminders) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]reminder.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reminder.Job
	for _, j := range s.jobs {
		if j.BookingID == bookingID {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return out, nil
}

func (s *Reminders) ClaimDue(_ context.Context, now time.Time, limit int) ([]reminder.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []reminder.Job
	for _, j := range s.jobs {
		if j.Status == reminder.StatusScheduled && !j.TriggerAt.After(now) {
			due = append(due, j)
		}
	}
	sortJobs(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		fired := now
		due[i].Status = reminder.StatusFired
		due[i].FiredAt = &fired
		due[i].UpdatedAt = time.Now()
		s.jobs[due[i].JobID] = due[i]
	}
	return due, nil
}

func (s *Reminders) MarkResult(_ context.Context, jobID string, status reminder.Status, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Status != reminder.StatusFired {
		return reminder.ErrJobNotFound
	}
	j.Status = status
	j.LastError = lastErr
	j.UpdatedAt = time.Now()
	s.jobs[jobID] = j
	return nil
}

func (s *Reminders) ExpireOverdue(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.Status == reminder.StatusScheduled && j.TriggerAt.Before(before) {
			j.Status = reminder.StatusMissed
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *Reminders) NextDue(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next time.Time
	found := false
	for _, j := range s.jobs {
		if j.Status != reminder.StatusScheduled {
			continue
		}
		if !found || j.TriggerAt.Before(next) {
			next = j.TriggerAt
			found = true
		}
	}
	return next, found, nil
}

func (s *Reminders) CountScheduled(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == reminder.StatusScheduled {
			n++
		}
	}
	return n, nil
}

func sortJobs(jobs []reminder.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].TriggerAt.Equal(jobs[k].TriggerAt) {
			return jobs[i].TriggerAt.Before(jobs[k].TriggerAt)
		}
		return jobs[i].JobID < jobs[k].JobID
	})
}
