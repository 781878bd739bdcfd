package reminder

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusFired          Status = "fired"
	StatusDispatched     Status = "dispatched"
	StatusDispatchFailed Status = "dispatch_failed"
	StatusCancelled      Status = "cancelled"
	StatusMissed         Status = "missed"
)

// Executed reports whether the fire loop has already claimed the job.
func (s Status) Executed() bool {
	return s == StatusFired || s == StatusDispatched || s == StatusDispatchFailed
}

type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

// DefaultLeadTimes are minutes before the booking start at which reminders fire.
var DefaultLeadTimes = []int{60, 10}

// Payload is what the dispatcher receives. It is stored as JSON next to the job.
type Payload struct {
	BookingID     string    `json:"booking_id"`
	ProviderID    string    `json:"provider_id"`
	ClientID      string    `json:"client_id"`
	RecipientRole Role      `json:"recipient_role"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	StartAt       time.Time `json:"start_at"`
	LeadMinutes   int       `json:"lead_minutes"`
}

type Job struct {
	JobID           string
	BookingID       uuid.UUID
	RecipientUserID string
	RecipientRole   Role
	TriggerAt       time.Time
	LeadMinutes     int
	Payload         Payload
	Status          Status
	LastError       string
	FiredAt         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (j Job) Executed() bool {
	return j.Status.Executed()
}

// JobID is deterministic so re-registering a booking replaces its jobs instead of adding more.
func JobID(bookingID uuid.UUID, role Role, leadMinutes int) string {
	return fmt.Sprintf("reminder:%s:%s:%d", bookingID, role, leadMinutes)
}
