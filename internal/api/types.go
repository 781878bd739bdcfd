package api

import (
	"time"

	"github.com/hackgods/slot-reminder-engine/internal/booking"
	"github.com/hackgods/slot-reminder-engine/internal/interval"
	"github.com/hackgods/slot-reminder-engine/internal/reminder"
)

type CreateBookingRequest struct {
	ProviderID string `json:"provider_id"`
	ClientID   string `json:"client_id"`
	Date       string `json:"date"`  // YYYY-MM-DD
	Start      string `json:"start"` // HH:MM
	End        string `json:"end"`   // HH:MM
	Duration   int    `json:"duration"`
	Status     string `json:"status,omitempty"` // pending or confirmed, empty uses the server default
}

type SlotResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type AvailableSlotsResponse struct {
	ProviderID string         `json:"provider_id"`
	Date       string         `json:"date"`
	Duration   int            `json:"duration"`
	Slots      []SlotResponse `json:"slots"`
	Reason     string         `json:"reason,omitempty"`
}

type BookingResponse struct {
	ID         string    `json:"booking_id"`
	ProviderID string    `json:"provider_id"`
	ClientID   string    `json:"client_id"`
	Date       string    `json:"date"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	Duration   int       `json:"duration"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CancelResponse struct {
	OK      bool            `json:"ok"`
	Booking BookingResponse `json:"booking"`
}

type JobResponse struct {
	JobID           string    `json:"job_id"`
	RecipientUserID string    `json:"recipient_user_id"`
	RecipientRole   string    `json:"recipient_role"`
	LeadMinutes     int       `json:"lead_minutes"`
	TriggerAt       time.Time `json:"trigger_at"`
	Status          string    `json:"status"`
}

type JobsResponse struct {
	BookingID string        `json:"booking_id"`
	Jobs      []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotsResponse(res booking.SlotResult) AvailableSlotsResponse {
	slots := make([]SlotResponse, 0, len(res.Slots))
	for _, s := range res.Slots {
		slots = append(slots, SlotResponse{
			Start: interval.ToClockTime(s.Start),
			End:   interval.ToClockTime(s.End),
		})
	}
	return AvailableSlotsResponse{
		ProviderID: res.ProviderID,
		Date:       interval.FormatDate(res.Date),
		Duration:   res.Duration,
		Slots:      slots,
		Reason:     res.Reason,
	}
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:         b.ID.String(),
		ProviderID: b.ProviderID,
		ClientID:   b.ClientID,
		Date:       interval.FormatDate(b.Date),
		Start:      interval.ToClockTime(b.StartOffset),
		End:        interval.ToClockTime(b.EndOffset),
		Duration:   b.DurationMinutes,
		Status:     string(b.Status),
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func toJobResponse(j reminder.Job) JobResponse {
	return JobResponse{
		JobID:           j.JobID,
		RecipientUserID: j.RecipientUserID,
		RecipientRole:   string(j.RecipientRole),
		LeadMinutes:     j.LeadMinutes,
		TriggerAt:       j.TriggerAt,
		Status:          string(j.Status),
	}
}
