package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hackgods/slot-reminder-engine/internal/booking"
	"github.com/hackgods/slot-reminder-engine/internal/clock"
	"github.com/hackgods/slot-reminder-engine/internal/config"
	redisclient "github.com/hackgods/slot-reminder-engine/internal/redis"
	"github.com/hackgods/slot-reminder-engine/internal/reminder"
	"github.com/hackgods/slot-reminder-engine/internal/store/memory"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type brokenWindows struct{}

func (brokenWindows) ListActiveWindows(context.Context, string, time.Time) ([]booking.AvailabilityWindow, error) {
	return nil, errors.New("connection refused")
}

func newTestServer(t *testing.T, windows booking.AvailabilitySource) (*httptest.Server, *memory.Bookings) {
	t.Helper()

	clk := clock.NewFake(testNow)
	store := memory.NewBookings(clk)
	if windows == nil {
		windows = store
	}
	logger := zaptest.NewLogger(t)
	sched := reminder.NewScheduler(memory.NewReminders(), nil, booking.NewActiveChecker(store), clk, reminder.Config{}, logger)
	cfg := config.Config{
		Env:                  "test",
		AllowedDurations:     []int{30, 60, 90, 120},
		SlotStepMinutes:      30,
		BookingInitialStatus: "pending",
		Location:             time.UTC,
	}
	svc := booking.NewService(store, windows, redisclient.NewNoopLocker(), sched, cfg, clk, logger)

	srv := httptest.NewServer(NewRouter(RouterConfig{Service: svc, Logger: logger, Env: "test", Version: "dev"}))
	t.Cleanup(srv.Close)
	return srv, store
}

func addWindow(store *memory.Bookings, date string, start, end int) {
	d, _ := time.Parse("2006-01-02", date)
	store.AddWindow(booking.AvailabilityWindow{ProviderID: "provider-1", Date: d, StartOffset: start, EndOffset: end, Active: true})
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAvailableSlotsEndpoint(t *testing.T) {
	srv, store := newTestServer(t, nil)
	addWindow(store, "2026-03-03", 540, 660)

	var resp AvailableSlotsResponse
	code := doJSON(t, http.MethodGet, srv.URL+"/providers/provider-1/available-slots?date=2026-03-03&duration=60", nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}

	want := []SlotResponse{{"09:00", "10:00"}, {"09:30", "10:30"}, {"10:00", "11:00"}}
	if len(resp.Slots) != len(want) {
		t.Fatalf("got %v, want %v", resp.Slots, want)
	}
	for i := range want {
		if resp.Slots[i] != want[i] {
			t.Fatalf("slot %d: got %v, want %v", i, resp.Slots[i], want[i])
		}
	}
	if resp.Reason != "" {
		t.Fatalf("unexpected reason %q", resp.Reason)
	}
}

func TestAvailableSlotsEndpointErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	cases := []struct {
		query string
		code  int
		error string
	}{
		{"date=2026-03-03&duration=45", http.StatusBadRequest, "invalid_duration"},
		{"date=2026-03-03&duration=abc", http.StatusBadRequest, "invalid_duration"},
		{"date=03/03/2026&duration=60", http.StatusBadRequest, "invalid_date"},
		{"date=2026-03-01&duration=60", http.StatusBadRequest, "past_date"},
	}
	for _, c := range cases {
		var resp ErrorResponse
		code := doJSON(t, http.MethodGet, srv.URL+"/providers/provider-1/available-slots?"+c.query, nil, &resp)
		if code != c.code || resp.Error != c.error {
			t.Fatalf("%s: got %d %q, want %d %q", c.query, code, resp.Error, c.code, c.error)
		}
	}

	var empty AvailableSlotsResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/providers/provider-1/available-slots?date=2026-03-03&duration=60", nil, &empty); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(empty.Slots) != 0 || empty.Reason != booking.ReasonNoAvailability {
		t.Fatalf("unexpected empty response %+v", empty)
	}
}

func TestAvailableSlotsStorageUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, brokenWindows{})

	var resp ErrorResponse
	code := doJSON(t, http.MethodGet, srv.URL+"/providers/provider-1/available-slots?date=2026-03-03&duration=60", nil, &resp)
	if code != http.StatusServiceUnavailable || resp.Error != "storage_unavailable" {
		t.Fatalf("got %d %q", code, resp.Error)
	}
}

func TestBookingLifecycleEndpoints(t *testing.T) {
	srv, store := newTestServer(t, nil)
	addWindow(store, "2026-03-03", 540, 660)

	req := CreateBookingRequest{
		ProviderID: "provider-1",
		ClientID:   "client-1",
		Date:       "2026-03-03",
		Start:      "09:00",
		End:        "10:00",
		Duration:   60,
		Status:     "confirmed",
	}

	var created BookingResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/bookings", req, &created); code != http.StatusCreated {
		t.Fatalf("create status %d", code)
	}
	if created.ID == "" || created.Status != "confirmed" {
		t.Fatalf("unexpected booking %+v", created)
	}

	req.ClientID = "client-2"
	req.Start, req.End = "09:30", "10:30"
	var conflict ErrorResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/bookings", req, &conflict); code != http.StatusConflict || conflict.Error != "slot_conflict" {
		t.Fatalf("overlap: got %d %q", code, conflict.Error)
	}

	var jobs JobsResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/admin/bookings/"+created.ID+"/jobs", nil, &jobs); code != http.StatusOK {
		t.Fatalf("jobs status %d", code)
	}
	if len(jobs.Jobs) != 4 {
		t.Fatalf("expected 4 pending jobs, got %d", len(jobs.Jobs))
	}

	var cancelled CancelResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/bookings/"+created.ID+"/cancel", nil, &cancelled); code != http.StatusOK {
		t.Fatalf("cancel status %d", code)
	}
	if !cancelled.OK || cancelled.Booking.Status != "cancelled" {
		t.Fatalf("unexpected cancel response %+v", cancelled)
	}

	jobs = JobsResponse{}
	doJSON(t, http.MethodGet, srv.URL+"/admin/bookings/"+created.ID+"/jobs", nil, &jobs)
	if len(jobs.Jobs) != 0 {
		t.Fatalf("expected no pending jobs after cancel, got %d", len(jobs.Jobs))
	}

	var again ErrorResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/bookings/"+created.ID+"/cancel", nil, &again); code != http.StatusConflict {
		t.Fatalf("second cancel status %d", code)
	}

	var fetched BookingResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/bookings/"+created.ID, nil, &fetched); code != http.StatusOK || fetched.Status != "cancelled" {
		t.Fatalf("get: %d %+v", code, fetched)
	}
}

func TestConfirmAndCompleteEndpoints(t *testing.T) {
	srv, store := newTestServer(t, nil)
	addWindow(store, "2026-03-03", 540, 660)

	var created BookingResponse
	doJSON(t, http.MethodPost, srv.URL+"/bookings", CreateBookingRequest{
		ProviderID: "provider-1", ClientID: "client-1", Date: "2026-03-03", Start: "10:00", End: "10:30", Duration: 30,
	}, &created)
	if created.Status != "pending" {
		t.Fatalf("expected pending default, got %+v", created)
	}

	var confirmed BookingResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/bookings/"+created.ID+"/confirm", nil, &confirmed); code != http.StatusOK || confirmed.Status != "confirmed" {
		t.Fatalf("confirm: %d %+v", code, confirmed)
	}

	var completed BookingResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/bookings/"+created.ID+"/complete", nil, &completed); code != http.StatusOK || completed.Status != "completed" {
		t.Fatalf("complete: %d %+v", code, completed)
	}

	var noShow ErrorResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/bookings/"+created.ID+"/no-show", nil, &noShow); code != http.StatusConflict || noShow.Error != "invalid_status_transition" {
		t.Fatalf("no-show after complete: %d %q", code, noShow.Error)
	}
}

func TestBookingEndpointsRejectBadInput(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var resp ErrorResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/bookings/not-a-uuid", nil, &resp); code != http.StatusBadRequest || resp.Error != "invalid_booking_id" {
		t.Fatalf("bad id: %d %q", code, resp.Error)
	}

	resp = ErrorResponse{}
	if code := doJSON(t, http.MethodGet, srv.URL+"/bookings/8b0c6f3e-7e0e-4a53-9d0e-4f3f0d1c2b3a", nil, &resp); code != http.StatusNotFound {
		t.Fatalf("unknown id: %d", code)
	}

	resp = ErrorResponse{}
	bad := CreateBookingRequest{ProviderID: "provider-1", ClientID: "client-1", Date: "2026-03-03", Start: "9am", End: "10:00", Duration: 60}
	if code := doJSON(t, http.MethodPost, srv.URL+"/bookings", bad, &resp); code != http.StatusBadRequest || resp.Error != "invalid_start" {
		t.Fatalf("bad start: %d %q", code, resp.Error)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var live LivenessResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/health/live", nil, &live); code != http.StatusOK || live.Status != "ok" {
		t.Fatalf("live: %d %+v", code, live)
	}

	var ready ReadinessResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/health/ready", nil, &ready); code != http.StatusOK || ready.Status != "ok" {
		t.Fatalf("ready: %d %+v", code, ready)
	}
	if ready.Dependencies["postgres"] != "disabled" || ready.Dependencies["redis"] != "disabled" {
		t.Fatalf("dependencies %v", ready.Dependencies)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("request id %q", got)
	}
}

func TestSlotEndingAtMidnightIsBookable(t *testing.T) {
	srv, store := newTestServer(t, nil)
	addWindow(store, "2026-03-03", 22*60, 24*60)

	var slots AvailableSlotsResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/providers/provider-1/available-slots?date=2026-03-03&duration=60", nil, &slots); code != http.StatusOK {
		t.Fatalf("slots status %d", code)
	}
	last := slots.Slots[len(slots.Slots)-1]
	if last != (SlotResponse{Start: "23:00", End: "24:00"}) {
		t.Fatalf("expected 23:00-24:00 as the last slot, got %v", slots.Slots)
	}

	var created BookingResponse
	code := doJSON(t, http.MethodPost, srv.URL+"/bookings", CreateBookingRequest{
		ProviderID: "provider-1",
		ClientID:   "client-1",
		Date:       "2026-03-03",
		Start:      last.Start,
		End:        last.End,
		Duration:   60,
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("booking the offered midnight slot: status %d", code)
	}
	if created.Start != "23:00" || created.End != "24:00" {
		t.Fatalf("unexpected booking %+v", created)
	}

	slots = AvailableSlotsResponse{}
	doJSON(t, http.MethodGet, srv.URL+"/providers/provider-1/available-slots?date=2026-03-03&duration=60", nil, &slots)
	for _, s := range slots.Slots {
		if s.End > "23:00" {
			t.Fatalf("slot %v still offered after the midnight booking", s)
		}
	}
}
