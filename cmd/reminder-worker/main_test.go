package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/slot-reminder-engine/internal/booking"
	"github.com/hackgods/slot-reminder-engine/internal/clock"
	"github.com/hackgods/slot-reminder-engine/internal/config"
	"github.com/hackgods/slot-reminder-engine/internal/reminder"
	"github.com/hackgods/slot-reminder-engine/internal/store/memory"
)

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, string, int, reminder.Payload) error {
	return errors.New("smtp down")
}

type activeBookings struct{}

func (activeBookings) BookingActive(context.Context, uuid.UUID) (bool, error) { return true, nil }

func TestRunOnceReportsDispatchFailures(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	sched := reminder.NewScheduler(memory.NewReminders(), failingDispatcher{}, activeBookings{}, clk, reminder.Config{}, logger)
	if _, err := sched.Register(ctx, reminder.RegisterRequest{
		BookingID:  uuid.New(),
		StartAt:    clk.Now().Add(2 * time.Hour),
		ClientID:   "client-1",
		ProviderID: "provider-1",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	clk.Advance(time.Hour)
	if _, err := sched.FireDue(ctx); err != nil {
		t.Fatalf("fire due: %v", err)
	}

	store := memory.NewBookings(clk)
	svc := booking.NewService(store, store, nil, sched, config.Config{AllowedDurations: []int{60}}, clk, logger)

	runOnce(ctx, svc, sched, logger)

	entries := logs.FilterMessage("reminder delivery problems since start").All()
	if len(entries) != 1 {
		t.Fatalf("expected one stats warning, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["dispatch_failed"] != int64(2) {
		t.Fatalf("expected dispatch_failed=2 in %v", fields)
	}
}
