package booking

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/hackgods/slot-reminder-engine/internal/interval"
)

func window(start, end int) AvailabilityWindow {
	return AvailabilityWindow{ProviderID: "p", StartOffset: start, EndOffset: end, Active: true}
}

func TestComputeSlotsSingleWindow(t *testing.T) {
	got := ComputeSlots([]AvailabilityWindow{window(540, 660)}, nil, 60, 30)
	want := []Slot{{540, 600}, {570, 630}, {600, 660}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestComputeSlotsSkipsOccupied(t *testing.T) {
	occupied := []interval.Interval{{Start: 570, End: 600}}
	got := ComputeSlots([]AvailabilityWindow{window(540, 660)}, occupied, 30, 30)
	want := []Slot{{540, 570}, {600, 630}, {630, 660}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestComputeSlotsWindowOrderAndDuplicates(t *testing.T) {
	windows := []AvailabilityWindow{
		window(840, 960),
		window(540, 660),
		window(600, 720), // overlaps the morning window
	}
	got := ComputeSlots(windows, nil, 60, 30)
	want := []Slot{
		{540, 600}, {570, 630}, {600, 660},
		{630, 690}, {660, 720},
		{840, 900}, {870, 930}, {900, 960},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestComputeSlotsIgnoresInactiveAndShortWindows(t *testing.T) {
	inactive := window(540, 660)
	inactive.Active = false
	windows := []AvailabilityWindow{inactive, window(720, 750)}

	if got := ComputeSlots(windows, nil, 60, 30); len(got) != 0 {
		t.Fatalf("expected no slots, got %v", got)
	}
	if got := ComputeSlots(windows, nil, 30, 30); !reflect.DeepEqual(got, []Slot{{720, 750}}) {
		t.Fatalf("got %v", got)
	}
}

func TestComputeSlotsRejectsBadParameters(t *testing.T) {
	w := []AvailabilityWindow{window(540, 660)}
	if got := ComputeSlots(w, nil, 0, 30); got != nil {
		t.Fatalf("zero duration: %v", got)
	}
	if got := ComputeSlots(w, nil, 60, 0); got != nil {
		t.Fatalf("zero step: %v", got)
	}
}

func TestComputeSlotsSoundness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	durations := []int{30, 60, 90, 120}

	for round := 0; round < 500; round++ {
		var windows []AvailabilityWindow
		for i := 0; i < 1+rng.Intn(4); i++ {
			start := rng.Intn(48) * 30
			end := start + 30*(1+rng.Intn(10))
			if end > interval.MinutesPerDay {
				end = interval.MinutesPerDay
			}
			w := window(start, end)
			w.Active = rng.Intn(5) != 0
			windows = append(windows, w)
		}
		var occupied []interval.Interval
		for i := 0; i < rng.Intn(5); i++ {
			start := rng.Intn(96) * 15
			occupied = append(occupied, interval.Interval{Start: start, End: start + 15*(1+rng.Intn(8))})
		}
		duration := durations[rng.Intn(len(durations))]

		seen := make(map[Slot]bool)
		for _, s := range ComputeSlots(windows, occupied, duration, 30) {
			if s.End-s.Start != duration {
				t.Fatalf("round %d: slot %v has wrong length", round, s)
			}
			if seen[s] {
				t.Fatalf("round %d: slot %v returned twice", round, s)
			}
			seen[s] = true
			if interval.OverlapsAny(s.Interval(), occupied) {
				t.Fatalf("round %d: slot %v overlaps occupied %v", round, s, occupied)
			}
			contained := false
			for _, w := range windows {
				if w.Active && w.StartOffset <= s.Start && s.End <= w.EndOffset {
					contained = true
					break
				}
			}
			if !contained {
				t.Fatalf("round %d: slot %v outside every active window", round, s)
			}
		}
	}
}

func TestFreeIntervals(t *testing.T) {
	windows := []AvailabilityWindow{window(540, 660), window(840, 900)}
	occupied := []interval.Interval{{Start: 570, End: 600}, {Start: 840, End: 900}}

	got := FreeIntervals(windows, occupied)
	want := []interval.Interval{{Start: 540, End: 570}, {Start: 600, End: 660}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusPending, StatusCompleted, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Fatalf("CanTransition(%s, %s) = %v", c.from, c.to, got)
		}
	}
}
