package booking

import (
	"sort"

	"github.com/hackgods/slot-reminder-engine/internal/interval"
)

// ComputeSlots walks every active window from its start in `step` increments and keeps each
// candidate [c, c+duration) that fits inside the window and overlaps no occupied interval.
// Placement is first-fit; no attempt is made to pack slots tightly.
//
// Windows are visited ordered by start. Overlapping windows may yield the same slot twice; the
// repeat is dropped so the caller never sees duplicates.
func ComputeSlots(windows []AvailabilityWindow, occupied []interval.Interval, duration, step int) []Slot {
	if duration <= 0 || step <= 0 {
		return nil
	}

	active := make([]AvailabilityWindow, 0, len(windows))
	for _, w := range windows {
		if !w.Active || w.EndOffset <= w.StartOffset {
			continue
		}
		active = append(active, w)
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].StartOffset == active[j].StartOffset {
			return active[i].EndOffset < active[j].EndOffset
		}
		return active[i].StartOffset < active[j].StartOffset
	})

	busy := interval.Merge(occupied)
	seen := make(map[Slot]struct{})

	var slots []Slot
	for _, w := range active {
		for c := w.StartOffset; c+duration <= w.EndOffset; c += step {
			candidate := interval.Interval{Start: c, End: c + duration}
			if interval.OverlapsAny(candidate, busy) {
				continue
			}
			s := Slot{Start: candidate.Start, End: candidate.End}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			slots = append(slots, s)
		}
	}
	return slots
}

// FreeIntervals is the per-window free remainder after removing occupied time.
// It backs the "why is there nothing" reasoning and admin tooling; slot offering uses ComputeSlots.
func FreeIntervals(windows []AvailabilityWindow, occupied []interval.Interval) []interval.Interval {
	var out []interval.Interval
	for _, w := range windows {
		if !w.Active {
			continue
		}
		out = append(out, interval.Subtract(w.Interval(), occupied)...)
	}
	return interval.Merge(out)
}

func occupiedIntervals(bookings []Booking) []interval.Interval {
	out := make([]interval.Interval, 0, len(bookings))
	for _, b := range bookings {
		if !b.Status.Occupies() {
			continue
		}
		out = append(out, b.Interval())
	}
	return out
}
