package interval

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	DateLayout    = "2006-01-02"
)

var (
	ErrInvalidClockTime = errors.New("invalid clock time, expected HH:MM")
	ErrInvalidDate      = errors.New("invalid date, expected YYYY-MM-DD")
)

// Interval is a half-open range [Start, End) of minutes from midnight.
type Interval struct {
	Start int
	End   int
}

func (i Interval) Len() int {
	return i.End - i.Start
}

func (i Interval) Empty() bool {
	return i.End <= i.Start
}

func (i Interval) String() string {
	return ToClockTime(i.Start) + "-" + ToClockTime(i.End)
}

// ToOffset parses "HH:MM" (a trailing ":SS" is tolerated and ignored) into minutes from midnight.
// The hour may have one or two digits; minutes and seconds take exactly two.
func ToOffset(clock string) (int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, clock)
	}

	h, ok := clockField(parts[0], 1, 2)
	if !ok || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, clock)
	}
	m, ok := clockField(parts[1], 2, 2)
	if !ok || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, clock)
	}
	if len(parts) == 3 {
		if sec, ok := clockField(parts[2], 2, 2); !ok || sec > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, clock)
		}
	}

	return h*60 + m, nil
}

// ToEndOffset is ToOffset for the end of an interval: it also accepts "24:00", which is 1440.
func ToEndOffset(clock string) (int, error) {
	switch strings.TrimSpace(clock) {
	case "24:00", "24:00:00":
		return MinutesPerDay, nil
	}
	return ToOffset(clock)
}

// clockField parses an unsigned decimal field of minLen to maxLen ASCII digits.
func clockField(s string, minLen, maxLen int) (int, bool) {
	if len(s) < minLen || len(s) > maxLen {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// ToClockTime renders minutes from midnight as "HH:MM". 1440 renders as "24:00" so that a
// window ending at midnight stays printable.
func ToClockTime(offset int) string {
	return fmt.Sprintf("%02d:%02d", offset/60, offset%60)
}

// ValidOffset reports whether offset is a minute of the day.
func ValidOffset(offset int) bool {
	return offset >= 0 && offset < MinutesPerDay
}

// Overlaps is true iff the half-open intervals share at least one minute.
// Touching endpoints do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// OverlapsAny reports whether candidate overlaps any of the given intervals.
func OverlapsAny(candidate Interval, others []Interval) bool {
	for _, o := range others {
		if Overlaps(candidate, o) {
			return true
		}
	}
	return false
}

// Merge sorts intervals by start and coalesces the ones that overlap or touch.
// Empty intervals are dropped. The input slice is not modified.
func Merge(in []Interval) []Interval {
	sorted := make([]Interval, 0, len(in))
	for _, iv := range in {
		if !iv.Empty() {
			sorted = append(sorted, iv)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	var out []Interval
	for _, iv := range sorted {
		n := len(out)
		if n > 0 && iv.Start <= out[n-1].End {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Subtract returns the free parts of window once every occupied interval is removed.
// Occupied input may be unsorted and overlapping.
func Subtract(window Interval, occupied []Interval) []Interval {
	if window.Empty() {
		return nil
	}

	var free []Interval
	cursor := window.Start
	for _, occ := range Merge(occupied) {
		if occ.End <= cursor {
			continue
		}
		if occ.Start >= window.End {
			break
		}
		if occ.Start > cursor {
			free = append(free, Interval{Start: cursor, End: occ.Start})
		}
		cursor = occ.End
		if cursor >= window.End {
			return free
		}
	}
	if cursor < window.End {
		free = append(free, Interval{Start: cursor, End: window.End})
	}
	return free
}

// ParseDate parses a calendar date. The result is midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// FormatDate renders the calendar part of t.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOf drops the clock part of t, keeping the calendar date as seen in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartAt converts a calendar date plus minutes from midnight into an absolute instant in loc.
func StartAt(date time.Time, offset int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, offset/60, offset%60, 0, 0, loc)
}
