package availability

import (
	"sort"
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/timeutil"
)

// Interval is a half-open UTC interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect:
// a overlaps b iff a.Start < b.End && b.Start < a.End. Back-to-back
// intervals (a.End == b.Start) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

// window is a wall-clock window in minutes of day.
type window struct {
	start int
	end   int
}

// windowsForDate resolves the effective windows for one civil date:
// the weekly rules for its weekday, unless an exception overrides them
// (off => none, non-empty windows => those windows instead).
// Malformed clock strings are skipped; upsert validation keeps them out
// of stored records.
func windowsForDate(av *model.Availability, date timeutil.CivilDate) []window {
	if exc := av.ExceptionFor(date.String()); exc != nil {
		if exc.Off {
			return nil
		}
		if len(exc.Windows) > 0 {
			out := make([]window, 0, len(exc.Windows))
			for _, w := range exc.Windows {
				s, err1 := timeutil.ParseClock(w.Start)
				e, err2 := timeutil.ParseClock(w.End)
				if err1 != nil || err2 != nil || s >= e {
					continue
				}
				out = append(out, window{start: s, end: e})
			}
			return out
		}
	}

	dow := date.Weekday()
	var out []window
	for _, r := range av.Rules {
		if r.DayOfWeek != dow {
			continue
		}
		s, err1 := timeutil.ParseClock(r.Start)
		e, err2 := timeutil.ParseClock(r.End)
		if err1 != nil || err2 != nil || s >= e {
			continue
		}
		out = append(out, window{start: s, end: e})
	}
	return out
}

// Slots expands an availability record into free candidate intervals
// over the civil date range [from, to), net of busy intervals.
//
// Within each window the cursor starts at the window start and
// advances by duration+buffer, so consecutive slots from one window
// keep bufferMinutes of spacing; a candidate that would run past the
// window end is discarded along with everything after it. Candidates
// are converted to UTC in loc before the busy check.
//
// Cost is O(days x windows x slotsPerWindow); callers are expected to
// bound the date range at the HTTP boundary.
func Slots(av *model.Availability, loc *time.Location, from, to timeutil.CivilDate, duration time.Duration, busy []Interval) []Interval {
	if av == nil || duration <= 0 {
		return nil
	}
	buffer := time.Duration(av.BufferMinutes) * time.Minute
	step := duration + buffer

	var out []Interval
	for day := from; day.Before(to); day = day.Next() {
		for _, w := range windowsForDate(av, day) {
			windowStart := day.AtMinute(w.start, loc)
			windowEnd := day.AtMinute(w.end, loc)
			for cursor := windowStart; !cursor.Add(duration).After(windowEnd); cursor = cursor.Add(step) {
				start := cursor
				end := cursor.Add(duration)
				if overlapsAny(start, end, busy) {
					continue
				}
				out = append(out, Interval{Start: start, End: end})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// CoversInterval reports whether [startUTC, endUTC) falls entirely
// inside one effective window of the local date of startUTC. Used by
// booking creation to validate a requested interval against
// exception-aware availability.
func CoversInterval(av *model.Availability, loc *time.Location, startUTC, endUTC time.Time) bool {
	if av == nil || !endUTC.After(startUTC) {
		return false
	}
	date := timeutil.CivilDateOf(startUTC, loc)
	startMin := timeutil.MinuteOfDay(startUTC, loc)
	endMin := startMin + int(endUTC.Sub(startUTC).Minutes())
	for _, w := range windowsForDate(av, date) {
		if startMin >= w.start && endMin <= w.end {
			return true
		}
	}
	return false
}
