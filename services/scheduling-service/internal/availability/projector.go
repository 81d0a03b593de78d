package availability

import (
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/timeutil"
)

type DayStatus string

const (
	DayOff       DayStatus = "OFF"
	DayAvailable DayStatus = "AVAILABLE"
	DayFull      DayStatus = "FULL"
)

// DaySlot is one candidate interval on the calendar, flagged free or
// taken rather than filtered out, so clients can render booked slots.
type DaySlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// Day is the calendar projection of one civil date.
type Day struct {
	Date   string    `json:"date"`
	Status DayStatus `json:"status"`
	Slots  []DaySlot `json:"slots"`
}

// Calendar projects the availability over [from, to) into per-day
// statuses. A date with no effective windows is OFF; a date with
// windows but no free candidate is FULL, including the case where
// every window is shorter than the requested duration; otherwise it
// is AVAILABLE. OFF days carry an empty slot list.
func Calendar(av *model.Availability, loc *time.Location, from, to timeutil.CivilDate, duration time.Duration, busy []Interval) []Day {
	var out []Day
	for day := from; day.Before(to); day = day.Next() {
		d := Day{Date: day.String(), Status: DayOff, Slots: []DaySlot{}}
		buffer := time.Duration(av.BufferMinutes) * time.Minute
		step := duration + buffer

		windows := windowsForDate(av, day)
		for _, w := range windows {
			windowStart := day.AtMinute(w.start, loc)
			windowEnd := day.AtMinute(w.end, loc)
			for cursor := windowStart; !cursor.Add(duration).After(windowEnd); cursor = cursor.Add(step) {
				d.Slots = append(d.Slots, DaySlot{
					Start:     cursor,
					End:       cursor.Add(duration),
					Available: !overlapsAny(cursor, cursor.Add(duration), busy),
				})
			}
		}

		if len(windows) > 0 {
			d.Status = DayFull
			for _, s := range d.Slots {
				if s.Available {
					d.Status = DayAvailable
					break
				}
			}
		}
		out = append(out, d)
	}
	return out
}
