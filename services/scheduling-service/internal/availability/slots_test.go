package availability

import (
	"testing"
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/timeutil"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%s) failed: %v", name, err)
	}
	return loc
}

func mustDate(t *testing.T, s string) timeutil.CivilDate {
	t.Helper()
	d, err := timeutil.ParseCivilDate(s)
	if err != nil {
		t.Fatalf("ParseCivilDate(%s) failed: %v", s, err)
	}
	return d
}

func TestSlotsBufferSpacing(t *testing.T) {
	loc := mustLoc(t, "UTC")
	av := &model.Availability{
		Status:        model.AvailabilityActive,
		Timezone:      "UTC",
		BufferMinutes: 15,
		Rules: []model.WeeklyRule{
			{DayOfWeek: 1, Start: "09:00", End: "12:00"},
		},
	}

	// 2026-01-05 is a Monday.
	from := mustDate(t, "2026-01-05")
	to := from.Next()

	got := Slots(av, loc, from, to, 60*time.Minute, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 slots, got %d: %v", len(got), got)
	}
	if !got[0].Start.Equal(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first slot start %s", got[0].Start)
	}
	if !got[1].Start.Equal(time.Date(2026, 1, 5, 10, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected second slot start %s", got[1].Start)
	}
	// 11:30 + 60m would run past 12:00, so no third slot.
}

func TestSlotsLocalTimezone(t *testing.T) {
	loc := mustLoc(t, "Asia/Hebron")
	av := &model.Availability{
		Status:   model.AvailabilityActive,
		Timezone: "Asia/Hebron",
		Rules: []model.WeeklyRule{
			{DayOfWeek: 1, Start: "09:00", End: "10:00"},
		},
	}

	from := mustDate(t, "2026-01-05")
	got := Slots(av, loc, from, from.Next(), 60*time.Minute, nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(got))
	}
	// Hebron winter is UTC+2, so 09:00 local is 07:00Z.
	want := time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)
	if !got[0].Start.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got[0].Start)
	}
}

func TestSlotsBusyFiltering(t *testing.T) {
	loc := mustLoc(t, "UTC")
	av := &model.Availability{
		Status:   model.AvailabilityActive,
		Timezone: "UTC",
		Rules: []model.WeeklyRule{
			{DayOfWeek: 1, Start: "09:00", End: "12:00"},
		},
	}
	from := mustDate(t, "2026-01-05")

	// Busy interval ends exactly where the 10:00 candidate begins;
	// half-open semantics keep that candidate free.
	busy := []Interval{{
		Start: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}}

	got := Slots(av, loc, from, from.Next(), 60*time.Minute, busy)
	if len(got) != 2 {
		t.Fatalf("expected 2 slots, got %d: %v", len(got), got)
	}
	if !got[0].Start.Equal(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first free slot %s", got[0].Start)
	}
	if !got[1].Start.Equal(time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected second free slot %s", got[1].Start)
	}
}

func TestSlotsExceptionOffAndOverride(t *testing.T) {
	loc := mustLoc(t, "UTC")
	av := &model.Availability{
		Status:   model.AvailabilityActive,
		Timezone: "UTC",
		Rules: []model.WeeklyRule{
			{DayOfWeek: 4, Start: "09:00", End: "12:00"},
		},
		Exceptions: []model.DateException{
			{Date: "2025-12-25", Off: true},
			{Date: "2026-01-01", Windows: []model.ExceptionWindow{{Start: "14:00", End: "15:00"}}},
		},
	}

	// 2025-12-25 is a Thursday but marked off.
	got := Slots(av, loc, mustDate(t, "2025-12-25"), mustDate(t, "2025-12-26"), 60*time.Minute, nil)
	if len(got) != 0 {
		t.Fatalf("expected no slots on an off day, got %d", len(got))
	}

	// 2026-01-01 is a Thursday; the exception windows replace the
	// weekly 09:00-12:00 window entirely.
	got = Slots(av, loc, mustDate(t, "2026-01-01"), mustDate(t, "2026-01-02"), 60*time.Minute, nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 overridden slot, got %d", len(got))
	}
	if !got[0].Start.Equal(time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected overridden slot %s", got[0].Start)
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd time.Time
		want                       bool
	}{
		{"back-to-back", base, base.Add(time.Hour), base.Add(time.Hour), base.Add(2 * time.Hour), false},
		{"identical", base, base.Add(time.Hour), base, base.Add(time.Hour), true},
		{"partial", base, base.Add(time.Hour), base.Add(30 * time.Minute), base.Add(90 * time.Minute), true},
		{"contained", base, base.Add(2 * time.Hour), base.Add(30 * time.Minute), base.Add(time.Hour), true},
		{"disjoint", base, base.Add(time.Hour), base.Add(3 * time.Hour), base.Add(4 * time.Hour), false},
	}
	for _, tc := range cases {
		if got := Overlaps(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestCoversInterval(t *testing.T) {
	loc := mustLoc(t, "UTC")
	av := &model.Availability{
		Status:   model.AvailabilityActive,
		Timezone: "UTC",
		Rules: []model.WeeklyRule{
			{DayOfWeek: 1, Start: "09:00", End: "12:00"},
		},
	}

	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	if !CoversInterval(av, loc, start, start.Add(time.Hour)) {
		t.Fatal("expected 10:00-11:00 Monday to be covered")
	}
	if CoversInterval(av, loc, start, start.Add(3*time.Hour)) {
		t.Fatal("expected interval spilling past 12:00 to be rejected")
	}
	tue := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)
	if CoversInterval(av, loc, tue, tue.Add(time.Hour)) {
		t.Fatal("expected Tuesday to be uncovered")
	}
}

func TestCalendarStatuses(t *testing.T) {
	loc := mustLoc(t, "UTC")
	av := &model.Availability{
		Status:   model.AvailabilityActive,
		Timezone: "UTC",
		Rules: []model.WeeklyRule{
			{DayOfWeek: 1, Start: "09:00", End: "11:00"},
			{DayOfWeek: 2, Start: "09:00", End: "10:00"},
		},
		Exceptions: []model.DateException{
			{Date: "2026-01-07", Off: true},
		},
	}

	// Tuesday's only candidate is taken.
	busy := []Interval{{
		Start: time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC),
	}}

	days := Calendar(av, loc, mustDate(t, "2026-01-05"), mustDate(t, "2026-01-08"), 60*time.Minute, busy)
	if len(days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(days))
	}
	if days[0].Status != DayAvailable {
		t.Fatalf("Monday: expected AVAILABLE, got %s", days[0].Status)
	}
	if days[1].Status != DayFull {
		t.Fatalf("Tuesday: expected FULL, got %s", days[1].Status)
	}
	if len(days[1].Slots) != 1 || days[1].Slots[0].Available {
		t.Fatalf("Tuesday: expected 1 unavailable slot, got %+v", days[1].Slots)
	}
	if days[2].Status != DayOff {
		t.Fatalf("Wednesday exception: expected OFF, got %s", days[2].Status)
	}
	if len(days[2].Slots) != 0 {
		t.Fatalf("off day must carry no slots, got %d", len(days[2].Slots))
	}
}

func TestCalendarWindowShorterThanDuration(t *testing.T) {
	loc := mustLoc(t, "UTC")
	av := &model.Availability{
		Status:   model.AvailabilityActive,
		Timezone: "UTC",
		Rules: []model.WeeklyRule{
			{DayOfWeek: 1, Start: "09:00", End: "09:30"},
		},
	}

	// Monday has a rule but no 60m candidate fits its half-hour
	// window: the day is FULL, not OFF. Tuesday has no rule at all
	// and stays OFF.
	days := Calendar(av, loc, mustDate(t, "2026-01-05"), mustDate(t, "2026-01-07"), 60*time.Minute, nil)
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days[0].Status != DayFull {
		t.Fatalf("Monday: expected FULL, got %s", days[0].Status)
	}
	if len(days[0].Slots) != 0 {
		t.Fatalf("Monday: expected no candidates, got %d", len(days[0].Slots))
	}
	if days[1].Status != DayOff {
		t.Fatalf("Tuesday: expected OFF, got %s", days[1].Status)
	}
}
