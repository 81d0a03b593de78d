package timeutil

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	if err != nil {
		t.Fatalf("ParseClock failed: %v", err)
	}
	if m != 9*60+30 {
		t.Fatalf("expected 570, got %d", m)
	}

	if _, err := ParseClock("25:00"); err == nil {
		t.Fatal("expected error for 25:00")
	}
	if _, err := ParseClock("9:30:00"); err == nil {
		t.Fatal("expected error for seconds suffix")
	}
}

func TestAtMinuteConvertsToUTC(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Hebron")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}

	d, err := ParseCivilDate("2026-01-05")
	if err != nil {
		t.Fatalf("ParseCivilDate failed: %v", err)
	}

	// 09:00 Hebron winter time is UTC+2.
	got := d.AtMinute(9*60, loc)
	want := time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want.Format(time.RFC3339), got.Format(time.RFC3339))
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
}

func TestCivilDateOfRoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}

	// 23:30 local on Jan 5 is already Jan 6 in UTC; the civil date in
	// loc must still read Jan 5.
	instant := time.Date(2026, 1, 6, 4, 30, 0, 0, time.UTC)
	d := CivilDateOf(instant, loc)
	if d.String() != "2026-01-05" {
		t.Fatalf("expected 2026-01-05, got %s", d)
	}
}

func TestNextAndWeekday(t *testing.T) {
	d := CivilDate{Year: 2026, Month: time.January, Day: 31}
	next := d.Next()
	if next.String() != "2026-02-01" {
		t.Fatalf("expected 2026-02-01, got %s", next)
	}

	// 2025-12-25 is a Thursday.
	xmas, _ := ParseCivilDate("2025-12-25")
	if xmas.Weekday() != 4 {
		t.Fatalf("expected weekday 4, got %d", xmas.Weekday())
	}

	if !d.Before(next) {
		t.Fatal("expected d before next")
	}
	if next.Before(d) {
		t.Fatal("did not expect next before d")
	}
}
