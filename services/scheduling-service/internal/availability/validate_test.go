package availability

import (
	"testing"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

func TestValidateDefinition(t *testing.T) {
	valid := []model.WeeklyRule{{DayOfWeek: 1, Start: "09:00", End: "17:00"}}

	cases := []struct {
		name       string
		timezone   string
		buffer     int
		rules      []model.WeeklyRule
		exceptions []model.DateException
		wantErr    bool
	}{
		{name: "valid", timezone: "Asia/Hebron", buffer: 15, rules: valid},
		{name: "valid empty schedule", timezone: "UTC", buffer: 0},
		{name: "unknown timezone", timezone: "Mars/Olympus", rules: valid, wantErr: true},
		{name: "negative buffer", timezone: "UTC", buffer: -1, rules: valid, wantErr: true},
		{name: "buffer over cap", timezone: "UTC", buffer: 241, rules: valid, wantErr: true},
		{name: "day of week 7", timezone: "UTC", rules: []model.WeeklyRule{{DayOfWeek: 7, Start: "09:00", End: "10:00"}}, wantErr: true},
		{name: "bad clock", timezone: "UTC", rules: []model.WeeklyRule{{DayOfWeek: 1, Start: "9am", End: "10:00"}}, wantErr: true},
		{name: "start after end", timezone: "UTC", rules: []model.WeeklyRule{{DayOfWeek: 1, Start: "17:00", End: "09:00"}}, wantErr: true},
		{name: "start equals end", timezone: "UTC", rules: []model.WeeklyRule{{DayOfWeek: 1, Start: "09:00", End: "09:00"}}, wantErr: true},
		{name: "bad exception date", timezone: "UTC", exceptions: []model.DateException{{Date: "01/02/2026", Off: true}}, wantErr: true},
		{name: "off day with windows", timezone: "UTC", exceptions: []model.DateException{{Date: "2026-01-01", Off: true, Windows: []model.ExceptionWindow{{Start: "09:00", End: "10:00"}}}}, wantErr: true},
		{name: "exception window inverted", timezone: "UTC", exceptions: []model.DateException{{Date: "2026-01-01", Windows: []model.ExceptionWindow{{Start: "12:00", End: "11:00"}}}}, wantErr: true},
		{name: "valid exception override", timezone: "UTC", exceptions: []model.DateException{{Date: "2026-01-01", Windows: []model.ExceptionWindow{{Start: "14:00", End: "16:00"}}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDefinition(tc.timezone, tc.buffer, tc.rules, tc.exceptions)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
