package availability

import (
	"fmt"
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/timeutil"
)

const maxBufferMinutes = 240

// ValidateDefinition checks a schedule before it is stored. The slot
// generator tolerates malformed entries, but nothing malformed should
// get past this point.
func ValidateDefinition(timezone string, bufferMinutes int, rules []model.WeeklyRule, exceptions []model.DateException) error {
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("unknown timezone %q", timezone)
	}
	if bufferMinutes < 0 || bufferMinutes > maxBufferMinutes {
		return fmt.Errorf("bufferMinutes must be between 0 and %d", maxBufferMinutes)
	}

	for i, r := range rules {
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return fmt.Errorf("rule %d: dayOfWeek %d out of range 0-6", i, r.DayOfWeek)
		}
		start, err := timeutil.ParseClock(r.Start)
		if err != nil {
			return fmt.Errorf("rule %d: %v", i, err)
		}
		end, err := timeutil.ParseClock(r.End)
		if err != nil {
			return fmt.Errorf("rule %d: %v", i, err)
		}
		if start >= end {
			return fmt.Errorf("rule %d: start %s must be before end %s", i, r.Start, r.End)
		}
	}

	for i, exc := range exceptions {
		if _, err := timeutil.ParseCivilDate(exc.Date); err != nil {
			return fmt.Errorf("exception %d: %v", i, err)
		}
		if exc.Off && len(exc.Windows) > 0 {
			return fmt.Errorf("exception %d: off days cannot carry windows", i)
		}
		for j, w := range exc.Windows {
			start, err := timeutil.ParseClock(w.Start)
			if err != nil {
				return fmt.Errorf("exception %d window %d: %v", i, j, err)
			}
			end, err := timeutil.ParseClock(w.End)
			if err != nil {
				return fmt.Errorf("exception %d window %d: %v", i, j, err)
			}
			if start >= end {
				return fmt.Errorf("exception %d window %d: start must be before end", i, j)
			}
		}
	}
	return nil
}
