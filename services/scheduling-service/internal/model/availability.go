package model

import "time"

type AvailabilityStatus string

const (
	AvailabilityDraft    AvailabilityStatus = "DRAFT"
	AvailabilityActive   AvailabilityStatus = "ACTIVE"
	AvailabilityArchived AvailabilityStatus = "ARCHIVED"
)

// WeeklyRule is one recurring window on a day of week. A day may carry
// several disjoint windows. Start/End are wall-clock "HH:MM" strings in
// the provider's configured timezone.
type WeeklyRule struct {
	DayOfWeek int    `json:"dayOfWeek"` // 0=Sunday .. 6=Saturday
	Start     string `json:"start"`
	End       string `json:"end"`
}

type ExceptionWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DateException overrides the weekly rules for one civil date: Off
// blanks the whole day; a non-empty Windows list replaces the weekly
// windows for that date.
type DateException struct {
	Date    string            `json:"date"` // "YYYY-MM-DD"
	Off     bool              `json:"off"`
	Windows []ExceptionWindow `json:"windows,omitempty"`
}

// Availability is the versioned weekly schedule of one provider
// identity. Exactly one ACTIVE record per identity is assumed by every
// reader; superseded records are kept as ARCHIVED with VersionOf
// pointing at the record they replaced.
type Availability struct {
	ID            string
	IdentityID    string
	Status        AvailabilityStatus
	VersionOf     string
	Timezone      string // IANA zone name, e.g. "Asia/Hebron"
	BufferMinutes int
	Rules         []WeeklyRule
	Exceptions    []DateException
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExceptionFor returns the exception for a civil date, if any.
func (a *Availability) ExceptionFor(date string) *DateException {
	for i := range a.Exceptions {
		if a.Exceptions[i].Date == date {
			return &a.Exceptions[i]
		}
	}
	return nil
}

// RuleDays returns the set of weekdays that have at least one rule.
func (a *Availability) RuleDays() map[int]bool {
	days := make(map[int]bool, 7)
	for _, r := range a.Rules {
		days[r.DayOfWeek] = true
	}
	return days
}
