package clock

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date, as configured in the options
// file ("06:00:00", "22:00").
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts "HH:MM:SS" or "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	layouts := []string{"15:04:05", "15:04"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q (expected HH:MM:SS)", s)
}

// MustParseTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustParseTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

// String formats as HH:MM:SS
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On returns the instant at this time of day on the date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, day.Location())
}

// NextOccurrence returns the first instant strictly after now that falls on t.
func NextOccurrence(now time.Time, t TimeOfDay) time.Time {
	next := t.On(now)
	if !next.After(now) {
		next = t.On(now.AddDate(0, 0, 1))
	}
	return next
}

// FormatTimeOfDay renders an instant as HH:MM:SS, the format the Brain expects.
func FormatTimeOfDay(t time.Time) string {
	return t.Format("15:04:05")
}
