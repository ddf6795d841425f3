package dispatch

import (
	"strings"
	"time"
)

// isoDate is the wire format for resolved dates
const isoDate = "2006-01-02"

// ResolveDate turns a due-date word into a concrete YYYY-MM-DD string.
// Relative phrases resolve against now at classification time, never
// later: "tomorrow" typed today must not drift if the task is executed
// after midnight. Accepted forms are today, tomorrow, weekday names
// (next occurrence), and literal ISO dates.
func ResolveDate(word string, now time.Time) (string, bool) {
	w := strings.ToLower(strings.TrimSpace(word))

	switch w {
	case "today":
		return now.Format(isoDate), true
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(isoDate), true
	}

	if wd, ok := weekdays[w]; ok {
		days := int(wd-now.Weekday()+7) % 7
		if days == 0 {
			days = 7
		}
		return now.AddDate(0, 0, days).Format(isoDate), true
	}

	if t, err := time.Parse(isoDate, w); err == nil {
		return t.Format(isoDate), true
	}

	return "", false
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}
