// Package schedule decides which customers are due on a date and which
// crew can take them.
package schedule

import (
	"time"

	"crewroute/internal/model"
)

// SelectDue returns the active customers due for a visit on date.
//
// A customer is due when any of its service plans matches: either the
// date's weekday is in the plan's preferred days, or no service has
// happened within the plan's frequency window (never-serviced counts).
// The two signals are OR-combined on purpose: the inclusive policy
// avoids under-scheduling. Output order is unspecified; callers must
// not depend on it.
func SelectDue(customers []model.Customer, date time.Time) []model.Customer {
	day := truncateDay(date)
	var due []model.Customer
	for _, c := range customers {
		if c.Status != model.CustomerActive {
			continue
		}
		if isDue(c, day) {
			due = append(due, c)
		}
	}
	return due
}

func isDue(c model.Customer, day time.Time) bool {
	for _, p := range c.Plans {
		for _, wd := range p.PreferredDays {
			if wd == day.Weekday() {
				return true
			}
		}
		if p.FrequencyDays > 0 {
			if c.LastService == nil {
				return true
			}
			if daysBetween(*c.LastService, day) >= p.FrequencyDays {
				return true
			}
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from one date to another. Both are
// mapped to UTC midnights first so DST transitions in the local zone
// cannot shorten a day below 24h and skew the count.
func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
