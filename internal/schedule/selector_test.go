package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"crewroute/internal/model"
)

func daysAgo(date time.Time, n int) *time.Time {
	t := date.AddDate(0, 0, -n)
	return &t
}

func TestSelectDueFrequencyBoundary(t *testing.T) {
	// Wednesday
	date := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	plan := model.ServicePlan{ServiceType: "lawn", FrequencyDays: 7}

	cases := []struct {
		name        string
		lastService *time.Time
		due         bool
	}{
		{"never serviced", nil, true},
		{"exactly frequency ago", daysAgo(date, 7), true},
		{"overdue", daysAgo(date, 12), true},
		{"one day early", daysAgo(date, 6), false},
		{"serviced today", daysAgo(date, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := model.Customer{
				ID:          "cust1",
				Status:      model.CustomerActive,
				Plans:       []model.ServicePlan{plan},
				LastService: tc.lastService,
			}
			due := SelectDue([]model.Customer{c}, date)
			if tc.due {
				assert.Len(t, due, 1)
			} else {
				assert.Empty(t, due)
			}
		})
	}
}

func TestSelectDueFrequencyBoundaryAcrossDSTTransition(t *testing.T) {
	denver, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// spring forward 2026-03-08: the window holds 167 wall-clock hours,
	// which is still 7 calendar days
	last := time.Date(2026, 3, 5, 10, 0, 0, 0, denver)
	date := time.Date(2026, 3, 12, 10, 0, 0, 0, denver)
	c := model.Customer{
		ID:          "cust1",
		Status:      model.CustomerActive,
		Plans:       []model.ServicePlan{{ServiceType: "lawn", FrequencyDays: 7}},
		LastService: &last,
	}
	assert.Len(t, SelectDue([]model.Customer{c}, date), 1)

	// fall back 2026-11-01: 6 days spanning the transition is 145 hours,
	// still not due
	last = time.Date(2026, 10, 29, 10, 0, 0, 0, denver)
	date = time.Date(2026, 11, 4, 10, 0, 0, 0, denver)
	c.LastService = &last
	assert.Empty(t, SelectDue([]model.Customer{c}, date))
}

func TestSelectDuePreferredDayOverridesRecentService(t *testing.T) {
	// Wednesday; serviced yesterday, but Wednesday is a preferred day.
	date := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	c := model.Customer{
		ID:     "cust1",
		Status: model.CustomerActive,
		Plans: []model.ServicePlan{{
			ServiceType:   "pool",
			FrequencyDays: 14,
			PreferredDays: []time.Weekday{time.Wednesday},
		}},
		LastService: daysAgo(date, 1),
	}
	assert.Len(t, SelectDue([]model.Customer{c}, date), 1)

	// Thursday: neither signal fires.
	assert.Empty(t, SelectDue([]model.Customer{c}, date.AddDate(0, 0, 1)))
}

func TestSelectDueAnyPlanSuffices(t *testing.T) {
	date := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	c := model.Customer{
		ID:     "cust1",
		Status: model.CustomerActive,
		Plans: []model.ServicePlan{
			{ServiceType: "lawn", FrequencyDays: 30},
			{ServiceType: "pool", FrequencyDays: 3},
		},
		LastService: daysAgo(date, 5),
	}
	assert.Len(t, SelectDue([]model.Customer{c}, date), 1)
}

func TestSelectDueSkipsInactive(t *testing.T) {
	date := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	customers := []model.Customer{
		{ID: "a", Status: model.CustomerInactive, Plans: []model.ServicePlan{{ServiceType: "lawn", FrequencyDays: 7}}},
		{ID: "b", Status: model.CustomerPending, Plans: []model.ServicePlan{{ServiceType: "lawn", FrequencyDays: 7}}},
		{ID: "c", Status: model.CustomerActive},
	}
	// a and b are not active; c has no plans.
	assert.Empty(t, SelectDue(customers, date))
}
