package track

import (
	"math"
	"time"

	"crewroute/internal/model"
)

// onScheduleWindowMin is the tolerance around the planned baseline
// before a crew counts as ahead or behind.
const onScheduleWindowMin = 10.0

// Status classifies a crew's live progress against the route's planned
// timeline. Recomputed on demand; nothing is persisted.
func Status(route model.DailyRoute, now time.Time) model.ScheduleStatus {
	total := len(route.Stops)
	completed := route.Completed()
	st := model.ScheduleStatus{
		StopsTotal:     total,
		StopsCompleted: completed,
		StopsRemaining: total - completed,
	}

	start := routeStart(route)

	// Planned baseline: minutes of the plan that should be done by now,
	// clamped to the route's estimated span.
	plannedByNow := now.Sub(start).Minutes()
	if plannedByNow < 0 {
		plannedByNow = 0
	}
	if plannedByNow > route.EstimatedMinutes {
		plannedByNow = route.EstimatedMinutes
	}

	// Actual progress: the planned value of the work already completed.
	actualProgress := 0.0
	for _, s := range route.Stops {
		if s.Status == model.StopCompleted {
			actualProgress += s.PlannedMinutes
		}
	}

	delta := actualProgress - plannedByNow
	st.MinutesDelta = math.Abs(delta)
	switch {
	case delta > onScheduleWindowMin:
		st.Classification = model.Ahead
	case delta < -onScheduleWindowMin:
		st.Classification = model.Behind
	default:
		st.Classification = model.OnSchedule
	}

	st.EstimatedFinish = estimateFinish(route, start, now, completed)
	return st
}

// estimateFinish extrapolates from the observed average per-stop time
// (drive + work) once at least two stops are done; with a smaller
// sample it falls back to the original estimate.
func estimateFinish(route model.DailyRoute, start, now time.Time, completed int) time.Time {
	remaining := len(route.Stops) - completed
	if remaining == 0 {
		if last := lastDeparture(route); last != nil {
			return *last
		}
		return now
	}
	if completed >= 2 {
		agg := ForRoute(route, start)
		if agg.Stops >= 2 {
			avg := (agg.DriveMinutes + agg.WorkMinutes) / float64(agg.Stops)
			return now.Add(time.Duration(avg*float64(remaining)) * time.Minute)
		}
	}
	return start.Add(time.Duration(route.EstimatedMinutes) * time.Minute)
}

func routeStart(route model.DailyRoute) time.Time {
	if len(route.Stops) > 0 && !route.Stops[0].PlannedArrival.IsZero() {
		return route.Stops[0].PlannedArrival
	}
	return route.CreatedAt
}

func lastDeparture(route model.DailyRoute) *time.Time {
	var last *time.Time
	for i := range route.Stops {
		d := route.Stops[i].ActualDeparture
		if d != nil && (last == nil || d.After(*last)) {
			last = d
		}
	}
	return last
}
