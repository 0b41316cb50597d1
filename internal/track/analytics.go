// Package track derives live progress projections from recorded stop
// timestamps. Everything here is pure: the tracker never writes.
package track

import (
	"time"

	"crewroute/internal/model"
)

// StopTiming is the derived drive/work split for one stop.
type StopTiming struct {
	DriveMinutes float64 `json:"driveMinutes"`
	WorkMinutes  float64 `json:"workMinutes"`
	Efficiency   float64 `json:"efficiency"` // work / (work + drive)
}

// PerStopTiming computes timing for one stop. prev is the preceding
// stop in sequence, nil for the first (drive then measures from
// dayStart). Returns false when a required timestamp is missing; the
// efficiency is undefined in that case, not zero.
func PerStopTiming(prev *model.Stop, s model.Stop, dayStart time.Time) (StopTiming, bool) {
	if s.ActualArrival == nil || s.ActualDeparture == nil {
		return StopTiming{}, false
	}
	var driveFrom time.Time
	if prev == nil {
		driveFrom = dayStart
	} else {
		if prev.ActualDeparture == nil {
			return StopTiming{}, false
		}
		driveFrom = *prev.ActualDeparture
	}
	drive := s.ActualArrival.Sub(driveFrom).Minutes()
	if drive < 0 {
		drive = 0
	}
	work := s.ActualDeparture.Sub(*s.ActualArrival).Minutes()
	if work < 0 {
		work = 0
	}
	t := StopTiming{DriveMinutes: drive, WorkMinutes: work}
	if drive+work > 0 {
		t.Efficiency = work / (work + drive)
	}
	return t, true
}

// RouteTiming is the crew-level aggregation across a route's stops.
type RouteTiming struct {
	DriveMinutes float64 `json:"driveMinutes"`
	WorkMinutes  float64 `json:"workMinutes"`
	Efficiency   float64 `json:"efficiency"`
	Stops        int     `json:"stops"` // stops with computable timing
}

// ForRoute sums per-stop timings over the route in sequence order.
// Stops without both timestamps are left out of the aggregate.
func ForRoute(route model.DailyRoute, dayStart time.Time) RouteTiming {
	agg := RouteTiming{}
	var prev *model.Stop
	for i := range route.Stops {
		s := route.Stops[i]
		t, ok := PerStopTiming(prev, s, dayStart)
		if ok {
			agg.DriveMinutes += t.DriveMinutes
			agg.WorkMinutes += t.WorkMinutes
			agg.Stops++
		}
		if s.ActualDeparture != nil {
			prev = &route.Stops[i]
		}
	}
	if agg.DriveMinutes+agg.WorkMinutes > 0 {
		agg.Efficiency = agg.WorkMinutes / (agg.WorkMinutes + agg.DriveMinutes)
	}
	return agg
}
