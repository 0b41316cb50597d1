package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"crewroute/internal/model"
)

func routeWith(start time.Time, perStopMinutes float64, statuses ...model.StopStatus) model.DailyRoute {
	route := model.DailyRoute{
		EstimatedMinutes: perStopMinutes * float64(len(statuses)),
		CreatedAt:        start,
	}
	for i, st := range statuses {
		route.Stops = append(route.Stops, model.Stop{
			Seq:            i,
			Status:         st,
			PlannedArrival: start.Add(time.Duration(float64(i)*perStopMinutes) * time.Minute),
			PlannedMinutes: perStopMinutes,
		})
	}
	return route
}

func TestStatusOnScheduleAtStart(t *testing.T) {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	route := routeWith(start, 40, model.StopPending, model.StopPending, model.StopPending)
	st := Status(route, start)
	assert.Equal(t, model.OnSchedule, st.Classification)
	assert.Equal(t, 3, st.StopsRemaining)
	assert.Equal(t, 0, st.StopsCompleted)
}

func TestStatusBehindWhenNothingDone(t *testing.T) {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	route := routeWith(start, 40, model.StopPending, model.StopPending, model.StopPending)
	// an hour in with zero stops completed
	st := Status(route, start.Add(time.Hour))
	assert.Equal(t, model.Behind, st.Classification)
	assert.InDelta(t, 60, st.MinutesDelta, 0.01)
}

func TestStatusAheadWhenWorkOutpacesClock(t *testing.T) {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	route := routeWith(start, 40, model.StopCompleted, model.StopCompleted, model.StopPending)
	// 80 planned minutes done after 30 minutes of clock
	st := Status(route, start.Add(30*time.Minute))
	assert.Equal(t, model.Ahead, st.Classification)
	assert.InDelta(t, 50, st.MinutesDelta, 0.01)
}

func TestStatusWithinWindowIsOnSchedule(t *testing.T) {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	route := routeWith(start, 40, model.StopCompleted, model.StopPending, model.StopPending)
	// 40 planned minutes done at 45 minutes of clock: |delta| = 5
	st := Status(route, start.Add(45*time.Minute))
	assert.Equal(t, model.OnSchedule, st.Classification)
	assert.InDelta(t, 5, st.MinutesDelta, 0.01)
}

func TestStatusDeltaIsNonNegative(t *testing.T) {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	route := routeWith(start, 40, model.StopPending, model.StopPending)
	for _, offset := range []time.Duration{0, 20 * time.Minute, 2 * time.Hour} {
		st := Status(route, start.Add(offset))
		assert.GreaterOrEqual(t, st.MinutesDelta, 0.0)
	}
}

func TestStatusBaselineClampsToEstimate(t *testing.T) {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	route := routeWith(start, 40, model.StopCompleted, model.StopCompleted, model.StopCompleted)
	// hours past the planned span with everything done: the baseline
	// clamps so a finished route never reads behind
	st := Status(route, start.Add(8*time.Hour))
	assert.Equal(t, model.OnSchedule, st.Classification)
	assert.Equal(t, 0, st.StopsRemaining)
}

func TestEstimatedFinishCompletedRoute(t *testing.T) {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	route := routeWith(start, 40, model.StopCompleted, model.StopCompleted)
	dep := start.Add(85 * time.Minute)
	route.Stops[1].ActualDeparture = &dep
	st := Status(route, start.Add(2*time.Hour))
	assert.Equal(t, dep, st.EstimatedFinish)
}

func TestEstimatedFinishFallsBackToPlan(t *testing.T) {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	route := routeWith(start, 40, model.StopCompleted, model.StopPending, model.StopPending)
	// only one stop done: not enough sample to extrapolate
	st := Status(route, start.Add(30*time.Minute))
	assert.Equal(t, start.Add(120*time.Minute), st.EstimatedFinish)
}

func TestEstimatedFinishExtrapolatesFromObservedPace(t *testing.T) {
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	route := routeWith(start, 40, model.StopCompleted, model.StopCompleted, model.StopPending)
	// both completed stops took 30 observed minutes each
	a1, d1 := start.Add(10*time.Minute), start.Add(30*time.Minute)
	a2, d2 := start.Add(40*time.Minute), start.Add(60*time.Minute)
	route.Stops[0].ActualArrival, route.Stops[0].ActualDeparture = &a1, &d1
	route.Stops[1].ActualArrival, route.Stops[1].ActualDeparture = &a2, &d2

	now := start.Add(60 * time.Minute)
	st := Status(route, now)
	// avg 30 min per stop, one remaining
	assert.Equal(t, now.Add(30*time.Minute), st.EstimatedFinish)
}
