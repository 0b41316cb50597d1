package travel

import (
	"context"

	"crewroute/internal/model"
)

// StraightLine estimates legs from great-circle distance at a constant
// speed. Deterministic and dependency-free; used for tests, local dev,
// and as the degraded-mode estimator.
type StraightLine struct {
	SpeedKph float64
}

func NewStraightLine(speedKph float64) *StraightLine {
	if speedKph <= 0 {
		speedKph = 40
	}
	return &StraightLine{SpeedKph: speedKph}
}

func (s *StraightLine) Route(_ context.Context, points []model.GeoPoint) (Estimate, error) {
	est := Estimate{}
	for i := 0; i+1 < len(points); i++ {
		d := HaversineMeters(points[i], points[i+1])
		leg := Leg{
			DistanceMeters:  d,
			DurationMinutes: d / 1000 / s.SpeedKph * 60,
		}
		est.Legs = append(est.Legs, leg)
		est.TotalDistanceMeters += leg.DistanceMeters
		est.TotalDurationMinutes += leg.DurationMinutes
	}
	return est, nil
}
