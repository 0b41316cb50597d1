// Package travel abstracts travel-time estimation behind a narrow
// provider interface so the optimizer never embeds a mapping vendor.
package travel

import (
	"context"
	"math"

	"crewroute/internal/model"
)

// Leg is the cost of one hop between consecutive waypoints.
type Leg struct {
	DurationMinutes float64 `json:"durationMinutes"`
	DistanceMeters  float64 `json:"distanceMeters"`
}

// Estimate is the provider's answer for an ordered point list.
type Estimate struct {
	Legs                 []Leg   `json:"legs"`
	TotalDurationMinutes float64 `json:"totalDurationMinutes"`
	TotalDistanceMeters  float64 `json:"totalDistanceMeters"`
}

// Provider estimates travel along an ordered list of points. May block
// or fail; callers bound it with a context deadline.
type Provider interface {
	Route(ctx context.Context, points []model.GeoPoint) (Estimate, error)
}

// HaversineMeters is the great-circle distance between two points.
func HaversineMeters(a, b model.GeoPoint) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}
