// Package opt orders a crew's due customers into a single tour from a
// fixed base, nearest-neighbor construction plus bounded 2-opt.
package opt

import (
	"context"
	"sort"
	"time"

	"crewroute/internal/model"
	"crewroute/internal/travel"
)

// Result is an ordered tour over the input customers. Order holds
// indices into the input slice; Legs has len(Order)+1 entries covering
// base -> first ... last -> base.
type Result struct {
	Order                []int
	Legs                 []travel.Leg
	TotalDurationMinutes float64
	TotalDistanceMeters  float64
	Degraded             bool
}

// Optimizer computes tours through a pluggable travel-time provider.
// Fallback estimates legs when the provider is unavailable.
type Optimizer struct {
	Provider         travel.Provider
	Fallback         *travel.StraightLine
	TwoOptIterations int
	ProviderTimeout  time.Duration
}

func New(p travel.Provider, fallbackSpeedKph float64) *Optimizer {
	return &Optimizer{
		Provider:         p,
		Fallback:         travel.NewStraightLine(fallbackSpeedKph),
		TwoOptIterations: 25,
		ProviderTimeout:  3 * time.Second,
	}
}

// Optimize orders customers into a tour from/to base. For fewer than
// two customers it returns without touching the provider. On provider
// failure it falls back to distance-from-base ordering and marks the
// result Degraded instead of failing the generation cycle.
func (o *Optimizer) Optimize(ctx context.Context, base model.GeoPoint, customers []model.Customer) (Result, error) {
	if !base.Valid() {
		return Result{}, &model.InputError{Reason: "base location has no valid coordinates"}
	}
	for _, c := range customers {
		if !c.Location.Valid() {
			return Result{}, &model.InputError{Reason: "customer " + c.ID + " has no valid coordinates"}
		}
	}

	n := len(customers)
	if n == 0 {
		return Result{}, nil
	}
	if n == 1 {
		est, err := o.Fallback.Route(ctx, []model.GeoPoint{base, customers[0].Location, base})
		if err != nil {
			return Result{}, err
		}
		return Result{
			Order:                []int{0},
			Legs:                 est.Legs,
			TotalDurationMinutes: est.TotalDurationMinutes,
			TotalDistanceMeters:  est.TotalDistanceMeters,
		}, nil
	}

	order := nearestNeighbor(base, customers)
	iters := o.TwoOptIterations
	if iters <= 0 {
		iters = 1
	}
	order = improve2Opt(base, customers, order, iters)

	points := make([]model.GeoPoint, 0, n+2)
	points = append(points, base)
	for _, idx := range order {
		points = append(points, customers[idx].Location)
	}
	points = append(points, base)

	pctx := ctx
	if o.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, o.ProviderTimeout)
		defer cancel()
	}
	est, err := o.Provider.Route(pctx, points)
	if err != nil {
		return o.degrade(ctx, base, customers)
	}
	return Result{
		Order:                order,
		Legs:                 est.Legs,
		TotalDurationMinutes: est.TotalDurationMinutes,
		TotalDistanceMeters:  est.TotalDistanceMeters,
	}, nil
}

// degrade orders stops by ascending straight-line distance from base.
func (o *Optimizer) degrade(ctx context.Context, base model.GeoPoint, customers []model.Customer) (Result, error) {
	order := make([]int, len(customers))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		da := travel.HaversineMeters(base, customers[order[a]].Location)
		db := travel.HaversineMeters(base, customers[order[b]].Location)
		if da != db {
			return da < db
		}
		return customers[order[a]].ID < customers[order[b]].ID
	})
	points := make([]model.GeoPoint, 0, len(customers)+2)
	points = append(points, base)
	for _, idx := range order {
		points = append(points, customers[idx].Location)
	}
	points = append(points, base)
	est, err := o.Fallback.Route(ctx, points)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Order:                order,
		Legs:                 est.Legs,
		TotalDurationMinutes: est.TotalDurationMinutes,
		TotalDistanceMeters:  est.TotalDistanceMeters,
		Degraded:             true,
	}, nil
}

// nearestNeighbor builds an initial order greedily from base.
// Distance ties break on customer id for determinism.
func nearestNeighbor(base model.GeoPoint, customers []model.Customer) []int {
	n := len(customers)
	visited := make([]bool, n)
	order := make([]int, 0, n)
	cur := base
	for len(order) < n {
		best := -1
		bestDist := 0.0
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			d := travel.HaversineMeters(cur, customers[i].Location)
			if best == -1 || d < bestDist || (d == bestDist && customers[i].ID < customers[best].ID) {
				best = i
				bestDist = d
			}
		}
		visited[best] = true
		order = append(order, best)
		cur = customers[best].Location
	}
	return order
}

// improve2Opt applies pairwise segment reversals while they shorten the
// tour, bounded by an iteration budget.
func improve2Opt(base model.GeoPoint, customers []model.Customer, order []int, iterations int) []int {
	best := append([]int(nil), order...)
	bestDist := tourDistance(base, customers, best)
	n := len(order)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := twoOptSwap(best, i, k)
				d := tourDistance(base, customers, cand)
				if d+1e-3 < bestDist {
					best = cand
					bestDist = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

// tourDistance is the closed-tour length base -> stops -> base.
func tourDistance(base model.GeoPoint, customers []model.Customer, order []int) float64 {
	total := 0.0
	cur := base
	for _, idx := range order {
		total += travel.HaversineMeters(cur, customers[idx].Location)
		cur = customers[idx].Location
	}
	total += travel.HaversineMeters(cur, base)
	return total
}
