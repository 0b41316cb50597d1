// Package engine runs the reconciliation loop: on a change signal or
// date rollover it recomputes due sets, partitions them across crews,
// and resolves each crew's tour through the route cache.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crewroute/internal/metrics"
	"crewroute/internal/model"
	"crewroute/internal/opt"
	"crewroute/internal/routecache"
	"crewroute/internal/schedule"
	"crewroute/internal/store"
	"crewroute/internal/webhooks"
)

// Engine wires the selector, capability index, optimizer, and cache.
type Engine struct {
	Store     store.Store
	Cache     *routecache.Cache
	Optimizer *opt.Optimizer
	Notifier  Notifier
	Publisher *webhooks.Publisher
	Log       *zap.Logger

	// ServiceMinutes is the planned on-site work estimate per stop.
	ServiceMinutes float64
	// WorkdayStart is the local time ("08:00") crews leave base.
	WorkdayStart string
	// MaxStops bounds a single crew's daily tour.
	MaxStops int

	now func() time.Time
}

// Result is the outcome of reconciling one company for one date.
type Result struct {
	Routes     []model.DailyRoute
	Unassigned []model.UnassignedCustomer
}

func New(s store.Store, cache *routecache.Cache, o *opt.Optimizer, n Notifier, pub *webhooks.Publisher, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Store:          s,
		Cache:          cache,
		Optimizer:      o,
		Notifier:       n,
		Publisher:      pub,
		Log:            log,
		ServiceMinutes: 30,
		WorkdayStart:   "08:00",
		MaxStops:       30,
		now:            time.Now,
	}
}

// Run blocks, reconciling on change notifications and on date rollover,
// until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ch, err := e.Notifier.Subscribe(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	lastDay := e.now().Format("2006-01-02")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			e.Log.Info("change notification", zap.String("company", c.CompanyID), zap.String("kind", c.Kind))
			if _, err := e.ReconcileCompany(ctx, c.CompanyID, e.now()); err != nil {
				e.Log.Error("reconcile failed", zap.String("company", c.CompanyID), zap.Error(err))
			}
		case <-ticker.C:
			day := e.now().Format("2006-01-02")
			if day != lastDay {
				lastDay = day
				e.reconcileAll(ctx)
			}
		}
	}
}

func (e *Engine) reconcileAll(ctx context.Context) {
	companies, err := e.Store.ListCompanies(ctx)
	if err != nil {
		e.Log.Error("list companies", zap.Error(err))
		return
	}
	for _, id := range companies {
		if _, err := e.ReconcileCompany(ctx, id, e.now()); err != nil {
			e.Log.Error("reconcile failed", zap.String("company", id), zap.Error(err))
		}
	}
}

// ReconcileCompany recomputes due customers and routes for one company
// and date. Failure for one crew never blocks the others; per-crew
// errors are logged and that crew is skipped for this pass.
func (e *Engine) ReconcileCompany(ctx context.Context, companyID string, date time.Time) (Result, error) {
	dateStr := date.Format("2006-01-02")

	customers, err := e.Store.ListCustomers(ctx, companyID)
	if err != nil {
		return Result{}, err
	}
	employees, err := e.Store.ListEmployees(ctx, companyID)
	if err != nil {
		return Result{}, err
	}
	base, _, err := e.Store.BaseLocation(ctx, companyID)
	if err != nil {
		return Result{}, err
	}

	due := schedule.SelectDue(customers, date)

	// Customers without usable coordinates never enter route
	// generation; they are surfaced, not dropped.
	var unassigned []model.UnassignedCustomer
	valid := make([]model.Customer, 0, len(due))
	for _, c := range due {
		if !c.Location.Valid() {
			unassigned = append(unassigned, model.UnassignedCustomer{
				CustomerID:   c.ID,
				CustomerName: c.Name,
				ServiceTypes: c.ServiceTypes(),
				Reason:       (&model.InputError{Reason: "missing or invalid coordinates"}).Error(),
			})
			continue
		}
		valid = append(valid, c)
	}

	crews := schedule.BuildCrews(employees, e.Log)
	assigned, noCrew := schedule.Assign(valid, crews)
	unassigned = append(unassigned, noCrew...)

	crewIDs := make([]string, 0, len(assigned))
	for id := range assigned {
		crewIDs = append(crewIDs, id)
	}
	sort.Strings(crewIDs)

	// Overflow beyond the daily stop bound is surfaced as unassigned,
	// never silently cut from the day's plan.
	for _, crewID := range crewIDs {
		crewCustomers := assigned[crewID]
		if e.MaxStops <= 0 || len(crewCustomers) <= e.MaxStops {
			continue
		}
		e.Log.Warn("crew due set exceeds daily bound",
			zap.String("crew", crewID), zap.Int("due", len(crewCustomers)), zap.Int("max", e.MaxStops))
		for _, c := range crewCustomers[e.MaxStops:] {
			unassigned = append(unassigned, model.UnassignedCustomer{
				CustomerID:   c.ID,
				CustomerName: c.Name,
				ServiceTypes: c.ServiceTypes(),
				Reason:       fmt.Sprintf("crew %s daily stop limit (%d) exceeded", crewID, e.MaxStops),
			})
		}
		assigned[crewID] = crewCustomers[:e.MaxStops]
	}

	var mu sync.Mutex
	res := Result{Unassigned: unassigned}
	g, gctx := errgroup.WithContext(ctx)
	for _, crewID := range crewIDs {
		crewID := crewID
		crewCustomers := assigned[crewID]
		g.Go(func() error {
			route, err := e.routeForCrew(gctx, companyID, crewID, dateStr, base, crewCustomers)
			if err != nil {
				// One crew failing must not block the rest.
				e.Log.Error("route generation failed",
					zap.String("company", companyID), zap.String("crew", crewID), zap.Error(err))
				metrics.Optimizations.WithLabelValues(companyID, "error").Inc()
				return nil
			}
			mu.Lock()
			res.Routes = append(res.Routes, route)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	sort.Slice(res.Routes, func(i, j int) bool { return res.Routes[i].CrewID < res.Routes[j].CrewID })

	if err := e.Store.SaveUnassigned(ctx, companyID, dateStr, unassigned); err != nil {
		e.Log.Error("save unassigned", zap.String("company", companyID), zap.Error(err))
	}
	if e.Publisher != nil && len(unassigned) > 0 {
		e.Publisher.Emit(ctx, companyID, "customer.unassigned", map[string]any{"date": dateStr, "customers": unassigned})
	}
	return res, nil
}

// routeForCrew resolves one crew's tour through the cache; the compute
// path optimizes, persists, and emits events exactly once per due set.
func (e *Engine) routeForCrew(ctx context.Context, companyID, crewID, dateStr string, base model.GeoPoint, customers []model.Customer) (model.DailyRoute, error) {
	ids := make([]string, len(customers))
	for i, c := range customers {
		ids[i] = c.ID
	}
	route, hit, err := e.Cache.GetOrCompute(ctx, companyID, crewID, dateStr, ids, func(cctx context.Context) (model.DailyRoute, error) {
		start := time.Now()
		result, err := e.Optimizer.Optimize(cctx, base, customers)
		metrics.OptimizeDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return model.DailyRoute{}, err
		}
		route := e.buildRoute(companyID, crewID, dateStr, base, customers, result)
		if err := e.Store.SaveRoute(cctx, route); err != nil {
			return model.DailyRoute{}, err
		}
		outcome := "ok"
		if route.Degraded {
			outcome = "degraded"
			metrics.ProviderErrors.Inc()
		}
		metrics.Optimizations.WithLabelValues(companyID, outcome).Inc()
		if e.Publisher != nil {
			e.Publisher.Emit(cctx, companyID, "route.updated", map[string]any{
				"routeId": route.ID, "crewId": crewID, "date": dateStr, "stops": len(route.Stops),
			})
			if route.Degraded {
				e.Publisher.Emit(cctx, companyID, "route.degraded", map[string]any{"routeId": route.ID, "crewId": crewID})
			}
		}
		return route, nil
	})
	if err != nil {
		return model.DailyRoute{}, err
	}
	if hit {
		e.Log.Debug("route cache hit", zap.String("crew", crewID), zap.String("date", dateStr))
	}
	return route, nil
}

// buildRoute materializes the optimizer result as a DailyRoute with
// planned arrivals laid out from the workday start.
func (e *Engine) buildRoute(companyID, crewID, dateStr string, base model.GeoPoint, customers []model.Customer, r opt.Result) model.DailyRoute {
	day, _ := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	cursor := atClock(day, e.WorkdayStart)

	stops := make([]model.Stop, 0, len(r.Order))
	for seq, idx := range r.Order {
		c := customers[idx]
		driveMin := 0.0
		if seq < len(r.Legs) {
			driveMin = r.Legs[seq].DurationMinutes
		}
		arrival := cursor.Add(time.Duration(driveMin * float64(time.Minute)))
		stops = append(stops, model.Stop{
			ID:             uuid.New().String(),
			CustomerID:     c.ID,
			CustomerName:   c.Name,
			Address:        c.Address,
			Location:       c.Location,
			Seq:            seq,
			Status:         model.StopPending,
			PlannedArrival: arrival,
			PlannedMinutes: driveMin + e.ServiceMinutes,
		})
		cursor = arrival.Add(time.Duration(e.ServiceMinutes * float64(time.Minute)))
	}

	geometry := make([]model.GeoPoint, 0, len(stops)+2)
	geometry = append(geometry, base)
	for _, s := range stops {
		geometry = append(geometry, s.Location)
	}
	geometry = append(geometry, base)

	return model.DailyRoute{
		ID:               uuid.New().String(),
		CompanyID:        companyID,
		CrewID:           crewID,
		Date:             dateStr,
		Stops:            stops,
		Geometry:         geometry,
		EstimatedMinutes: r.TotalDurationMinutes + float64(len(stops))*e.ServiceMinutes,
		DistanceMeters:   r.TotalDistanceMeters,
		Degraded:         r.Degraded,
		CreatedAt:        e.now().UTC(),
	}
}

func atClock(day time.Time, clock string) time.Time {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		t, _ = time.Parse("15:04", "08:00")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location())
}
