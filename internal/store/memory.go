package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crewroute/internal/model"
)

// Memory is an in-memory store used when no DATABASE_URL is set, and
// by tests. Seed* methods populate roster data. Maps are keyed by
// companyID, except routes (routeID), byCrewDate (companyID|crewID|date)
// and unassigned (companyID|date).
type Memory struct {
	mu          sync.Mutex
	bases       map[string]basePoint
	customers   map[string][]model.Customer
	employees   map[string][]model.Employee
	routes      map[string]model.DailyRoute
	byCrewDate  map[string]string
	unassigned  map[string][]model.UnassignedCustomer
	subs        map[string][]model.Subscription
	deliveries  map[string]*memDelivery
	deliveryIDs []string
}

type basePoint struct {
	loc     model.GeoPoint
	address string
}

type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func NewMemory() *Memory {
	return &Memory{
		bases:      map[string]basePoint{},
		customers:  map[string][]model.Customer{},
		employees:  map[string][]model.Employee{},
		routes:     map[string]model.DailyRoute{},
		byCrewDate: map[string]string{},
		unassigned: map[string][]model.UnassignedCustomer{},
		subs:       map[string][]model.Subscription{},
		deliveries: map[string]*memDelivery{},
	}
}

// SeedCompany registers a company with its base location.
func (m *Memory) SeedCompany(companyID string, base model.GeoPoint, address string) {
	m.mu.Lock()
	m.bases[companyID] = basePoint{loc: base, address: address}
	m.mu.Unlock()
}

// SeedCustomers replaces the customer snapshot for a company.
func (m *Memory) SeedCustomers(companyID string, customers []model.Customer) {
	m.mu.Lock()
	m.customers[companyID] = append([]model.Customer(nil), customers...)
	m.mu.Unlock()
}

// SeedEmployees replaces the employee snapshot for a company.
func (m *Memory) SeedEmployees(companyID string, employees []model.Employee) {
	m.mu.Lock()
	m.employees[companyID] = append([]model.Employee(nil), employees...)
	m.mu.Unlock()
}

func (m *Memory) ListCompanies(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.bases))
	for id := range m.bases {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListCustomers(ctx context.Context, companyID string) ([]model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Customer(nil), m.customers[companyID]...), nil
}

func (m *Memory) ListEmployees(ctx context.Context, companyID string) ([]model.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Employee(nil), m.employees[companyID]...), nil
}

func (m *Memory) BaseLocation(ctx context.Context, companyID string) (model.GeoPoint, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bases[companyID]
	if !ok {
		return model.GeoPoint{}, "", ErrNotFound
	}
	return b.loc, b.address, nil
}

func crewDateKey(companyID, crewID, date string) string {
	return companyID + "|" + crewID + "|" + date
}

func (m *Memory) SaveRoute(ctx context.Context, route model.DailyRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := crewDateKey(route.CompanyID, route.CrewID, route.Date)
	if old, ok := m.byCrewDate[key]; ok && old != route.ID {
		delete(m.routes, old)
	}
	m.routes[route.ID] = route
	m.byCrewDate[key] = route.ID
	return nil
}

func (m *Memory) GetRoute(ctx context.Context, companyID, routeID string) (model.DailyRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok || r.CompanyID != companyID {
		return model.DailyRoute{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) RouteForCrew(ctx context.Context, companyID, crewID, date string) (model.DailyRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCrewDate[crewDateKey(companyID, crewID, date)]
	if !ok {
		return model.DailyRoute{}, ErrNotFound
	}
	return m.routes[id], nil
}

func (m *Memory) ListRoutes(ctx context.Context, companyID, date string) ([]model.DailyRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DailyRoute{}
	for _, r := range m.routes {
		if r.CompanyID == companyID && (date == "" || r.Date == date) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CrewID < out[j].CrewID })
	return out, nil
}

func (m *Memory) UpdateStopStatus(ctx context.Context, companyID, routeID, stopID string, status model.StopStatus, arrival, departure *time.Time) (model.DailyRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok || r.CompanyID != companyID {
		return model.DailyRoute{}, ErrNotFound
	}
	idx := -1
	for i := range r.Stops {
		if r.Stops[i].ID == stopID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return model.DailyRoute{}, ErrNotFound
	}
	s := r.Stops[idx]
	if !s.Status.CanTransition(status) {
		return model.DailyRoute{}, fmt.Errorf("%w: stop %s is %s, cannot become %s", ErrConflict, stopID, s.Status, status)
	}
	s.Status = status
	// Timestamps are set only once reached, never overwritten.
	if arrival != nil && s.ActualArrival == nil {
		s.ActualArrival = arrival
	}
	if departure != nil && s.ActualDeparture == nil {
		s.ActualDeparture = departure
	}
	r.Stops[idx] = s
	m.routes[routeID] = r
	return r, nil
}

func (m *Memory) SaveUnassigned(ctx context.Context, companyID, date string, items []model.UnassignedCustomer) error {
	m.mu.Lock()
	m.unassigned[companyID+"|"+date] = append([]model.UnassignedCustomer(nil), items...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListUnassigned(ctx context.Context, companyID, date string) ([]model.UnassignedCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.UnassignedCustomer(nil), m.unassigned[companyID+"|"+date]...), nil
}

func (m *Memory) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	m.subs[sub.CompanyID] = append(m.subs[sub.CompanyID], sub)
	return sub, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, companyID string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription(nil), m.subs[companyID]...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, companyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[companyID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	if len(out) == len(arr) {
		return ErrNotFound
	}
	m.subs[companyID] = out
	return nil
}

func (m *Memory) SubscriptionsForEvent(ctx context.Context, companyID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[companyID] {
		if s.Wants(eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, d WebhookDelivery) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.Status = "pending"
	m.deliveries[d.ID] = &memDelivery{WebhookDelivery: d, NextAttemptAt: time.Now()}
	m.deliveryIDs = append(m.deliveryIDs, d.ID)
	return d.ID, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.deliveries[id]; d != nil {
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	return nil
}
