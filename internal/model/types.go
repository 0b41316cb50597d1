package model

import (
	"time"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is usable for route generation:
// non-zero and within plausible range.
func (g GeoPoint) Valid() bool {
	if g.Lat == 0 && g.Lng == 0 {
		return false
	}
	return g.Lat >= -90 && g.Lat <= 90 && g.Lng >= -180 && g.Lng <= 180
}

// ServicePlan describes one recurring service a customer receives.
type ServicePlan struct {
	ServiceType   string         `json:"serviceType"`
	FrequencyDays int            `json:"frequencyDays,omitempty"`
	PreferredDays []time.Weekday `json:"preferredDays,omitempty"`
	WindowStart   string         `json:"windowStart,omitempty"` // "09:00"
	WindowEnd     string         `json:"windowEnd,omitempty"`
}

type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "active"
	CustomerInactive CustomerStatus = "inactive"
	CustomerPending  CustomerStatus = "pending"
)

// ServiceRecord is one completed visit in a customer's history.
type ServiceRecord struct {
	Date        time.Time `json:"date"`
	ServiceType string    `json:"serviceType"`
	CrewID      string    `json:"crewId,omitempty"`
}

// Customer is a tenant-scoped service customer.
type Customer struct {
	ID          string          `json:"id"`
	CompanyID   string          `json:"companyId"`
	Name        string          `json:"name"`
	Address     string          `json:"address,omitempty"`
	Location    GeoPoint        `json:"location"`
	Plans       []ServicePlan   `json:"plans"`
	Status      CustomerStatus  `json:"status"`
	LastService *time.Time      `json:"lastService,omitempty"`
	History     []ServiceRecord `json:"history,omitempty"`
}

// ServiceTypes returns the distinct service types across the customer's plans.
func (c Customer) ServiceTypes() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, p := range c.Plans {
		if p.ServiceType != "" && !seen[p.ServiceType] {
			seen[p.ServiceType] = true
			out = append(out, p.ServiceType)
		}
	}
	return out
}

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// Employee is a tenant-scoped worker, optionally assigned to a crew.
type Employee struct {
	ID           string   `json:"id"`
	CompanyID    string   `json:"companyId"`
	Name         string   `json:"name"`
	Role         Role     `json:"role"`
	CrewID       string   `json:"crewId,omitempty"` // empty means unassigned
	ServiceTypes []string `json:"serviceTypes,omitempty"`
	Available    bool     `json:"available"`
}

// Crew is a derived grouping of employees sharing a crew id.
// ServiceTypes is the union of member declarations.
type Crew struct {
	ID           string     `json:"id"`
	CompanyID    string     `json:"companyId,omitempty"`
	Members      []Employee `json:"members"`
	ServiceTypes []string   `json:"serviceTypes"`
}

// CanServe reports whether the crew covers every given service type.
func (c Crew) CanServe(types []string) bool {
	have := map[string]bool{}
	for _, t := range c.ServiceTypes {
		have[t] = true
	}
	for _, t := range types {
		if !have[t] {
			return false
		}
	}
	return true
}

type StopStatus string

const (
	StopPending    StopStatus = "pending"
	StopInProgress StopStatus = "in_progress"
	StopCompleted  StopStatus = "completed"
	StopSkipped    StopStatus = "skipped"
)

// CanTransition reports whether a stop status change is allowed.
// Transitions are monotonic: pending -> in_progress -> completed,
// or pending/in_progress -> skipped. Never backwards.
func (s StopStatus) CanTransition(to StopStatus) bool {
	switch s {
	case StopPending:
		return to == StopInProgress || to == StopCompleted || to == StopSkipped
	case StopInProgress:
		return to == StopCompleted || to == StopSkipped
	default:
		return false
	}
}

// Stop is one customer visit within a DailyRoute.
type Stop struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customerId"`
	CustomerName    string     `json:"customerName"`
	Address         string     `json:"address,omitempty"`
	Location        GeoPoint   `json:"location"`
	Seq             int        `json:"seq"`
	Status          StopStatus `json:"status"`
	PlannedArrival  time.Time  `json:"plannedArrival"`
	PlannedMinutes  float64    `json:"plannedMinutes"` // drive + service estimate for this stop
	ActualArrival   *time.Time `json:"actualArrival,omitempty"`
	ActualDeparture *time.Time `json:"actualDeparture,omitempty"`
}

// DailyRoute is the optimized tour for one (company, date, crew).
// Routes are superseded rather than mutated when the due set changes.
type DailyRoute struct {
	ID               string     `json:"id"`
	CompanyID        string     `json:"companyId"`
	CrewID           string     `json:"crewId"`
	Date             string     `json:"date"` // YYYY-MM-DD
	Stops            []Stop     `json:"stops"`
	Geometry         []GeoPoint `json:"geometry,omitempty"` // base, stops..., base
	EstimatedMinutes float64    `json:"estimatedMinutes"`
	DistanceMeters   float64    `json:"distanceMeters"`
	Degraded         bool       `json:"degraded"`
	CacheKey         string     `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Completed counts completed stops.
func (r DailyRoute) Completed() int {
	n := 0
	for _, s := range r.Stops {
		if s.Status == StopCompleted {
			n++
		}
	}
	return n
}

type Classification string

const (
	Ahead      Classification = "ahead"
	OnSchedule Classification = "on_schedule"
	Behind     Classification = "behind"
)

// ScheduleStatus is a derived, never-persisted projection over a
// DailyRoute and the wall clock.
type ScheduleStatus struct {
	Classification  Classification `json:"classification"`
	MinutesDelta    float64        `json:"minutesDelta"`
	EstimatedFinish time.Time      `json:"estimatedFinish"`
	StopsCompleted  int            `json:"stopsCompleted"`
	StopsTotal      int            `json:"stopsTotal"`
	StopsRemaining  int            `json:"stopsRemaining"`
}

// UnassignedCustomer is a due customer no crew could take, surfaced to
// the caller instead of being silently dropped.
type UnassignedCustomer struct {
	CustomerID   string   `json:"customerId"`
	CustomerName string   `json:"customerName"`
	ServiceTypes []string `json:"serviceTypes,omitempty"`
	Reason       string   `json:"reason"`
}
