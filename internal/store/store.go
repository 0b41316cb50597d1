package store

import (
	"context"
	"errors"
	"time"

	"crewroute/internal/model"
)

// Store is the persistence interface used by the engine and API.
// Customer and employee records are read-only snapshots here; the
// engine never writes them.
type Store interface {
	// Roster
	ListCompanies(ctx context.Context) ([]string, error)
	ListCustomers(ctx context.Context, companyID string) ([]model.Customer, error)
	ListEmployees(ctx context.Context, companyID string) ([]model.Employee, error)
	BaseLocation(ctx context.Context, companyID string) (model.GeoPoint, string, error)

	// Routes. SaveRoute supersedes any prior route for the same
	// (company, crew, date) rather than mutating it in place.
	SaveRoute(ctx context.Context, route model.DailyRoute) error
	GetRoute(ctx context.Context, companyID, routeID string) (model.DailyRoute, error)
	RouteForCrew(ctx context.Context, companyID, crewID, date string) (model.DailyRoute, error)
	ListRoutes(ctx context.Context, companyID, date string) ([]model.DailyRoute, error)

	// Stop completion, written on behalf of the external field-worker
	// action. Enforces the monotonic status transition and stamps
	// arrival/departure at most once.
	UpdateStopStatus(ctx context.Context, companyID, routeID, stopID string, status model.StopStatus, arrival, departure *time.Time) (model.DailyRoute, error)

	// Capability-unassigned customers per (company, date)
	SaveUnassigned(ctx context.Context, companyID, date string, items []model.UnassignedCustomer) error
	ListUnassigned(ctx context.Context, companyID, date string) ([]model.UnassignedCustomer, error)

	// Webhook subscriptions & deliveries
	CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	ListSubscriptions(ctx context.Context, companyID string) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, companyID, id string) error
	SubscriptionsForEvent(ctx context.Context, companyID, eventType string) ([]model.Subscription, error)
	EnqueueWebhook(ctx context.Context, d WebhookDelivery) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error
}

// WebhookDelivery is one pending or settled outbound notification.
type WebhookDelivery struct {
	ID             string
	CompanyID      string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string // pending, retry, delivered, failed
	Attempts       int
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a rejected stop status transition.
	ErrConflict = errors.New("conflicting state transition")
)
