package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewroute/internal/model"
)

func testRoute(id, crewID string) model.DailyRoute {
	return model.DailyRoute{
		ID:        id,
		CompanyID: "co1",
		CrewID:    crewID,
		Date:      "2026-03-04",
		Stops: []model.Stop{
			{ID: "s1", CustomerID: "c1", Status: model.StopPending, Seq: 0},
			{ID: "s2", CustomerID: "c2", Status: model.StopPending, Seq: 1},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSaveRouteSupersedes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.SaveRoute(ctx, testRoute("r1", "crew-a")); err != nil {
		t.Fatalf("save r1: %v", err)
	}
	if err := m.SaveRoute(ctx, testRoute("r2", "crew-a")); err != nil {
		t.Fatalf("save r2: %v", err)
	}
	if _, err := m.GetRoute(ctx, "co1", "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("superseded route still present: %v", err)
	}
	routes, err := m.ListRoutes(ctx, "co1", "2026-03-04")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(routes) != 1 || routes[0].ID != "r2" {
		t.Fatalf("want only r2, got %+v", routes)
	}
}

func TestRouteForCrew(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.SaveRoute(ctx, testRoute("r1", "crew-a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	r, err := m.RouteForCrew(ctx, "co1", "crew-a", "2026-03-04")
	if err != nil {
		t.Fatalf("route for crew: %v", err)
	}
	if r.ID != "r1" {
		t.Fatalf("got %s", r.ID)
	}
	if _, err := m.RouteForCrew(ctx, "co1", "crew-b", "2026-03-04"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateStopStatusMonotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.SaveRoute(ctx, testRoute("r1", "crew-a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	now := time.Now().UTC()

	r, err := m.UpdateStopStatus(ctx, "co1", "r1", "s1", model.StopInProgress, &now, nil)
	if err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	if r.Stops[0].Status != model.StopInProgress || r.Stops[0].ActualArrival == nil {
		t.Fatalf("arrival not stamped: %+v", r.Stops[0])
	}

	later := now.Add(20 * time.Minute)
	r, err = m.UpdateStopStatus(ctx, "co1", "r1", "s1", model.StopCompleted, nil, &later)
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if r.Stops[0].Status != model.StopCompleted || r.Stops[0].ActualDeparture == nil {
		t.Fatalf("departure not stamped: %+v", r.Stops[0])
	}
	// arrival keeps its original stamp
	if !r.Stops[0].ActualArrival.Equal(now) {
		t.Fatalf("arrival restamped: %v", r.Stops[0].ActualArrival)
	}

	// no going backwards
	if _, err := m.UpdateStopStatus(ctx, "co1", "r1", "s1", model.StopInProgress, &now, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if _, err := m.UpdateStopStatus(ctx, "co1", "r1", "s1", model.StopSkipped, nil, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("completed -> skipped should conflict, got %v", err)
	}

	// unknown stop
	if _, err := m.UpdateStopStatus(ctx, "co1", "r1", "nope", model.StopCompleted, nil, &later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSubscriptionsLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sub, err := m.CreateSubscription(ctx, model.Subscription{
		ID: "sub1", CompanyID: "co1", URL: "https://hooks.example/x",
		Events: []string{"route.updated", "stop.completed"}, Secret: "shh",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := m.SubscriptionsForEvent(ctx, "co1", "route.updated")
	if err != nil || len(got) != 1 || got[0].ID != sub.ID {
		t.Fatalf("for event: %v %+v", err, got)
	}
	got, err = m.SubscriptionsForEvent(ctx, "co1", "route.degraded")
	if err != nil || len(got) != 0 {
		t.Fatalf("unexpected match: %v %+v", err, got)
	}
	if err := m.DeleteSubscription(ctx, "co1", sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteSubscription(ctx, "co1", sub.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestWebhookDeliveryQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.EnqueueWebhook(ctx, WebhookDelivery{
		CompanyID: "co1", URL: "https://hooks.example/x", EventType: "route.updated",
		Payload: []byte(`{"routeId":"r1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("fetch due: %v %d", err, len(due))
	}
	next := time.Now().Add(time.Minute)
	if err := m.MarkWebhookDelivery(ctx, id, false, &next, "500", 500, 12); err != nil {
		t.Fatalf("mark retry: %v", err)
	}
	// not due again until next attempt time passes
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("retry fetched early: %v %d", err, len(due))
	}
	if err := m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 8); err != nil {
		t.Fatalf("mark success: %v", err)
	}
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("delivered fetched again: %v %d", err, len(due))
	}
}
