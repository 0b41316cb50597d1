package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewroute/internal/buildinfo"
	"crewroute/internal/engine"
	"crewroute/internal/model"
	"crewroute/internal/schedule"
	"crewroute/internal/store"
	"crewroute/internal/track"
)

// GenerateHandler handles POST /v1/generate: it reconciles the tenant
// for the requested date (default today) and returns the planned
// routes along with unassigned customers.
func (s *Server) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, company := s.withCompany(r)
	var req struct {
		Date string `json:"date"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	date := time.Now()
	if req.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", req.Date, time.Local)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid date", "expected YYYY-MM-DD", r.URL.Path)
			return
		}
		date = d
	}
	res, err := s.Engine.ReconcileCompany(r.Context(), company, date)
	if err != nil {
		var ie *model.InputError
		if errors.As(err, &ie) {
			writeProblem(w, http.StatusBadRequest, "Invalid input", ie.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Generate failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": res.Routes, "unassigned": res.Unassigned})
}

// RoutesIndexHandler handles GET /v1/routes?date=
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/routes" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, company := s.withCompany(r)
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	items, err := s.Store.ListRoutes(r.Context(), company, date)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List routes failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "date": date})
}

// RouteByIDHandler handles GET /v1/routes/{id} plus the subresources
// /status, /timings, /events/stream, and /stops/{stopId}/status.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/routes/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	_, company := s.withCompany(r)

	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		s.streamRouteEvents(w, r, company, id)
		return
	}
	if len(parts) > 3 && parts[1] == "stops" && parts[3] == "status" {
		s.updateStopStatus(w, r, company, id, parts[2])
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	route, err := s.Store.GetRoute(r.Context(), company, id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
		return
	}
	if len(parts) > 1 {
		switch parts[1] {
		case "status":
			writeJSON(w, http.StatusOK, track.Status(route, time.Now()))
		case "timings":
			agg := track.ForRoute(route, s.dayStart(route))
			writeJSON(w, http.StatusOK, agg)
		default:
			writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		}
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// dayStart is the reference for the first stop's drive time: the
// moment the crew leaves base. A planned arrival already includes the
// base-to-stop leg and would understate the drive.
func (s *Server) dayStart(route model.DailyRoute) time.Time {
	clock := "08:00"
	if s.Cfg != nil && s.Cfg.Workday.Start != "" {
		clock = s.Cfg.Workday.Start
	}
	day, err := time.ParseInLocation("2006-01-02", route.Date, time.Local)
	if err != nil {
		return route.CreatedAt
	}
	var hh, mm int
	if _, err := fmt.Sscanf(clock, "%d:%d", &hh, &mm); err != nil {
		return route.CreatedAt
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, time.Local)
}

func (s *Server) streamRouteEvents(w http.ResponseWriter, r *http.Request, company, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// same tenant scoping as the websocket feed: no subscribing to
	// another company's route by guessing its id
	if _, err := s.Store.GetRoute(r.Context(), company, id); err != nil {
		writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	// initial heartbeat
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"routeId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"routeId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// updateStopStatus handles POST /v1/routes/{id}/stops/{stopId}/status.
// Transitions are monotonic; a stale transition returns 409.
func (s *Server) updateStopStatus(w http.ResponseWriter, r *http.Request, company, routeID, stopID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Status    string `json:"status"`
		Arrival   string `json:"arrival,omitempty"`
		Departure string `json:"departure,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	status := model.StopStatus(req.Status)
	switch status {
	case model.StopInProgress, model.StopCompleted, model.StopSkipped:
	default:
		writeProblem(w, http.StatusBadRequest, "Invalid status", "expected in_progress, completed, or skipped", r.URL.Path)
		return
	}
	now := time.Now().UTC()
	var arrival, departure *time.Time
	if req.Arrival != "" {
		t, err := time.Parse(time.RFC3339, req.Arrival)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid arrival", "expected RFC3339 timestamp", r.URL.Path)
			return
		}
		arrival = &t
	}
	if req.Departure != "" {
		t, err := time.Parse(time.RFC3339, req.Departure)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid departure", "expected RFC3339 timestamp", r.URL.Path)
			return
		}
		departure = &t
	}
	if status == model.StopInProgress && arrival == nil {
		arrival = &now
	}
	if status == model.StopCompleted && departure == nil {
		departure = &now
	}

	route, err := s.Store.UpdateStopStatus(r.Context(), company, routeID, stopID, status, arrival, departure)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
		case errors.Is(err, store.ErrConflict):
			writeProblem(w, http.StatusConflict, "Conflict", err.Error(), r.URL.Path)
		default:
			writeProblem(w, http.StatusInternalServerError, "Update stop failed", err.Error(), r.URL.Path)
		}
		return
	}

	data := map[string]any{"routeId": routeID, "stopId": stopID, "status": string(status), "ts": now.Format(time.RFC3339)}
	s.Broker.Publish(routeID, RouteEvent{Type: "stop." + string(status), Data: data})
	if status == model.StopCompleted {
		s.Pub.Emit(r.Context(), company, "stop.completed", data)
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": route, "status": track.Status(route, time.Now())})
}

// DuePreviewHandler handles GET /v1/due?date=: the selection result
// without generating routes.
func (s *Server) DuePreviewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, company := s.withCompany(r)
	date := time.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid date", "expected YYYY-MM-DD", r.URL.Path)
			return
		}
		date = d
	}
	customers, err := s.Store.ListCustomers(r.Context(), company)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List customers failed", err.Error(), r.URL.Path)
		return
	}
	due := schedule.SelectDue(customers, date)
	items := make([]map[string]any, 0, len(due))
	for _, c := range due {
		items = append(items, map[string]any{
			"customerId": c.ID, "name": c.Name, "serviceTypes": c.ServiceTypes(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date.Format("2006-01-02"), "items": items})
}

// CrewsHandler handles GET /v1/crews: crews derived from the employee
// roster with their effective service capabilities.
func (s *Server) CrewsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, company := s.withCompany(r)
	employees, err := s.Store.ListEmployees(r.Context(), company)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List employees failed", err.Error(), r.URL.Path)
		return
	}
	crews := schedule.BuildCrews(employees, s.Log)
	writeJSON(w, http.StatusOK, map[string]any{"items": crews})
}

// UnassignedHandler handles GET /v1/unassigned?date=
func (s *Server) UnassignedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, company := s.withCompany(r)
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	items, err := s.Store.ListUnassigned(r.Context(), company, date)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List unassigned failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "date": date})
}

// ChangesHandler handles POST /v1/changes: upstream record mutations
// (customer or roster edits) land here and wake the reconciler.
func (s *Server) ChangesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, company := s.withCompany(r)
	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.Kind == "" {
		req.Kind = "customers"
	}
	if err := s.Notifier.Publish(r.Context(), engine.Change{CompanyID: company, Kind: req.Kind}); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Publish change failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	_, company := s.withCompany(r)
	switch r.Method {
	case http.MethodPost:
		var req struct {
			URL    string   `json:"url"`
			Events []string `json:"events"`
			Secret string   `json:"secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "Missing fields", "url and events required", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), model.Subscription{
			ID: uuid.New().String(), CompanyID: company, URL: req.URL, Events: req.Events, Secret: req.Secret,
		})
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		items, err := s.Store.ListSubscriptions(r.Context(), company)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, company := s.withCompany(r)
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), company, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	info := buildinfo.Info()
	info["status"] = "ok"
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
