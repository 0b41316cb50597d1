package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"crewroute/internal/track"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// StatusWSHandler handles GET /v1/status/ws?routeId=. It pushes the
// schedule classification on an interval and forwards stop events as
// they happen, so dispatch boards stay live without polling.
func (s *Server) StatusWSHandler(w http.ResponseWriter, r *http.Request) {
	routeID := r.URL.Query().Get("routeId")
	if routeID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing routeId", "", r.URL.Path)
		return
	}
	_, company := s.withCompany(r)
	if _, err := s.Store.GetRoute(r.Context(), company, routeID); err != nil {
		writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	// drain client frames so pongs are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := func() bool {
		route, err := s.Store.GetRoute(r.Context(), company, routeID)
		if err != nil {
			_ = conn.WriteJSON(wsMessage{Type: "error", Data: map[string]string{"message": "route gone"}})
			return false
		}
		st := track.Status(route, time.Now())
		return conn.WriteJSON(wsMessage{Type: "schedule.status", Data: st}) == nil
	}
	if !push() {
		return
	}

	ch := s.Broker.Subscribe(routeID)
	defer s.Broker.Unsubscribe(routeID, ch)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsMessage{Type: evt.Type, Data: evt.Data}); err != nil {
				return
			}
			// a stop event changes the classification; push the fresh one
			if !push() {
				return
			}
		case <-ticker.C:
			if !push() {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
