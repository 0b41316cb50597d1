// Package main runs a demo WebSocket client for the live schedule
// status stream.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Generate today's routes
	body := []byte(`{}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Company-Id", "c_demo")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var genResp struct {
		Routes []struct {
			ID string `json:"id"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		log.Fatal(err)
	}
	if len(genResp.Routes) == 0 {
		log.Fatal("no routes returned")
	}
	routeID := genResp.Routes[0].ID
	log.Printf("Route ID: %s", routeID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/status/ws", RawQuery: "routeId=" + routeID}
	hdr := http.Header{}
	hdr.Set("X-Company-Id", "c_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			log.Fatal(err)
		}
		log.Printf("%s: %s", msg.Type, string(msg.Data))
	}
}
