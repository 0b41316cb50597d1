package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	rid := "r1"
	ch := b.Subscribe(rid)

	evt := RouteEvent{Type: "stop.completed", Data: map[string]any{"stopId": "s1"}}
	b.Publish(rid, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["stopId"].(string) != "s1" {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(rid, ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		// acceptable if already drained and closed
	}
}

func TestBrokerScopedToRoute(t *testing.T) {
	b := NewBroker()
	chA := b.Subscribe("rA")
	chB := b.Subscribe("rB")
	defer b.Unsubscribe("rA", chA)
	defer b.Unsubscribe("rB", chB)

	b.Publish("rA", RouteEvent{Type: "stop.completed", Data: map[string]any{}})

	select {
	case <-chA:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("subscriber for rA missed its event")
	}
	select {
	case evt := <-chB:
		t.Fatalf("subscriber for rB received foreign event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
