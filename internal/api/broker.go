package api

import (
	"sync"
)

// RouteEvent is a single server-sent event scoped to one route.
type RouteEvent struct {
	Type string
	Data map[string]any
}

// Broker fans route events out to per-route subscriber channels.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan RouteEvent]struct{} // routeID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan RouteEvent]struct{}{}}
}

func (b *Broker) Subscribe(routeID string) chan RouteEvent {
	ch := make(chan RouteEvent, 8)
	b.mu.Lock()
	if b.subs[routeID] == nil {
		b.subs[routeID] = map[chan RouteEvent]struct{}{}
	}
	b.subs[routeID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(routeID string, ch chan RouteEvent) {
	b.mu.Lock()
	if m := b.subs[routeID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, routeID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(routeID string, evt RouteEvent) {
	b.mu.Lock()
	m := b.subs[routeID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
