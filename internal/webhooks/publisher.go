// Package webhooks delivers route lifecycle events (route.updated,
// route.degraded, stop.completed, customer.unassigned) to subscribed
// URLs with HMAC signatures and retry backoff.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crewroute/internal/store"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues the event for every subscription of the company that
// wants this event type. Delivery happens asynchronously in the worker.
func (p *Publisher) Emit(ctx context.Context, companyID, eventType string, data any) {
	subs, err := p.Store.SubscriptionsForEvent(ctx, companyID, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":        fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type":      eventType,
		"companyId": companyID,
		"ts":        time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueWebhook(ctx, store.WebhookDelivery{
			CompanyID:      companyID,
			SubscriptionID: s.ID,
			EventType:      eventType,
			URL:            s.URL,
			Secret:         s.Secret,
			Payload:        body,
		})
	}
}
