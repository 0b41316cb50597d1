package model

// Subscription registers an external URL for route lifecycle events
// (route.updated, route.degraded, stop.completed, customer.unassigned).
type Subscription struct {
	ID        string   `json:"id"`
	CompanyID string   `json:"companyId"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	Secret    string   `json:"secret,omitempty"`
}

// Wants reports whether the subscription covers an event type.
func (s Subscription) Wants(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}
