package model

import "fmt"

// InputError reports invalid caller-supplied data (bad coordinates,
// empty required sets). Actionable by the caller, not retried.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "invalid input: " + e.Reason }

// ProviderError wraps a travel-time provider failure. Recoverable:
// the optimizer degrades to fallback ordering instead of failing.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("travel provider %s: %v", e.Op, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// CapabilityError marks a due customer no crew can serve. The customer
// is surfaced as unassigned rather than silently dropped.
type CapabilityError struct {
	CustomerID   string
	ServiceTypes []string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("no crew can serve customer %s (types %v)", e.CustomerID, e.ServiceTypes)
}
