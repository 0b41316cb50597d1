package schedule

import (
	"sort"

	"go.uber.org/zap"

	"crewroute/internal/model"
)

// BuildCrews groups employees by crew id and derives each crew's
// capability set as the union of member declarations. Members without
// any declared service types are logged and skipped; crews left with
// no members are dropped.
func BuildCrews(employees []model.Employee, log *zap.Logger) map[string]model.Crew {
	if log == nil {
		log = zap.NewNop()
	}
	crews := map[string]model.Crew{}
	for _, e := range employees {
		if e.CrewID == "" {
			continue
		}
		if len(e.ServiceTypes) == 0 {
			log.Warn("employee in crew without service types, skipping",
				zap.String("employee", e.ID), zap.String("crew", e.CrewID))
			continue
		}
		crew, ok := crews[e.CrewID]
		if !ok {
			crew = model.Crew{ID: e.CrewID, CompanyID: e.CompanyID}
		}
		if ok && !sameTypes(crew.ServiceTypes, e.ServiceTypes) {
			// Members are expected to share one declared set; tolerate
			// divergence and keep the union.
			log.Warn("crew members declare different service types",
				zap.String("crew", e.CrewID), zap.String("employee", e.ID))
		}
		crew.Members = append(crew.Members, e)
		crew.ServiceTypes = unionTypes(crew.ServiceTypes, e.ServiceTypes)
		crews[e.CrewID] = crew
	}
	return crews
}

// Assign partitions due customers across crews by capability. A
// customer goes to the capable crew with the fewest assignments so far
// (ties on crew id). Customers no crew covers come back as unassigned.
func Assign(due []model.Customer, crews map[string]model.Crew) (map[string][]model.Customer, []model.UnassignedCustomer) {
	crewIDs := make([]string, 0, len(crews))
	for id := range crews {
		crewIDs = append(crewIDs, id)
	}
	sort.Strings(crewIDs)

	assigned := map[string][]model.Customer{}
	var unassigned []model.UnassignedCustomer
	for _, c := range due {
		types := c.ServiceTypes()
		best := ""
		for _, id := range crewIDs {
			if !crews[id].CanServe(types) {
				continue
			}
			if best == "" || len(assigned[id]) < len(assigned[best]) {
				best = id
			}
		}
		if best == "" {
			unassigned = append(unassigned, model.UnassignedCustomer{
				CustomerID:   c.ID,
				CustomerName: c.Name,
				ServiceTypes: types,
				Reason:       (&model.CapabilityError{CustomerID: c.ID, ServiceTypes: types}).Error(),
			})
			continue
		}
		assigned[best] = append(assigned[best], c)
	}
	return assigned, unassigned
}

func unionTypes(a, b []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func sameTypes(a, b []string) bool {
	if len(a) == 0 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	seen := map[string]bool{}
	for _, t := range a {
		seen[t] = true
	}
	for _, t := range b {
		if !seen[t] {
			return false
		}
	}
	return true
}
