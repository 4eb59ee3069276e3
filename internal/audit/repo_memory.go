package audit

import (
	"context"
	"errors"
	"sync"
)

var ErrDuplicateEvent = errors.New("audit: event id already recorded")

// MemoryRepo keeps audit events in process, indexed by company and call
// leg. It backs the router when no database is configured.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	ids    map[string]struct{}
	byCo   map[string][]int
	byLeg  map[string][]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		ids:   make(map[string]struct{}),
		byCo:  make(map[string][]int),
		byLeg: make(map[string][]int),
	}
}

// Append stores e. A second event with the same id is rejected so a
// retried write cannot duplicate a record.
func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID != "" {
		if _, ok := r.ids[e.ID]; ok {
			return ErrDuplicateEvent
		}
		r.ids[e.ID] = struct{}{}
	}
	i := len(r.events)
	r.events = append(r.events, e)
	r.byCo[e.CompanyID] = append(r.byCo[e.CompanyID], i)
	if e.CallLegID != "" {
		r.byLeg[e.CallLegID] = append(r.byLeg[e.CallLegID], i)
	}
	return nil
}

// Events returns every event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ForCompany returns a company's events, optionally limited to types.
func (r *MemoryRepo) ForCompany(companyID string, types ...EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pick(r.byCo[companyID], types)
}

// ForCallLeg returns the events recorded against one call leg.
func (r *MemoryRepo) ForCallLeg(callLegID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pick(r.byLeg[callLegID], nil)
}

func (r *MemoryRepo) pick(idx []int, types []EventType) []Event {
	var out []Event
	for _, i := range idx {
		e := r.events[i]
		if len(types) > 0 && !hasType(types, e.Type) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func hasType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
