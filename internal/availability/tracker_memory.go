package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"call-router/internal/keyed"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// MemoryTracker keeps agent state in process. Every read-modify-write of an
// agent runs under that agent's key lock.
type MemoryTracker struct {
	locks *keyed.Mutex
	now   func() time.Time

	mu     sync.RWMutex
	agents map[string]*AgentState
}

func NewMemoryTracker(now func() time.Time) *MemoryTracker {
	if now == nil {
		now = time.Now
	}
	return &MemoryTracker{locks: keyed.New(), now: now, agents: map[string]*AgentState{}}
}

func (t *MemoryTracker) get(agentID string) (*AgentState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.agents[agentID]
	return a, ok
}

func (t *MemoryTracker) TryReserve(ctx context.Context, agentID string) (bool, error) {
	unlock := t.locks.Lock(agentID)
	defer unlock()

	a, ok := t.get(agentID)
	if !ok {
		return false, ErrUnknownAgent
	}
	if !a.CanReceive(t.now()) || !a.HasCapacity() {
		return false, nil
	}
	a.CurrentCalls++
	a.UpdatedAt = t.now()
	return true, nil
}

func (t *MemoryTracker) Release(ctx context.Context, agentID string) error {
	unlock := t.locks.Lock(agentID)
	defer unlock()

	a, ok := t.get(agentID)
	if !ok {
		return ErrUnknownAgent
	}
	if a.CurrentCalls > 0 {
		a.CurrentCalls--
	}
	a.UpdatedAt = t.now()
	return nil
}

func (t *MemoryTracker) Snapshot(ctx context.Context, agentIDs []string) ([]AgentState, error) {
	out := make([]AgentState, 0, len(agentIDs))
	for _, id := range agentIDs {
		unlock := t.locks.Lock(id)
		if a, ok := t.get(id); ok {
			out = append(out, *a)
		}
		unlock()
	}
	return out, nil
}

func (t *MemoryTracker) List(ctx context.Context, companyID string) ([]AgentState, error) {
	t.mu.RLock()
	ids := make([]string, 0, len(t.agents))
	for id, a := range t.agents {
		if a.CompanyID == companyID {
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return t.Snapshot(ctx, ids)
}

// Upsert stores roster fields for an agent. An existing call count is kept.
func (t *MemoryTracker) Upsert(ctx context.Context, a AgentState) error {
	if err := validate.Struct(a); err != nil {
		return err
	}
	unlock := t.locks.Lock(a.AgentID)
	defer unlock()

	a.UpdatedAt = t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.agents[a.AgentID]; ok {
		a.CurrentCalls = cur.CurrentCalls
	}
	cp := a
	t.agents[a.AgentID] = &cp
	return nil
}

func (t *MemoryTracker) SetStatus(ctx context.Context, agentID string, status Status) (AgentState, error) {
	if !status.Valid() {
		return AgentState{}, ErrInvalidStatus
	}
	unlock := t.locks.Lock(agentID)
	defer unlock()

	a, ok := t.get(agentID)
	if !ok {
		return AgentState{}, ErrUnknownAgent
	}
	a.Status = status
	a.UpdatedAt = t.now()
	return *a, nil
}
