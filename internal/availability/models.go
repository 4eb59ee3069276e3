package availability

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownAgent  = errors.New("availability: unknown agent")
	ErrInvalidStatus = errors.New("availability: invalid status")
)

type Status string

const (
	StatusOnline   Status = "online"
	StatusBusy     Status = "busy"
	StatusDND      Status = "dnd"
	StatusOffline  Status = "offline"
	StatusVacation Status = "vacation"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusBusy, StatusDND, StatusOffline, StatusVacation:
		return true
	}
	return false
}

// Window is a half-open time range. A nil End leaves it open-ended.
type Window struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

func (w *Window) Contains(t time.Time) bool {
	if w == nil || w.Start.IsZero() {
		return false
	}
	if t.Before(w.Start) {
		return false
	}
	return w.End == nil || t.Before(*w.End)
}

// AgentState is the live availability record for one team member.
type AgentState struct {
	AgentID       string    `json:"agent_id" validate:"required"`
	CompanyID     string    `json:"company_id" validate:"required"`
	Number        string    `json:"number,omitempty" validate:"omitempty,e164"`
	Status        Status    `json:"status" validate:"required,oneof=online busy dnd offline vacation"`
	CurrentCalls  int       `json:"current_calls_count" validate:"gte=0"`
	MaxConcurrent int       `json:"max_concurrent_calls" validate:"gte=1"`
	DND           *Window   `json:"dnd,omitempty"`
	Vacation      *Window   `json:"vacation,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CanReceive derives whether the agent may take a new call at now. It does
// not look at capacity; TryReserve checks that in the same atomic step.
func (a AgentState) CanReceive(now time.Time) bool {
	if a.Status != StatusOnline {
		return false
	}
	if a.DND.Contains(now) || a.Vacation.Contains(now) {
		return false
	}
	return true
}

// HasCapacity reports whether another call fits under the concurrency cap.
func (a AgentState) HasCapacity() bool {
	return a.CurrentCalls < a.MaxConcurrent
}

// Tracker owns live agent availability. TryReserve and Release are atomic
// per agent; counters never go below zero or above MaxConcurrent.
type Tracker interface {
	TryReserve(ctx context.Context, agentID string) (bool, error)
	Release(ctx context.Context, agentID string) error
	Snapshot(ctx context.Context, agentIDs []string) ([]AgentState, error)
	List(ctx context.Context, companyID string) ([]AgentState, error)
	Upsert(ctx context.Context, a AgentState) error
	SetStatus(ctx context.Context, agentID string, status Status) (AgentState, error)
}
