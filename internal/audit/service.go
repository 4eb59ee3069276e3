package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is
// append-only; there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Actor identifies who caused an event.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// Service logs internal audit information. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CompanyID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogAgentStatus records an agent availability change made through the API.
func (s *Service) LogAgentStatus(ctx context.Context, companyID string, actor Actor, agentID, from, to string) error {
	return s.Append(ctx, Event{
		CompanyID:   companyID,
		Type:        EventTypeAgentStatus,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		AgentID:     agentID,
		Message:     from + " -> " + to,
	})
}

// LogRulesInvalidated records a forced routing configuration refresh.
func (s *Service) LogRulesInvalidated(ctx context.Context, companyID string, actor Actor) error {
	return s.Append(ctx, Event{
		CompanyID:   companyID,
		Type:        EventTypeRulesInvalidated,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		Message:     "routing rules cache invalidated",
	})
}

// LogRoutingFallback records a call that could not be routed by rule.
func (s *Service) LogRoutingFallback(ctx context.Context, companyID, callLegID, reason string) error {
	return s.Append(ctx, Event{
		CompanyID: companyID,
		Type:      EventTypeRoutingFallback,
		CallLegID: callLegID,
		Message:   reason,
	})
}
