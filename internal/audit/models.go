package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - company_id is required for tenancy isolation.
// - actor and ip capture are best-effort; do not block call handling on audit failures.
type Event struct {
	ID        string `json:"id" db:"id"`
	CompanyID string `json:"company_id" db:"company_id"`

	Type EventType `json:"type" db:"type"`

	// ActorUserID is empty when the router itself caused the event.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	AgentID   string `json:"agent_id,omitempty" db:"agent_id"`
	RuleID    string `json:"rule_id,omitempty" db:"rule_id"`
	CallLegID string `json:"call_leg_id,omitempty" db:"call_leg_id"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAgentStatus      EventType = "agent_status_changed"
	EventTypeRulesInvalidated EventType = "rules_invalidated"
	// EventTypeRoutingFallback marks a call routed by fallback because the
	// company's rule configuration was missing or ambiguous.
	EventTypeRoutingFallback EventType = "routing_fallback"
)
