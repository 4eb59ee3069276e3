package routing

import "call-router/internal/rules"

// Decision is what the router chose to do with an inbound call leg once its
// rule was resolved. One is emitted per admitted call.initiated, and again
// when an IVR transfers the caller to another rule.
//
// It carries only provider-agnostic data; the provider commands that
// execute it are issued separately.
type Decision struct {
	CallLegID string         `json:"call_leg_id"`
	CompanyID string         `json:"company_id"`
	RuleID    string         `json:"rule_id,omitempty"`
	Plan      rules.PlanKind `json:"plan,omitempty"`

	Action    Action `json:"action"`
	ConnectTo string `json:"connect_to,omitempty"`

	// Reason is for logs and metrics, e.g. "after_hours" or "no_active_rule".
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionRing      Action = "ring"
	ActionForward   Action = "forward"
	ActionIVR       Action = "ivr"
	ActionVoicemail Action = "voicemail"
	ActionHangup    Action = "hangup"
)

func actionFor(plan rules.PlanKind) Action {
	switch plan {
	case rules.PlanForward:
		return ActionForward
	case rules.PlanIVR:
		return ActionIVR
	case rules.PlanVoicemail:
		return ActionVoicemail
	default:
		return ActionRing
	}
}
