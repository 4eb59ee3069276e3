package calls

import (
	"errors"
	"time"
)

var ErrAlreadyLogged = errors.New("calls: call leg already logged")

type CallStatus string

const (
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusNoAnswer  CallStatus = "no_answer"
	CallStatusBusy      CallStatus = "busy"
	CallStatusCanceled  CallStatus = "canceled"
)

// Outcome is how the router finished a call leg.
type Outcome string

const (
	OutcomeConnected Outcome = "connected"
	OutcomeForwarded Outcome = "forwarded"
	OutcomeVoicemail Outcome = "voicemail"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeHangup    Outcome = "hangup"
	OutcomeFailed    Outcome = "failed"
)

// CallLog is the append-only record of one terminal inbound call leg.
// Rows are written once and never updated.
type CallLog struct {
	ID            string `json:"id"`
	CallLegID     string `json:"call_leg_id"`
	CompanyID     string `json:"company_id"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`
	RuleID        string `json:"rule_id,omitempty"`

	From string `json:"from"`
	To   string `json:"to"`

	Status  CallStatus `json:"status"`
	Outcome Outcome    `json:"outcome"`
	// Plan is the routing plan the rule resolved to, e.g. round_robin or voicemail.
	Plan        string `json:"plan,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	ForwardedTo string `json:"forwarded_to,omitempty"`
	HangupCause string `json:"hangup_cause,omitempty"`

	RingAttempts     int      `json:"ring_attempts"`
	QueueWaitSeconds int      `json:"queue_wait_seconds"`
	IVRPath          []string `json:"ivr_path,omitempty"`

	StartedAt       time.Time  `json:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
	EndedAt         time.Time  `json:"ended_at"`
	DurationSeconds int        `json:"duration"`

	RecordingURL string `json:"recording_url,omitempty"`
}

// Voicemail references a message left by a caller. The recording arrives
// from the provider separately and is attached by call leg.
type Voicemail struct {
	ID              string    `json:"id"`
	CallLegID       string    `json:"call_leg_id"`
	CompanyID       string    `json:"company_id"`
	RuleID          string    `json:"rule_id,omitempty"`
	From            string    `json:"from"`
	RecordingURL    string    `json:"recording_url,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// QueueRecord mirrors a queue entry transition for reporting.
type QueueRecord struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id"`
	RuleID          string     `json:"rule_id"`
	CallLegID       string     `json:"call_leg_id"`
	Position        int64      `json:"queue_position"`
	Priority        int        `json:"priority"`
	QueuedAt        time.Time  `json:"queued_at"`
	Status          string     `json:"status"`
	AssignedAgentID string     `json:"assigned_team_member_id,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}
