package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one company.
type CallsSummaryRequest struct {
	CompanyID string    `json:"company_id"`
	Range     TimeRange `json:"range"`
	RuleID    string    `json:"rule_id,omitempty"`
}

type CallsSummary struct {
	CompanyID string `json:"company_id"`
	RuleID    string `json:"rule_id,omitempty"`

	TotalCalls     int `json:"total_calls"`
	ConnectedCalls int `json:"connected_calls"`
	ForwardedCalls int `json:"forwarded_calls"`
	VoicemailCalls int `json:"voicemail_calls"`
	AbandonedCalls int `json:"abandoned_calls"`
	HangupCalls    int `json:"hangup_calls"`
	FailedCalls    int `json:"failed_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	QueuedCalls             int `json:"queued_calls"`
	AverageQueueWaitSeconds int `json:"average_queue_wait_seconds"`
	MaxQueueWaitSeconds     int `json:"max_queue_wait_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	// AnswerRate is connected calls over all calls.
	AnswerRate float64 `json:"answer_rate"`

	Agents []AgentSummary `json:"agents"`
}

type AgentSummary struct {
	AgentID              string `json:"agent_id"`
	ConnectedCalls       int    `json:"connected_calls"`
	TotalDurationSeconds int    `json:"total_duration_seconds"`
}
