package routing

import (
	"context"
	"maps"
	"slices"
	"time"

	"call-router/internal/calls"
	"call-router/internal/metrics"

	"github.com/google/uuid"
)

// terminate finishes a leg: timers stop, outstanding dials are cancelled,
// every held reservation is released once, the queue slot is closed and
// the call records are written.
func (r *Router) terminate(ctx context.Context, l *leg, status calls.CallStatus, cause string) {
	l.stopTimer()
	r.cancelDials(ctx, l)
	for _, agent := range slices.Sorted(maps.Keys(l.held)) {
		r.release(ctx, l, agent, true)
	}

	now := r.clock.Now()
	if l.queued {
		if e, changed := r.queue.Abandon(l.id); changed {
			l.queueWait = e.EndedAt.Sub(e.QueuedAt)
			metrics.QueueWait("abandoned", l.queueWait)
		}
		r.recordQueue(l)
		r.queue.Forget(l.id)
		metrics.QueueDepth(l.rule.ID, r.queue.Depths()[l.rule.ID])
	}

	if l.outcome == "" {
		l.outcome = calls.OutcomeAbandoned
	}
	if l.voicemail {
		r.recorder.Voicemail(calls.Voicemail{
			ID:              uuid.NewString(),
			CallLegID:       l.id,
			CompanyID:       l.companyID,
			RuleID:          l.rule.ID,
			From:            l.from,
			DurationSeconds: int(now.Sub(l.voicemailAt) / time.Second),
			CreatedAt:       now,
		})
	}
	r.recorder.LogCall(r.callLog(l, status, cause, now))

	metrics.Outcome(string(l.outcome))
	metrics.LegClosed()
	l.state = StateTerminal
	r.bury(l.id, l.outcome)
	r.log.Info("call leg finished", "call_leg_id", l.id, "company_id", l.companyID, "rule_id", l.rule.ID,
		"outcome", l.outcome, "status", status, "agent_id", l.agentID, "duration", now.Sub(l.startedAt).String())
}

func (r *Router) callLog(l *leg, status calls.CallStatus, cause string, now time.Time) calls.CallLog {
	return calls.CallLog{
		ID:               uuid.NewString(),
		CallLegID:        l.id,
		CompanyID:        l.companyID,
		PhoneNumberID:    l.phoneNumberID,
		RuleID:           l.rule.ID,
		From:             l.from,
		To:               l.to,
		Status:           status,
		Outcome:          l.outcome,
		Plan:             string(l.plan),
		AgentID:          l.agentID,
		ForwardedTo:      l.forwardedTo,
		HangupCause:      cause,
		RingAttempts:     l.attempts,
		QueueWaitSeconds: int(l.queueWait / time.Second),
		IVRPath:          l.ivrPath,
		StartedAt:        l.startedAt,
		AnsweredAt:       l.answeredAt,
		EndedAt:          now,
		DurationSeconds:  int(now.Sub(l.startedAt) / time.Second),
	}
}
