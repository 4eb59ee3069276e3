package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"call-router/internal/availability"
	"call-router/internal/calls"
	"call-router/internal/metrics"
	"call-router/internal/queue"
)

// noAgent handles a ringing plan that found nobody: the queue when the rule
// has one and ring attempts are left, the overflow target otherwise.
func (r *Router) noAgent(ctx context.Context, l *leg) {
	r.log.Info("no agent available", "call_leg_id", l.id, "rule_id", l.rule.ID, "attempts", l.attempts, "err", ErrAllAgentsBusy)
	if l.rule.QueueEnabled && l.attempts < r.maxAttempts(l.rule) && r.enqueue(ctx, l) {
		return
	}
	r.overflow(ctx, l)
}

// overflow ends the agent phase of a call: the rule's forward number when
// it has one, voicemail otherwise.
func (r *Router) overflow(ctx context.Context, l *leg) {
	if number := l.rule.ForwardNumber; number != "" && l.plan.UsesAgents() {
		r.log.Info("overflow to forward number", "call_leg_id", l.id, "rule_id", l.rule.ID, "to", number)
		r.forward(ctx, l, number)
		return
	}
	r.toVoicemail(ctx, l)
}

func (r *Router) enqueue(ctx context.Context, l *leg) bool {
	rule := l.rule
	maxWait := r.cfg.QueueMaxWait
	if rule.QueueMaxWaitSeconds > 0 {
		maxWait = time.Duration(rule.QueueMaxWaitSeconds) * time.Second
	}
	r.queue.Configure(rule.ID, queue.Config{MaxWait: maxWait})

	pos, err := r.queue.Enqueue(rule.ID, l.id, rule.QueuePriority)
	if err != nil {
		r.log.Warn("enqueue failed", "call_leg_id", l.id, "rule_id", rule.ID, "err", err)
		return false
	}
	l.queued = true
	l.state = StateQueued

	r.mu.Lock()
	r.queueRules[rule.ID] = rule
	r.mu.Unlock()

	r.recordQueue(l)
	metrics.QueueDepth(rule.ID, r.queue.Depths()[rule.ID])
	rank, _ := r.queue.DisplayPosition(l.id)
	r.log.Info("caller queued", "call_leg_id", l.id, "rule_id", rule.ID, "position", pos, "rank", rank)

	r.hold(ctx, l, firstNonEmpty(rule.HoldMessage, holdMessage), fmt.Sprintf("You are number %d in line.", rank))
	r.kick(rule.ID)
	return true
}

// requeue puts a caller whose queue offer went unanswered back in line,
// ahead of later arrivals. A caller out of ring attempts leaves the queue.
func (r *Router) requeue(ctx context.Context, l *leg) {
	if l.attempts >= r.maxAttempts(l.rule) {
		r.escalate(ctx, l)
		return
	}
	if err := r.queue.Requeue(l.id); err != nil {
		r.log.Warn("requeue failed", "call_leg_id", l.id, "err", err)
		r.toVoicemail(ctx, l)
		return
	}
	l.state = StateQueued
	r.recordQueue(l)
	metrics.QueueDepth(l.rule.ID, r.queue.Depths()[l.rule.ID])
	r.hold(ctx, l, firstNonEmpty(l.rule.HoldMessage, holdMessage))
	r.kick(l.rule.ID)
}

// escalate takes a queued caller whose ring attempts ran out off the queue
// and sends it to the overflow target.
func (r *Router) escalate(ctx context.Context, l *leg) {
	if e, ok := r.queue.Escalate(l.id); ok && e.EndedAt != nil {
		l.queueWait = e.EndedAt.Sub(e.QueuedAt)
		metrics.QueueWait("escalated", l.queueWait)
	}
	r.recordQueue(l)
	metrics.QueueDepth(l.rule.ID, r.queue.Depths()[l.rule.ID])
	r.log.Info("queue ring attempts exhausted", "call_leg_id", l.id, "rule_id", l.rule.ID, "attempts", l.attempts)
	r.overflow(ctx, l)
}

// QueueExpired sends a caller whose queue wait ran out to the rule's
// overflow target. The queue manager reports each expiry once.
func (r *Router) QueueExpired(e queue.Entry) {
	unlock := r.locks.Lock(e.CallLegID)
	defer unlock()

	l := r.leg(e.CallLegID)
	if l == nil || l.state != StateQueued {
		return
	}
	if e.EndedAt != nil {
		l.queueWait = e.EndedAt.Sub(e.QueuedAt)
	}
	metrics.QueueWait("expired", l.queueWait)
	metrics.QueueDepth(e.RuleID, r.queue.Depths()[e.RuleID])
	r.recordQueue(l)
	r.log.Info("queue wait exceeded", "call_leg_id", l.id, "rule_id", e.RuleID, "waited", l.queueWait.String())
	r.overflow(r.ctx, l)
}

func (r *Router) recordQueue(l *leg) {
	e, ok := r.queue.Entry(l.id)
	if !ok {
		return
	}
	r.recorder.Queue(calls.QueueRecord{
		ID:              e.ID,
		CompanyID:       l.companyID,
		RuleID:          e.RuleID,
		CallLegID:       e.CallLegID,
		Position:        e.Position,
		Priority:        e.Priority,
		QueuedAt:        e.QueuedAt,
		Status:          string(e.Status),
		AssignedAgentID: e.AssignedAgentID,
		Reason:          e.Reason,
		EndedAt:         e.EndedAt,
	})
}

// SetAgentStatus changes an agent's status. An agent coming online wakes
// the queues it serves.
func (r *Router) SetAgentStatus(ctx context.Context, agentID string, status availability.Status) (availability.AgentState, error) {
	a, err := r.agents.SetStatus(ctx, agentID, status)
	if err != nil {
		return availability.AgentState{}, err
	}
	if status == availability.StatusOnline {
		r.kickAgent(agentID)
	}
	return a, nil
}

// QueueSnapshot reports the live queue of a rule.
func (r *Router) QueueSnapshot(ruleID string) queue.Snapshot {
	return r.queue.Snapshot(ruleID)
}

// Wait blocks until queue pump work already started has finished.
func (r *Router) Wait() { r.pumps.Wait() }

func (r *Router) kickAgent(agentID string) {
	r.mu.Lock()
	var ids []string
	for id, rule := range r.queueRules {
		if slices.Contains(rule.TeamMembers, agentID) {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	r.kick(ids...)
}

// kick drains the given queues on a separate goroutine, so the queue pump
// never runs under the lock of the leg that triggered it.
func (r *Router) kick(ruleIDs ...string) {
	r.pumps.Add(1)
	go func() {
		defer r.pumps.Done()
		for _, id := range ruleIDs {
			r.drain(r.ctx, id)
		}
	}()
}

// drain offers waiting callers of ruleID to free agents, head of the line
// first. A caller is only offered agents it has not tried yet in the current
// round, so an agent who let it ring out is skipped while others are free.
func (r *Router) drain(ctx context.Context, ruleID string) {
	for {
		progressed := false
		for _, legID := range r.queue.Waiting(ruleID) {
			res := r.offer(ctx, legID)
			if res == offerStop {
				return
			}
			if res != offerSkipped {
				progressed = true
				break
			}
		}
		if !progressed {
			return
		}
	}
}

type offerResult int

const (
	// offerSkipped: nothing was offered to this caller; try the next one.
	offerSkipped offerResult = iota
	// offerRinging: an agent is ringing for the caller.
	offerRinging
	// offerChanged: the caller failed a dial or left the queue.
	offerChanged
	// offerStop: no agent is free.
	offerStop
)

// offer rings one free agent for a waiting caller.
func (r *Router) offer(ctx context.Context, legID string) offerResult {
	unlock := r.locks.Lock(legID)
	defer unlock()

	l := r.leg(legID)
	if l == nil || l.state != StateQueued {
		return offerSkipped
	}
	if l.attempts >= r.maxAttempts(l.rule) {
		r.escalate(ctx, l)
		return offerChanged
	}
	if triedAll(l.rule.TeamMembers, l.tried) {
		// Every team member had a turn; start the next round.
		clear(l.tried)
	}

	agent, err := r.pickAgent(ctx, l.rule, l.tried)
	if err != nil {
		if !errors.Is(err, ErrAllAgentsBusy) {
			r.log.Error("queue pump agent selection failed", "call_leg_id", legID, "rule_id", l.rule.ID, "err", err)
			return offerStop
		}
		if len(l.tried) == 0 {
			return offerStop
		}
		return offerSkipped
	}
	if !r.queue.Claim(legID) {
		r.releaseUnowned(ctx, agent)
		return offerSkipped
	}
	metrics.QueueDepth(l.rule.ID, r.queue.Depths()[l.rule.ID])
	if err := r.queue.Assign(legID, agent); err != nil {
		r.log.Warn("queue assign failed", "call_leg_id", legID, "agent_id", agent, "err", err)
	}
	l.tried[agent] = true
	l.held[agent] = true
	l.attempts++
	if err := r.dialAgent(ctx, l, agent); err != nil {
		r.log.Warn("queue offer dial failed", "call_leg_id", legID, "agent_id", agent, "attempt", l.attempts, "err", err)
		r.release(ctx, l, agent, false)
		if l.attempts >= r.maxAttempts(l.rule) {
			r.escalate(ctx, l)
			return offerChanged
		}
		if err := r.queue.Requeue(legID); err != nil {
			r.log.Warn("requeue failed", "call_leg_id", legID, "err", err)
			r.toVoicemail(ctx, l)
		}
		return offerChanged
	}
	r.recordQueue(l)
	r.log.Info("queued caller offered", "call_leg_id", legID, "agent_id", agent, "attempt", l.attempts)
	r.ringStarted(ctx, l)
	return offerRinging
}

func triedAll(team []string, tried map[string]bool) bool {
	for _, a := range team {
		if !tried[a] {
			return false
		}
	}
	return len(team) > 0
}
