package routing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"call-router/internal/calls"
	"call-router/internal/metrics"
	"call-router/internal/rules"
	"call-router/internal/telephony"

	"golang.org/x/sync/errgroup"
)

// ring starts an agent-ringing plan.
func (r *Router) ring(ctx context.Context, l *leg) {
	l.simultaneous = l.plan == rules.PlanSimultaneous
	if l.simultaneous {
		r.ringAll(ctx, l)
		return
	}
	r.ringNext(ctx, l)
}

func (r *Router) maxAttempts(rule rules.RoutingRule) int {
	if rule.MaxRingAttempts > 0 {
		return rule.MaxRingAttempts
	}
	return r.cfg.MaxRingAttempts
}

// ringNext reserves and dials the next candidate. Candidates that cannot be
// dialed count against the rule's attempts; when none is left the caller is
// queued or sent to voicemail.
func (r *Router) ringNext(ctx context.Context, l *leg) {
	for l.attempts < r.maxAttempts(l.rule) {
		agent, err := r.pickAgent(ctx, l.rule, l.tried)
		if err != nil {
			if !errors.Is(err, ErrAllAgentsBusy) {
				r.log.Error("agent selection failed", "call_leg_id", l.id, "rule_id", l.rule.ID, "err", err)
			}
			break
		}
		l.tried[agent] = true
		l.attempts++
		l.held[agent] = true
		if err := r.dialAgent(ctx, l, agent); err != nil {
			r.log.Warn("agent dial failed", "call_leg_id", l.id, "agent_id", agent, "attempt", l.attempts, "err", err)
			r.release(ctx, l, agent, false)
			continue
		}
		r.ringStarted(ctx, l)
		return
	}
	r.noAgent(ctx, l)
}

// ringAll reserves every eligible team member concurrently and dials each
// one that was reserved. The first to answer wins.
func (r *Router) ringAll(ctx context.Context, l *leg) {
	team := make([]string, 0, len(l.rule.TeamMembers))
	for _, a := range l.rule.TeamMembers {
		if !l.tried[a] {
			team = append(team, a)
		}
	}

	reserved := make([]bool, len(team))
	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range team {
		g.Go(func() error {
			reserved[i] = r.reserve(gctx, agent)
			return nil
		})
	}
	_ = g.Wait()

	var reqs []telephony.DialRequest
	for i, agent := range team {
		if !reserved[i] {
			continue
		}
		l.tried[agent] = true
		l.held[agent] = true
		reqs = append(reqs, r.dialRequest(ctx, l, agent))
	}
	if len(reqs) == 0 {
		r.noAgent(ctx, l)
		return
	}
	l.attempts++

	callIDs := make([]string, len(reqs))
	errs := make([]error, len(reqs))
	var dg errgroup.Group
	for i, req := range reqs {
		dg.Go(func() error {
			callIDs[i], errs[i] = r.control.Dial(ctx, req)
			return nil
		})
	}
	_ = dg.Wait()

	for i, req := range reqs {
		if errs[i] != nil {
			r.log.Warn("agent dial failed", "call_leg_id", l.id, "agent_id", req.AgentID, "err", providerErr("dial", l.id, req.AgentID, errs[i]))
			r.release(ctx, l, req.AgentID, false)
			continue
		}
		l.dials[callIDs[i]] = req.AgentID
	}
	if len(l.dials) == 0 {
		r.noAgent(ctx, l)
		return
	}
	r.ringStarted(ctx, l)
}

// pickAgent reserves one team member of rule, skipping those in skip.
// Round-robin rules start from the rule cursor, which advances past the
// chosen agent in the same step; other rules go in team order.
func (r *Router) pickAgent(ctx context.Context, rule rules.RoutingRule, skip map[string]bool) (string, error) {
	n := len(rule.TeamMembers)
	if n == 0 {
		return "", ErrAllAgentsBusy
	}

	if rule.RoutingType != rules.RoutingRoundRobin {
		for _, a := range rule.TeamMembers {
			if !skip[a] && r.reserve(ctx, a) {
				return a, nil
			}
		}
		return "", ErrAllAgentsBusy
	}

	var held string
	idx, ok, err := r.cursor.Advance(ctx, rule, func(start int) (int, bool, error) {
		for i := 0; i < n; i++ {
			j := (start + i) % n
			a := rule.TeamMembers[j]
			if skip[a] {
				continue
			}
			if r.reserve(ctx, a) {
				held = a
				return j, true, nil
			}
		}
		return 0, false, nil
	})
	if err != nil {
		if held != "" {
			r.releaseUnowned(ctx, held)
		}
		return "", fmt.Errorf("routing: advance cursor for rule %s: %w", rule.ID, err)
	}
	if !ok {
		return "", ErrAllAgentsBusy
	}
	return rule.TeamMembers[idx], nil
}

func (r *Router) reserve(ctx context.Context, agentID string) bool {
	ok, err := r.agents.TryReserve(ctx, agentID)
	switch {
	case err != nil:
		metrics.Reservation("error")
		r.log.Warn("agent reservation failed", "agent_id", agentID, "err", err)
		return false
	case !ok:
		metrics.Reservation("unavailable")
	default:
		metrics.Reservation("reserved")
	}
	return ok
}

// release gives back an agent reserved by l. The held ledger makes it a
// no-op for an agent already released. kick wakes the queue pump for the
// agent's queues.
func (r *Router) release(ctx context.Context, l *leg, agentID string, kick bool) {
	if !l.held[agentID] {
		return
	}
	delete(l.held, agentID)
	r.releaseUnowned(ctx, agentID)
	if kick {
		r.kickAgent(agentID)
	}
}

func (r *Router) releaseUnowned(ctx context.Context, agentID string) {
	if err := r.agents.Release(ctx, agentID); err != nil {
		r.log.Error("agent release failed", "agent_id", agentID, "err", err)
		return
	}
	metrics.Reservation("released")
}

func (r *Router) dialRequest(ctx context.Context, l *leg, agentID string) telephony.DialRequest {
	return telephony.DialRequest{
		CommandID:    l.cmd(telephony.VerbDial),
		ParentCallID: l.id,
		AgentID:      agentID,
		To:           r.agentNumber(ctx, agentID),
		From:         l.from,
		Timeout:      l.rule.RingTimeout(r.cfg.RingTimeout),
	}
}

// agentNumber is the agent's phone number, or a client address when none is on file.
func (r *Router) agentNumber(ctx context.Context, agentID string) string {
	states, err := r.agents.Snapshot(ctx, []string{agentID})
	if err == nil && len(states) == 1 && states[0].Number != "" {
		return states[0].Number
	}
	return "client:" + agentID
}

func (r *Router) dialAgent(ctx context.Context, l *leg, agentID string) error {
	req := r.dialRequest(ctx, l, agentID)
	callID, err := r.control.Dial(ctx, req)
	if err != nil {
		return providerErr("dial", l.id, agentID, err)
	}
	l.dials[callID] = agentID
	return nil
}

func (r *Router) ringStarted(ctx context.Context, l *leg) {
	l.state = StateRinging
	if !l.holding {
		r.hold(ctx, l)
	}
	r.arm(l, timerRing, l.rule.RingTimeout(r.cfg.RingTimeout))
}

func (r *Router) ringTimeout(ctx context.Context, l *leg) {
	if !l.ringing() {
		return
	}
	r.log.Info("ring timeout", "call_leg_id", l.id, "outstanding", len(l.dials), "attempt", l.attempts)
	r.cancelDials(ctx, l)
	r.advance(ctx, l)
}

// advance moves a ringing leg on once every outstanding dial has failed.
func (r *Router) advance(ctx context.Context, l *leg) {
	switch {
	case l.queued:
		r.requeue(ctx, l)
	case l.simultaneous:
		r.noAgent(ctx, l)
	default:
		r.ringNext(ctx, l)
	}
}

// cancelDials stops every agent leg still ringing and releases its agent.
func (r *Router) cancelDials(ctx context.Context, l *leg) {
	for _, callID := range slices.Sorted(maps.Keys(l.dials)) {
		agent := l.dials[callID]
		delete(l.dials, callID)
		if err := r.control.Cancel(ctx, l.cmd(telephony.VerbCancel), callID); err != nil {
			r.log.Warn("cancel agent leg failed", "call_leg_id", l.id, "agent_id", agent, "err", providerErr("cancel", callID, agent, err))
		}
		r.release(ctx, l, agent, true)
	}
}

func (r *Router) agentAnswered(ctx context.Context, l *leg, callID string) {
	agent, ok := l.dials[callID]
	if !ok || !l.ringing() {
		if callID == l.agentCallID {
			return
		}
		metrics.Reservation("race_lost")
		r.log.Info("late agent answer", "call_leg_id", l.id, "agent_call_id", callID, "err", ErrReservationRaceLost)
		r.hangupCall(ctx, l.cmd(telephony.VerbHangup), callID)
		if ok {
			delete(l.dials, callID)
			r.release(ctx, l, agent, true)
		}
		return
	}

	l.stopTimer()
	delete(l.dials, callID)
	r.cancelDials(ctx, l)

	if err := r.control.Bridge(ctx, l.cmd(telephony.VerbBridge), l.id, callID); err != nil {
		r.log.Warn("bridge failed", "call_leg_id", l.id, "agent_id", agent, "err", providerErr("bridge", l.id, agent, err))
		r.hangupCall(ctx, l.cmd(telephony.VerbHangup), callID)
		r.release(ctx, l, agent, false)
		r.advance(ctx, l)
		return
	}

	now := r.clock.Now()
	l.state = StateConnected
	l.agentID, l.agentCallID = agent, callID
	l.answeredAt = &now
	l.outcome = calls.OutcomeConnected
	if l.queued {
		if e, ok := r.queue.Answered(l.id); ok {
			l.queueWait = now.Sub(e.QueuedAt)
			metrics.QueueWait("answered", l.queueWait)
			r.recordQueue(l)
		}
	}
	if r.cfg.RecordCalls {
		if err := r.control.StartRecording(ctx, l.cmd(telephony.VerbStartRecording), l.id); err != nil {
			r.log.Warn("start recording failed", "call_leg_id", l.id, "err", providerErr("start_recording", l.id, "", err))
		}
	}
	r.log.Info("call connected", "call_leg_id", l.id, "agent_id", agent, "agent_call_id", callID)
}

func (r *Router) agentHangup(ctx context.Context, l *leg, ev telephony.Event) {
	if ev.CallID == l.agentCallID && l.state == StateConnected {
		r.log.Info("agent disconnected", "call_leg_id", l.id, "agent_id", l.agentID, "cause", ev.HangupCause)
		r.hangupCall(ctx, l.cmd(telephony.VerbHangup), l.id)
		r.terminate(ctx, l, calls.CallStatusCompleted, ev.HangupCause)
		return
	}

	agent, ok := l.dials[ev.CallID]
	if !ok {
		return
	}
	delete(l.dials, ev.CallID)
	r.log.Info("agent leg ended unanswered", "call_leg_id", l.id, "agent_id", agent, "cause", ev.HangupCause)
	r.release(ctx, l, agent, true)
	if len(l.dials) == 0 && l.ringing() {
		l.stopTimer()
		r.advance(ctx, l)
	}
}

func (r *Router) forward(ctx context.Context, l *leg, number string) {
	if number == "" {
		r.toVoicemail(ctx, l)
		return
	}
	l.stopTimer()
	r.cancelDials(ctx, l)
	timeout := l.rule.RingTimeout(r.cfg.RingTimeout)
	if err := r.control.Transfer(ctx, l.cmd(telephony.VerbTransfer), l.id, number, timeout); err != nil {
		r.log.Error("forward failed", "call_leg_id", l.id, "to", number, "err", providerErr("transfer", l.id, "", err))
		r.toVoicemail(ctx, l)
		return
	}
	l.state = StateConnected
	l.forwardedTo = number
	l.outcome = calls.OutcomeForwarded
}

func (r *Router) toVoicemail(ctx context.Context, l *leg) {
	l.stopTimer()
	r.cancelDials(ctx, l)
	greeting := firstNonEmpty(l.greeting, l.rule.VoicemailGreeting, defaultVoicemailGreeting)
	if err := r.control.SendToVoicemail(ctx, l.cmd(telephony.VerbSendToVoicemail), l.id, greeting); err != nil {
		r.log.Error("voicemail failed", "call_leg_id", l.id, "err", providerErr("send_to_voicemail", l.id, "", err))
		r.hangup(ctx, l, apologyMessage, calls.OutcomeFailed, calls.CallStatusFailed)
		return
	}
	l.state = StateVoicemailRecording
	l.voicemail = true
	l.voicemailAt = r.clock.Now()
	l.outcome = calls.OutcomeVoicemail
}

// hold parks the caller, optionally after announcements.
func (r *Router) hold(ctx context.Context, l *leg, prompts ...string) {
	req := telephony.PlayRequest{CommandID: l.cmd(telephony.VerbPlay), CallID: l.id, Prompts: prompts, Hold: true}
	if err := r.control.Play(ctx, req); err != nil {
		r.log.Warn("hold failed", "call_leg_id", l.id, "err", providerErr("play", l.id, "", err))
	}
	l.holding = true
}

func (r *Router) play(ctx context.Context, l *leg, prompts ...string) {
	req := telephony.PlayRequest{CommandID: l.cmd(telephony.VerbPlay), CallID: l.id, Prompts: prompts}
	if err := r.control.Play(ctx, req); err != nil {
		r.log.Warn("play failed", "call_leg_id", l.id, "err", providerErr("play", l.id, "", err))
	}
}

// hangup ends the call after message and finishes the leg.
func (r *Router) hangup(ctx context.Context, l *leg, message string, outcome calls.Outcome, status calls.CallStatus) {
	if err := r.control.Hangup(ctx, l.cmd(telephony.VerbHangup), l.id, message); err != nil {
		r.log.Error("hangup failed", "call_leg_id", l.id, "err", providerErr("hangup", l.id, "", err))
	}
	l.outcome = outcome
	r.terminate(ctx, l, status, "")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
