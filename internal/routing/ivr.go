package routing

import (
	"context"
	"errors"
	"strings"
	"time"

	"call-router/internal/calls"
	"call-router/internal/ivr"
	"call-router/internal/rules"
	"call-router/internal/telephony"
)

func (r *Router) startIVR(ctx context.Context, l *leg, menuID string) {
	var (
		s   *ivr.Session
		err error
	)
	if r.menus == nil {
		err = errors.New("routing: no ivr menu source")
	} else {
		var g *ivr.Graph
		if g, err = r.menus.Graph(ctx, l.companyID); err == nil {
			s, err = ivr.NewSession(g, menuID, r.clock.Now(), r.cfg.IVRMaxDuration)
		}
	}
	if err != nil {
		r.log.Error("ivr unavailable", "call_leg_id", l.id, "menu_id", menuID, "err", err)
		r.toVoicemail(ctx, l)
		return
	}
	l.session = s
	l.state = StateIVRActive
	r.applyStep(ctx, l, s.Start())
}

func (r *Router) digit(ctx context.Context, l *leg, digit string) {
	if l.state != StateIVRActive || l.session == nil || l.session.State() == ivr.StateTerminal {
		r.log.Debug("dtmf outside ivr ignored", "call_leg_id", l.id, "state", l.state)
		return
	}
	r.applyStep(ctx, l, l.session.Input(digit, r.clock.Now()))
}

// applyStep plays what the session asked for and either waits for the next
// digit or carries out the session outcome.
func (r *Router) applyStep(ctx context.Context, l *leg, step ivr.Step) {
	l.ivrPath = l.session.Path()

	if step.Outcome == nil {
		if !step.Gather {
			return
		}
		req := telephony.PlayRequest{
			CommandID: l.cmd(telephony.VerbPlay),
			CallID:    l.id,
			Prompts:   step.Prompts,
			Gather:    true,
			Timeout:   step.Timeout,
		}
		if err := r.control.Play(ctx, req); err != nil {
			r.log.Warn("ivr prompt failed", "call_leg_id", l.id, "menu_id", step.MenuID, "err", providerErr("play", l.id, "", err))
		}
		wait := step.Timeout
		if d := l.session.Deadline(); !d.IsZero() {
			if left := d.Sub(r.clock.Now()); left < wait {
				wait = max(left, 0)
			}
		}
		r.arm(l, timerIVR, wait)
		return
	}

	l.stopTimer()
	o := step.Outcome
	r.log.Info("ivr finished", "call_leg_id", l.id, "menu_id", step.MenuID, "outcome", o.Kind, "reason", o.Reason, "failures", l.session.Failures(), "path", strings.Join(l.ivrPath, ">"))
	switch o.Kind {
	case ivr.OutcomeHangup:
		r.hangup(ctx, l, strings.Join(step.Prompts, " "), calls.OutcomeHangup, calls.CallStatusCompleted)
	case ivr.OutcomeVoicemail:
		if len(step.Prompts) > 0 {
			r.play(ctx, l, step.Prompts...)
		}
		r.toVoicemail(ctx, l)
	case ivr.OutcomeTransferRule:
		if len(step.Prompts) > 0 {
			r.play(ctx, l, step.Prompts...)
		}
		r.transferToRule(ctx, l, o.RuleID)
	}
}

func (r *Router) transferToRule(ctx context.Context, l *leg, ruleID string) {
	l.transfers++
	rule, ok := l.snap.Rule(ruleID)
	if !ok || l.transfers > maxRuleTransfers {
		r.log.Warn("ivr transfer target unusable", "call_leg_id", l.id, "rule_id", ruleID, "found", ok, "transfers", l.transfers)
		r.toVoicemail(ctx, l)
		return
	}
	l.session = nil
	l.state = StateRuleResolved
	r.execute(ctx, l, rules.ResolveRule(l.snap, rule, r.clock.Now()))
}

// arm replaces the leg's pending timer. Firings carry the generation they
// were armed with, so a timer that lost a race with an event does nothing.
func (r *Router) arm(l *leg, kind timerKind, d time.Duration) {
	l.stopTimer()
	gen, id := l.gen, l.id
	l.timer = r.clock.AfterFunc(d, func() { r.fire(id, gen, kind) })
}

func (r *Router) fire(legID string, gen uint64, kind timerKind) {
	unlock := r.locks.Lock(legID)
	defer unlock()

	l := r.leg(legID)
	if l == nil || l.gen != gen {
		return
	}
	l.timer = nil
	switch kind {
	case timerRing:
		r.ringTimeout(r.ctx, l)
	case timerIVR:
		if l.state == StateIVRActive && l.session != nil {
			r.applyStep(r.ctx, l, l.session.Timeout(r.clock.Now()))
		}
	}
}
