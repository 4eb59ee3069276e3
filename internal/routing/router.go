package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"call-router/internal/availability"
	"call-router/internal/calls"
	"call-router/internal/clock"
	"call-router/internal/ivr"
	"call-router/internal/keyed"
	"call-router/internal/metrics"
	"call-router/internal/queue"
	"call-router/internal/rules"
	"call-router/internal/telephony"
	"call-router/pkg/logger"
)

const (
	DefaultRingTimeout     = 20 * time.Second
	DefaultMaxRingAttempts = 3
	DefaultIVRMaxDuration  = 5 * time.Minute
	DefaultQueueMaxWait    = 5 * time.Minute
	DefaultTombstoneTTL    = 15 * time.Minute

	// maxRuleTransfers bounds IVR transfers between rules within one call.
	maxRuleTransfers = 5

	apologyMessage           = "We are sorry, we cannot take your call right now. Please call back later. Goodbye."
	holdMessage              = "All of our agents are busy. Please stay on the line and the next available agent will be with you."
	defaultVoicemailGreeting = "Please leave a message after the tone."
)

type Config struct {
	RingTimeout     time.Duration
	MaxRingAttempts int
	IVRMaxDuration  time.Duration
	QueueMaxWait    time.Duration
	TombstoneTTL    time.Duration
	// DefaultForwardNumber is dialed when a company has no rule and no
	// company default of its own.
	DefaultForwardNumber string
	// RecordCalls starts a recording once an agent is bridged.
	RecordCalls bool
}

func (c Config) withDefaults() Config {
	if c.RingTimeout <= 0 {
		c.RingTimeout = DefaultRingTimeout
	}
	if c.MaxRingAttempts <= 0 {
		c.MaxRingAttempts = DefaultMaxRingAttempts
	}
	if c.IVRMaxDuration <= 0 {
		c.IVRMaxDuration = DefaultIVRMaxDuration
	}
	if c.QueueMaxWait <= 0 {
		c.QueueMaxWait = DefaultQueueMaxWait
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = DefaultTombstoneTTL
	}
	return c
}

// Admitter claims provider events exactly once.
type Admitter interface {
	Admit(ctx context.Context, ev telephony.Event) (admit bool, callLegID string, err error)
}

// RuleSource maps dialed numbers to companies and resolves their rules.
type RuleSource interface {
	Lookup(ctx context.Context, number string) (rules.NumberBinding, error)
	Resolve(ctx context.Context, companyID, phoneNumberID string, at time.Time) (rules.Resolution, rules.Snapshot, error)
}

type MenuSource interface {
	Graph(ctx context.Context, companyID string) (*ivr.Graph, error)
}

// CallRecorder persists call records without blocking the caller.
type CallRecorder interface {
	LogCall(c calls.CallLog)
	Voicemail(v calls.Voicemail)
	Recording(callLegID, url string, duration time.Duration)
	Queue(q calls.QueueRecord)
}

type FallbackAuditor interface {
	LogRoutingFallback(ctx context.Context, companyID, callLegID, reason string) error
}

type Deps struct {
	Idempotency Admitter
	Rules       RuleSource
	Cursor      rules.Cursor
	Agents      availability.Tracker
	Queue       *queue.Manager
	Menus       MenuSource
	Control     telephony.CallControl
	Recorder    CallRecorder
	Audit       FallbackAuditor
	Clock       clock.Clock
	Log         *slog.Logger
}

// Router turns admitted provider events into routing decisions and
// call-control commands. Each inbound call leg is driven by one logical
// task: its events and timer firings run under a per-leg lock.
type Router struct {
	cfg      Config
	idem     Admitter
	rules    RuleSource
	cursor   rules.Cursor
	agents   availability.Tracker
	queue    *queue.Manager
	menus    MenuSource
	control  telephony.CallControl
	recorder CallRecorder
	audit    FallbackAuditor
	clock    clock.Clock
	log      *slog.Logger

	// ctx is used for work not tied to a webhook: timers and the queue pump.
	ctx   context.Context
	locks *keyed.Mutex
	pumps sync.WaitGroup

	mu         sync.Mutex
	legs       map[string]*leg
	tombstones map[string]tombstone
	lastPrune  time.Time
	queueRules map[string]rules.RoutingRule

	// OnDecision, when set, observes every routing decision.
	OnDecision func(Decision)
}

func New(cfg Config, d Deps) (*Router, error) {
	switch {
	case d.Idempotency == nil:
		return nil, errors.New("routing: idempotency layer required")
	case d.Rules == nil:
		return nil, errors.New("routing: rule source required")
	case d.Agents == nil:
		return nil, errors.New("routing: availability tracker required")
	case d.Control == nil:
		return nil, errors.New("routing: call control required")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Cursor == nil {
		d.Cursor = rules.NewMemoryCursor()
	}
	if d.Queue == nil {
		d.Queue = queue.NewManager(queue.Config{}, d.Clock.Now, d.Log)
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}

	r := &Router{
		cfg:        cfg.withDefaults(),
		idem:       d.Idempotency,
		rules:      d.Rules,
		cursor:     d.Cursor,
		agents:     d.Agents,
		queue:      d.Queue,
		menus:      d.Menus,
		control:    d.Control,
		recorder:   d.Recorder,
		audit:      d.Audit,
		clock:      d.Clock,
		log:        d.Log.With("component", "router"),
		locks:      keyed.New(),
		legs:       map[string]*leg{},
		tombstones: map[string]tombstone{},
		queueRules: map[string]rules.RoutingRule{},
	}
	r.ctx = logger.With(context.Background(), r.log)
	if r.queue.OnExpired == nil {
		r.queue.OnExpired = r.QueueExpired
	}
	return r, nil
}

// HandleEvent admits ev through the idempotency layer and applies it to its
// call leg. Only admission failures are returned; routing failures are
// handled with a fallback so the provider never has to retry.
func (r *Router) HandleEvent(ctx context.Context, ev telephony.Event) error {
	if err := ev.Validate(); err != nil {
		metrics.Event(string(ev.Type), "malformed")
		r.log.Error("malformed event", "err", err, "payload", string(ev.Raw))
		return nil
	}

	admit, legID, err := r.idem.Admit(ctx, ev)
	if err != nil {
		metrics.Event(string(ev.Type), "error")
		return fmt.Errorf("routing: admit %s: %w", ev.Key(), err)
	}
	if !admit {
		metrics.Event(string(ev.Type), "duplicate")
		return nil
	}
	metrics.Event(string(ev.Type), "admitted")

	unlock := r.locks.Lock(legID)
	defer unlock()
	r.dispatch(ctx, legID, ev)
	return nil
}

func (r *Router) dispatch(ctx context.Context, legID string, ev telephony.Event) {
	log := r.log.With("call_leg_id", legID, "event_id", ev.EventID, "type", ev.Type)

	if _, ok := r.tombstoned(legID); ok {
		if ev.IsAgentLeg() && ev.Type == telephony.EventCallAnswered {
			// The caller left while this agent was ringing.
			r.hangupCall(ctx, legID+":orphan:"+ev.EventID, ev.CallID)
		}
		log.Debug("event for finished call leg absorbed")
		return
	}

	l := r.leg(legID)
	if l == nil {
		switch {
		case ev.Type == telephony.EventCallInitiated:
			r.start(ctx, ev)
		case ev.Type == telephony.EventCallHangup && !ev.IsAgentLeg():
			r.bury(legID, calls.OutcomeAbandoned)
			log.Info("hangup before call initiated, leg pre-terminated")
		default:
			log.Debug("event for unknown call leg dropped")
		}
		return
	}

	switch ev.Type {
	case telephony.EventCallInitiated:
		log.Debug("repeated call.initiated ignored")
	case telephony.EventCallAnswered:
		if ev.IsAgentLeg() {
			r.agentAnswered(ctx, l, ev.CallID)
		}
	case telephony.EventCallHangup:
		if ev.IsAgentLeg() {
			r.agentHangup(ctx, l, ev)
		} else {
			r.callerHangup(ctx, l, ev)
		}
	case telephony.EventDTMFReceived:
		r.digit(ctx, l, ev.Digits)
	}
}

func (r *Router) start(ctx context.Context, ev telephony.Event) {
	now := r.clock.Now()
	l := newLeg(ev, now)
	r.mu.Lock()
	r.legs[l.id] = l
	r.mu.Unlock()
	metrics.LegOpened()

	if l.companyID == "" {
		b, err := r.rules.Lookup(ctx, l.to)
		if err != nil {
			r.fallback(ctx, l, "unknown_number", err)
			return
		}
		l.companyID, l.phoneNumberID = b.CompanyID, b.PhoneNumberID
	}

	res, snap, err := r.rules.Resolve(ctx, l.companyID, l.phoneNumberID, now)
	l.snap = snap
	if err != nil {
		r.fallback(ctx, l, fallbackReason(err), err)
		return
	}
	l.state = StateRuleResolved
	r.execute(ctx, l, res)
}

func fallbackReason(err error) string {
	var noRule *rules.NoActiveRuleError
	switch {
	case errors.As(err, &noRule):
		return "no_active_rule"
	case errors.Is(err, rules.ErrAmbiguousRule):
		return "ambiguous_rule"
	default:
		return "rules_unavailable"
	}
}

// execute carries out a resolved rule.
func (r *Router) execute(ctx context.Context, l *leg, res rules.Resolution) {
	l.rule = res.Rule
	l.plan = res.Plan
	l.greeting = res.Greeting
	l.tried = map[string]bool{}
	l.attempts = 0

	reason := "open"
	switch {
	case res.Holiday != nil:
		reason = "holiday"
	case !res.Open:
		reason = "after_hours"
	}
	d := Decision{
		CallLegID: l.id,
		CompanyID: l.companyID,
		RuleID:    res.Rule.ID,
		Plan:      res.Plan,
		Action:    actionFor(res.Plan),
		Reason:    reason,
	}
	switch res.Plan {
	case rules.PlanForward:
		d.ConnectTo = res.ForwardNumber
	case rules.PlanIVR:
		d.ConnectTo = res.IVRMenuID
	}
	r.decide(d)

	if res.Greeting != "" && res.Plan != rules.PlanVoicemail {
		r.play(ctx, l, res.Greeting)
	}

	switch res.Plan {
	case rules.PlanVoicemail:
		r.toVoicemail(ctx, l)
	case rules.PlanForward:
		r.forward(ctx, l, res.ForwardNumber)
	case rules.PlanIVR:
		r.startIVR(ctx, l, res.IVRMenuID)
	default:
		r.ring(ctx, l)
	}
}

// fallback handles a call no rule can route: the company default forward
// number if there is one, otherwise an apology and hang-up.
func (r *Router) fallback(ctx context.Context, l *leg, reason string, cause error) {
	r.log.Warn("routing fallback", "call_leg_id", l.id, "company_id", l.companyID, "to", l.to, "reason", reason, "err", cause)
	if r.audit != nil && l.companyID != "" {
		if err := r.audit.LogRoutingFallback(ctx, l.companyID, l.id, reason); err != nil {
			r.log.Warn("audit routing fallback failed", "call_leg_id", l.id, "err", err)
		}
	}

	number := l.snap.DefaultForwardNumber
	if number == "" {
		number = r.cfg.DefaultForwardNumber
	}
	if number != "" {
		l.plan = rules.PlanForward
		r.decide(Decision{CallLegID: l.id, CompanyID: l.companyID, Plan: l.plan, Action: ActionForward, ConnectTo: number, Reason: reason})
		r.forward(ctx, l, number)
		return
	}
	r.decide(Decision{CallLegID: l.id, CompanyID: l.companyID, Action: ActionHangup, Reason: reason})
	r.hangup(ctx, l, apologyMessage, calls.OutcomeFailed, calls.CallStatusFailed)
}

func (r *Router) decide(d Decision) {
	label := string(d.Plan)
	if label == "" {
		label = string(d.Action)
	}
	metrics.Decision(label)
	r.log.Info("routing decision", "call_leg_id", d.CallLegID, "company_id", d.CompanyID, "rule_id", d.RuleID,
		"plan", d.Plan, "action", d.Action, "connect_to", d.ConnectTo, "reason", d.Reason)
	if r.OnDecision != nil {
		r.OnDecision(d)
	}
}

func (r *Router) callerHangup(ctx context.Context, l *leg, ev telephony.Event) {
	if l.state == StateConnected && l.agentCallID != "" {
		r.hangupCall(ctx, l.cmd(telephony.VerbHangup), l.agentCallID)
	}
	if l.outcome == "" || (l.state != StateConnected && l.state != StateVoicemailRecording) {
		l.outcome = calls.OutcomeAbandoned
		if l.state != StateConnected {
			l.state = StateAbandoned
		}
	}
	r.terminate(ctx, l, callStatus(ev.HangupCause), ev.HangupCause)
}

func callStatus(cause string) calls.CallStatus {
	switch cause {
	case telephony.CauseNoAnswer:
		return calls.CallStatusNoAnswer
	case telephony.CauseBusy:
		return calls.CallStatusBusy
	case telephony.CauseFailed:
		return calls.CallStatusFailed
	case telephony.CauseCancelled:
		return calls.CallStatusCanceled
	default:
		return calls.CallStatusCompleted
	}
}

func (r *Router) hangupCall(ctx context.Context, cmdID, callID string) {
	if err := r.control.Hangup(ctx, cmdID, callID, ""); err != nil {
		r.log.Warn("hangup failed", "call_id", callID, "err", providerErr("hangup", callID, "", err))
	}
}

// AttachRecording stores the recording of a finished voicemail.
func (r *Router) AttachRecording(ctx context.Context, callLegID, url string, duration time.Duration) {
	r.log.Info("recording received", "call_leg_id", callLegID, "duration", duration.String())
	r.recorder.Recording(callLegID, url, duration)
}

// State reports where a call leg is. Finished legs report StateTerminal
// while their tombstone lasts.
func (r *Router) State(callLegID string) (State, bool) {
	unlock := r.locks.Lock(callLegID)
	defer unlock()
	if l := r.leg(callLegID); l != nil {
		return l.state, true
	}
	if _, ok := r.tombstoned(callLegID); ok {
		return StateTerminal, true
	}
	return "", false
}

// Outcome reports how a finished call leg ended.
func (r *Router) Outcome(callLegID string) (calls.Outcome, bool) {
	ts, ok := r.tombstoned(callLegID)
	return ts.outcome, ok
}

func (r *Router) ActiveLegs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.legs)
}

func (r *Router) leg(id string) *leg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.legs[id]
}

func (r *Router) tombstoned(id string) (tombstone, bool) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.tombstones[id]
	if ok && now.After(ts.until) {
		delete(r.tombstones, id)
		return tombstone{}, false
	}
	return ts, ok
}

// bury replaces a leg with a tombstone and prunes expired tombstones.
func (r *Router) bury(id string, outcome calls.Outcome) {
	now := r.clock.Now()
	ttl := r.cfg.TombstoneTTL
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.legs, id)
	r.tombstones[id] = tombstone{until: now.Add(ttl), outcome: outcome}
	if now.Sub(r.lastPrune) < ttl/2 {
		return
	}
	for k, ts := range r.tombstones {
		if now.After(ts.until) {
			delete(r.tombstones, k)
		}
	}
	r.lastPrune = now
}

type nopRecorder struct{}

func (nopRecorder) LogCall(calls.CallLog) {}
func (nopRecorder) Voicemail(calls.Voicemail) {}
func (nopRecorder) Recording(string, string, time.Duration) {}
func (nopRecorder) Queue(calls.QueueRecord) {}
