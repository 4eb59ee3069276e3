package routing

import (
	"fmt"
	"time"

	"call-router/internal/calls"
	"call-router/internal/clock"
	"call-router/internal/ivr"
	"call-router/internal/rules"
	"call-router/internal/telephony"
)

// State is the lifecycle position of one inbound call leg.
type State string

const (
	StateReceived           State = "received"
	StateRuleResolved       State = "rule_resolved"
	StateRinging            State = "ringing"
	StateQueued             State = "queued"
	StateIVRActive          State = "ivr_active"
	StateConnected          State = "connected"
	StateVoicemailRecording State = "voicemail_recording"
	StateAbandoned          State = "abandoned"
	StateTerminal           State = "terminal"
)

type timerKind int

const (
	timerRing timerKind = iota + 1
	timerIVR
)

// leg is the router's state for one inbound call. Every field is guarded by
// the leg's keyed lock, never by the router mutex.
type leg struct {
	id            string
	companyID     string
	phoneNumberID string
	from          string
	to            string
	startedAt     time.Time
	answeredAt    *time.Time

	state State
	snap  rules.Snapshot
	rule  rules.RoutingRule
	plan  rules.PlanKind

	// gen invalidates timers armed before the latest transition.
	gen   uint64
	timer clock.Timer

	// dials maps outstanding agent call ids to agent ids.
	dials        map[string]string
	tried        map[string]bool
	attempts     int
	simultaneous bool

	// held is the release ledger: an agent is released at most once per
	// reservation taken by this leg.
	held map[string]bool

	agentID     string
	agentCallID string
	forwardedTo string

	queued    bool
	queueWait time.Duration

	session   *ivr.Session
	ivrPath   []string
	transfers int

	greeting    string
	holding     bool
	voicemail   bool
	voicemailAt time.Time
	outcome     calls.Outcome
	seq         int
}

func newLeg(ev telephony.Event, now time.Time) *leg {
	started := ev.OccurredAt
	if started.IsZero() {
		started = now
	}
	return &leg{
		id:            ev.LegID(),
		companyID:     ev.CompanyID,
		phoneNumberID: ev.PhoneNumberID,
		from:          ev.From,
		to:            ev.To,
		startedAt:     started,
		state:         StateReceived,
		dials:         map[string]string{},
		tried:         map[string]bool{},
		held:          map[string]bool{},
	}
}

// cmd returns the next command id for this leg. Ids are stable per leg and
// step, so a provider retry of the same step is deduplicated downstream.
func (l *leg) cmd(verb telephony.Verb) string {
	l.seq++
	return fmt.Sprintf("%s:%s:%d", l.id, verb, l.seq)
}

func (l *leg) stopTimer() {
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *leg) ringing() bool { return l.state == StateRinging }

// tombstone remembers a finished leg so late events are absorbed.
type tombstone struct {
	until   time.Time
	outcome calls.Outcome
}
