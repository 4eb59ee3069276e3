package ivr

import (
	"fmt"
	"time"
)

type State string

const (
	StateGreeting State = "greeting"
	StateMenuWait State = "menu_wait"
	StateTerminal State = "terminal"
)

type OutcomeKind string

const (
	OutcomeTransferRule OutcomeKind = "transfer_rule"
	OutcomeVoicemail    OutcomeKind = "voicemail"
	OutcomeHangup       OutcomeKind = "hangup"
)

// Outcome is how a session ends.
type Outcome struct {
	Kind   OutcomeKind
	RuleID string
	// Reason is "selected", "retries_exhausted" or "max_duration".
	Reason string
}

// Step is what the caller should hear next. When Gather is set the router
// collects one digit and arms a timer for Timeout. A non-nil Outcome means the
// session is finished after the prompts play.
type Step struct {
	MenuID  string
	Prompts []string
	Gather  bool
	Timeout time.Duration
	Outcome *Outcome
}

// Session walks one caller through the menu graph. It is not safe for
// concurrent use; the router drives it from the call leg's own task.
type Session struct {
	graph       *Graph
	menuID      string
	state       State
	failures    int
	startedAt   time.Time
	maxDuration time.Duration
	path        []string
}

func NewSession(g *Graph, rootMenuID string, startedAt time.Time, maxDuration time.Duration) (*Session, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: no graph", ErrUnknownMenu)
	}
	if _, ok := g.Menu(rootMenuID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMenu, rootMenuID)
	}
	return &Session{
		graph:       g,
		menuID:      rootMenuID,
		state:       StateGreeting,
		startedAt:   startedAt,
		maxDuration: maxDuration,
		path:        []string{rootMenuID},
	}, nil
}

func (s *Session) State() State   { return s.state }
func (s *Session) Failures() int  { return s.failures }
func (s *Session) Path() []string { return append([]string(nil), s.path...) }

// Deadline is when the session ceiling fires, or zero when there is none.
func (s *Session) Deadline() time.Time {
	if s.maxDuration <= 0 {
		return time.Time{}
	}
	return s.startedAt.Add(s.maxDuration)
}

func (s *Session) current() Menu {
	m, _ := s.graph.Menu(s.menuID)
	return m
}

// Start plays the root greeting and waits for input.
func (s *Session) Start() Step {
	if s.state != StateGreeting {
		return Step{MenuID: s.menuID}
	}
	m := s.current()
	s.state = StateMenuWait
	return s.waitStep(m, m.Greeting)
}

// Input applies one DTMF digit. Input after the session ended is ignored.
func (s *Session) Input(digit string, now time.Time) Step {
	if s.state == StateTerminal {
		return Step{MenuID: s.menuID}
	}
	if s.overCeiling(now) {
		return s.fireTimeoutAction("max_duration")
	}
	s.state = StateMenuWait

	m := s.current()
	opt, ok := m.Options[digit]
	if !ok || !validKey(digit) {
		return s.fail(m, m.invalidPrompt())
	}

	switch opt.Action {
	case OptionSubmenu:
		next, _ := s.graph.Menu(opt.SubmenuID)
		s.menuID = next.ID
		s.failures = 0
		s.path = append(s.path, next.ID)
		return s.waitStep(next, prompts(opt.Message, next.Greeting)...)
	case OptionTransferRule:
		return s.finish(&Outcome{Kind: OutcomeTransferRule, RuleID: opt.RuleID, Reason: "selected"}, opt.Message)
	case OptionVoicemail:
		return s.finish(&Outcome{Kind: OutcomeVoicemail, Reason: "selected"}, opt.Message)
	case OptionPlayHangup:
		msg := opt.Message
		if msg == "" {
			msg = DefaultGoodbye
		}
		return s.finish(&Outcome{Kind: OutcomeHangup, Reason: "selected"}, msg)
	default:
		return s.fail(m, m.invalidPrompt())
	}
}

// Timeout handles the input timer firing with no digit received.
func (s *Session) Timeout(now time.Time) Step {
	if s.state == StateTerminal {
		return Step{MenuID: s.menuID}
	}
	if s.overCeiling(now) {
		return s.fireTimeoutAction("max_duration")
	}
	m := s.current()
	return s.fail(m, m.timeoutPrompt())
}

func (s *Session) overCeiling(now time.Time) bool {
	d := s.Deadline()
	return !d.IsZero() && !now.Before(d)
}

// fail consumes one retry. Invalid keys and timeouts share the budget.
func (s *Session) fail(m Menu, prompt string) Step {
	s.failures++
	if s.failures > m.MaxRetries {
		return s.fireTimeoutAction("retries_exhausted")
	}
	return s.waitStep(m, prompt, m.Greeting)
}

func (s *Session) fireTimeoutAction(reason string) Step {
	m := s.current()
	switch m.TimeoutAction {
	case TimeoutTransferRule:
		return s.finish(&Outcome{Kind: OutcomeTransferRule, RuleID: m.TimeoutRuleID, Reason: reason})
	case TimeoutVoicemail:
		return s.finish(&Outcome{Kind: OutcomeVoicemail, Reason: reason})
	default:
		return s.finish(&Outcome{Kind: OutcomeHangup, Reason: reason}, DefaultGoodbye)
	}
}

func (s *Session) finish(o *Outcome, msgs ...string) Step {
	s.state = StateTerminal
	return Step{MenuID: s.menuID, Prompts: prompts(msgs...), Outcome: o}
}

func (s *Session) waitStep(m Menu, msgs ...string) Step {
	return Step{MenuID: m.ID, Prompts: prompts(msgs...), Gather: true, Timeout: m.timeout()}
}

func prompts(msgs ...string) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}
