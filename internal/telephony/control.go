package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Verb names a call-control command.
type Verb string

const (
	VerbDial            Verb = "dial"
	VerbBridge          Verb = "bridge"
	VerbPlay            Verb = "play"
	VerbTransfer        Verb = "transfer"
	VerbStartRecording  Verb = "start_recording"
	VerbSendToVoicemail Verb = "send_to_voicemail"
	VerbCancel          Verb = "cancel"
	VerbHangup          Verb = "hangup"
)

type DialRequest struct {
	CommandID    string
	ParentCallID string
	AgentID      string
	To           string
	From         string
	Timeout      time.Duration
}

type PlayRequest struct {
	CommandID string
	CallID    string
	Prompts   []string
	// Gather collects one DTMF digit after the prompts.
	Gather  bool
	Timeout time.Duration
	// Hold keeps the caller parked after the prompts.
	Hold bool
}

// CallControl issues commands to the telephony provider. Every command
// carries an id; repeating an id that already succeeded is a no-op, so
// callers may retry freely.
type CallControl interface {
	// Dial originates an agent leg and returns its provider call id.
	Dial(ctx context.Context, req DialRequest) (string, error)
	Bridge(ctx context.Context, commandID, callID, agentCallID string) error
	Play(ctx context.Context, req PlayRequest) error
	Transfer(ctx context.Context, commandID, callID, to string, timeout time.Duration) error
	StartRecording(ctx context.Context, commandID, callID string) error
	SendToVoicemail(ctx context.Context, commandID, callID, greeting string) error
	// Cancel stops an agent leg that has not been answered.
	Cancel(ctx context.Context, commandID, callID string) error
	// Hangup plays message, when set, then ends the call.
	Hangup(ctx context.Context, commandID, callID, message string) error
}

// ledger remembers successful command ids and their results.
type ledger struct {
	mu    sync.Mutex
	max   int
	done  map[string]string
	order []string
}

func newLedger(max int) *ledger {
	if max <= 0 {
		max = 10000
	}
	return &ledger{max: max, done: map[string]string{}}
}

func (l *ledger) lookup(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.done[id]
	return v, ok
}

func (l *ledger) record(id, result string) {
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.done[id]; ok {
		return
	}
	l.done[id] = result
	l.order = append(l.order, id)
	if len(l.order) > l.max {
		evict := l.order[0]
		l.order = l.order[1:]
		delete(l.done, evict)
	}
}

// Command is one call-control instruction as recorded by MemoryControl.
type Command struct {
	Verb        Verb
	ID          string
	CallID      string
	AgentCallID string
	AgentID     string
	To          string
	Prompts     []string
	Gather      bool
	Hold        bool
	Message     string
	Timeout     time.Duration
}

// MemoryControl records commands instead of reaching a provider. It backs
// local runs without provider credentials and router tests.
type MemoryControl struct {
	log    *slog.Logger
	ledger *ledger

	mu       sync.Mutex
	commands []Command
	nextLeg  int
	failures map[Verb][]error
	// OnDial, when set, observes each originated agent leg.
	OnDial func(req DialRequest, agentCallID string)
}

func NewMemoryControl(log *slog.Logger) *MemoryControl {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryControl{log: log, ledger: newLedger(0), failures: map[Verb][]error{}}
}

// FailNext makes the next call of verb return err.
func (m *MemoryControl) FailNext(verb Verb, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[verb] = append(m.failures[verb], err)
}

// Commands returns a copy of every executed command in order.
func (m *MemoryControl) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.commands...)
}

// Count returns how many commands of verb were executed.
func (m *MemoryControl) Count(verb Verb) int {
	n := 0
	for _, c := range m.Commands() {
		if c.Verb == verb {
			n++
		}
	}
	return n
}

func (m *MemoryControl) exec(c Command) (string, error) {
	if res, ok := m.ledger.lookup(c.ID); ok {
		return res, nil
	}

	m.mu.Lock()
	if errs := m.failures[c.Verb]; len(errs) > 0 {
		err := errs[0]
		m.failures[c.Verb] = errs[1:]
		m.mu.Unlock()
		return "", err
	}
	var result string
	if c.Verb == VerbDial {
		m.nextLeg++
		result = fmt.Sprintf("%s-agent-%d", c.CallID, m.nextLeg)
		c.AgentCallID = result
	}
	m.commands = append(m.commands, c)
	m.mu.Unlock()

	m.ledger.record(c.ID, result)
	m.log.Debug("call control", "verb", c.Verb, "command_id", c.ID, "call_id", c.CallID, "to", c.To)
	return result, nil
}

func (m *MemoryControl) Dial(ctx context.Context, req DialRequest) (string, error) {
	id, err := m.exec(Command{Verb: VerbDial, ID: req.CommandID, CallID: req.ParentCallID, AgentID: req.AgentID, To: req.To, Timeout: req.Timeout})
	if err == nil && m.OnDial != nil {
		m.OnDial(req, id)
	}
	return id, err
}

func (m *MemoryControl) Bridge(ctx context.Context, commandID, callID, agentCallID string) error {
	_, err := m.exec(Command{Verb: VerbBridge, ID: commandID, CallID: callID, AgentCallID: agentCallID})
	return err
}

func (m *MemoryControl) Play(ctx context.Context, req PlayRequest) error {
	_, err := m.exec(Command{Verb: VerbPlay, ID: req.CommandID, CallID: req.CallID, Prompts: req.Prompts, Gather: req.Gather, Hold: req.Hold, Timeout: req.Timeout})
	return err
}

func (m *MemoryControl) Transfer(ctx context.Context, commandID, callID, to string, timeout time.Duration) error {
	_, err := m.exec(Command{Verb: VerbTransfer, ID: commandID, CallID: callID, To: to, Timeout: timeout})
	return err
}

func (m *MemoryControl) StartRecording(ctx context.Context, commandID, callID string) error {
	_, err := m.exec(Command{Verb: VerbStartRecording, ID: commandID, CallID: callID})
	return err
}

func (m *MemoryControl) SendToVoicemail(ctx context.Context, commandID, callID, greeting string) error {
	_, err := m.exec(Command{Verb: VerbSendToVoicemail, ID: commandID, CallID: callID, Message: greeting})
	return err
}

func (m *MemoryControl) Cancel(ctx context.Context, commandID, callID string) error {
	_, err := m.exec(Command{Verb: VerbCancel, ID: commandID, CallID: callID})
	return err
}

func (m *MemoryControl) Hangup(ctx context.Context, commandID, callID, message string) error {
	_, err := m.exec(Command{Verb: VerbHangup, ID: commandID, CallID: callID, Message: message})
	return err
}
