package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrMalformedEvent = errors.New("telephony: malformed event")

type EventType string

const (
	EventCallInitiated EventType = "call.initiated"
	EventCallAnswered  EventType = "call.answered"
	EventCallHangup    EventType = "call.hangup"
	EventDTMFReceived  EventType = "dtmf.received"
)

// Hangup causes the router distinguishes on agent legs.
const (
	CauseNormal    = "normal"
	CauseNoAnswer  = "no-answer"
	CauseBusy      = "busy"
	CauseFailed    = "failed"
	CauseCancelled = "canceled"
)

const ProviderGeneric = "generic"

// Event is a provider call event normalized for the router. Agent legs
// carry the inbound leg in ParentCallID.
type Event struct {
	Provider      string    `json:"provider,omitempty"`
	EventID       string    `json:"event_id" validate:"required"`
	Type          EventType `json:"type" validate:"required,oneof=call.initiated call.answered call.hangup dtmf.received"`
	CallID        string    `json:"call_id" validate:"required"`
	ParentCallID  string    `json:"parent_call_id,omitempty"`
	CompanyID     string    `json:"company_id,omitempty"`
	PhoneNumberID string    `json:"phone_number_id,omitempty"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	Digits        string    `json:"digits,omitempty" validate:"required_if=Type dtmf.received,max=1"`
	HangupCause   string    `json:"hangup_cause,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`

	Raw json.RawMessage `json:"-"`
}

// LegID is the inbound call leg the event belongs to.
func (e Event) LegID() string {
	if e.ParentCallID != "" {
		return e.ParentCallID
	}
	return e.CallID
}

// IsAgentLeg reports whether the event is about an outbound agent leg.
func (e Event) IsAgentLeg() bool { return e.ParentCallID != "" && e.ParentCallID != e.CallID }

// Key is the idempotency key of the event.
func (e Event) Key() string {
	p := e.Provider
	if p == "" {
		p = ProviderGeneric
	}
	return p + ":" + e.EventID
}

var validate = validator.New()

// Validate checks required fields. Errors wrap ErrMalformedEvent.
func (e Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.Type == EventCallInitiated && e.IsAgentLeg() {
		return fmt.Errorf("%w: call.initiated on an agent leg", ErrMalformedEvent)
	}
	return nil
}

// DecodeEvent parses a JSON webhook body. The raw body is kept on the event
// so malformed payloads can be logged in full.
func DecodeEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{Raw: body}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	e.Raw = append(json.RawMessage(nil), body...)
	if e.Provider == "" {
		e.Provider = ProviderGeneric
	}
	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, nil
}

// EventHandler consumes normalized events. The router implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev Event) error
}
