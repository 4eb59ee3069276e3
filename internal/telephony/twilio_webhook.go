package telephony

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const headerIdempotencyToken = "I-Twilio-Idempotency-Token"

// TwilioForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
type TwilioForm struct {
	CallSid       string `json:"CallSid"`
	ParentCallSid string `json:"ParentCallSid,omitempty"`
	AccountSid    string `json:"AccountSid"`
	From          string `json:"From"`
	To            string `json:"To"`
	Direction     string `json:"Direction,omitempty"`
	CallStatus    string `json:"CallStatus,omitempty"`
	Digits        string `json:"Digits,omitempty"`
	Timestamp     string `json:"Timestamp,omitempty"`
	CallerName    string `json:"CallerName,omitempty"`
	ForwardedFrom string `json:"ForwardedFrom,omitempty"`

	RecordingURL      string `json:"RecordingUrl,omitempty"`
	RecordingDuration string `json:"RecordingDuration,omitempty"`

	// Query parameters we put on callback URLs.
	Parent string `json:"parent,omitempty"`
	Agent  string `json:"agent,omitempty"`
	Call   string `json:"call,omitempty"`
	Prompt string `json:"prompt,omitempty"`

	IdempotencyToken string `json:"-"`
}

func ParseTwilioForm(r *http.Request) (TwilioForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioForm{}, err
	}
	q := r.URL.Query()
	return TwilioForm{
		CallSid:           r.PostFormValue("CallSid"),
		ParentCallSid:     r.PostFormValue("ParentCallSid"),
		AccountSid:        r.PostFormValue("AccountSid"),
		From:              normalizePhone(r.PostFormValue("From")),
		To:                normalizePhone(r.PostFormValue("To")),
		Direction:         r.PostFormValue("Direction"),
		CallStatus:        r.PostFormValue("CallStatus"),
		Digits:            strings.TrimSpace(r.PostFormValue("Digits")),
		Timestamp:         r.PostFormValue("Timestamp"),
		CallerName:        r.PostFormValue("CallerName"),
		ForwardedFrom:     normalizePhone(r.PostFormValue("ForwardedFrom")),
		RecordingURL:      r.PostFormValue("RecordingUrl"),
		RecordingDuration: r.PostFormValue("RecordingDuration"),
		Parent:            q.Get("parent"),
		Agent:             q.Get("agent"),
		Call:              q.Get("call"),
		Prompt:            q.Get("prompt"),
		IdempotencyToken:  r.Header.Get(headerIdempotencyToken),
	}, nil
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

func (f TwilioForm) parent() string {
	if f.Parent != "" {
		return f.Parent
	}
	return f.ParentCallSid
}

func (f TwilioForm) raw() json.RawMessage {
	b, _ := json.Marshal(f)
	return b
}

func (f TwilioForm) eventID(fallback string) string {
	if f.IdempotencyToken != "" {
		return f.IdempotencyToken
	}
	return fallback
}

func (f TwilioForm) event(t EventType, occurredAt time.Time) Event {
	return Event{
		Provider:   ProviderTwilio,
		Type:       t,
		CallID:     f.CallSid,
		From:       f.From,
		To:         f.To,
		OccurredAt: occurredAt,
		Raw:        f.raw(),
	}
}

// VoiceEvent maps the answer webhook. For an inbound call it is
// call.initiated; for an agent leg we originated it means the agent answered.
func (f TwilioForm) VoiceEvent(occurredAt time.Time) Event {
	if p := f.parent(); p != "" && p != f.CallSid {
		e := f.event(EventCallAnswered, occurredAt)
		e.ParentCallID = p
		e.EventID = f.eventID(f.CallSid + ":answered")
		return e
	}
	e := f.event(EventCallInitiated, occurredAt)
	e.EventID = f.eventID(f.CallSid + ":initiated")
	return e
}

// StatusEvent maps a status callback. Only final statuses produce an event;
// answers arrive through the voice webhook.
func (f TwilioForm) StatusEvent(occurredAt time.Time) (Event, bool) {
	var cause string
	switch f.CallStatus {
	case "completed":
		cause = CauseNormal
	case "busy":
		cause = CauseBusy
	case "no-answer":
		cause = CauseNoAnswer
	case "failed":
		cause = CauseFailed
	case "canceled":
		cause = CauseCancelled
	default:
		return Event{}, false
	}
	e := f.event(EventCallHangup, occurredAt)
	if p := f.parent(); p != "" && p != f.CallSid {
		e.ParentCallID = p
	}
	e.HangupCause = cause
	e.EventID = f.eventID(f.CallSid + ":" + f.CallStatus)
	return e, true
}

// GatherEvent maps a Gather action callback carrying one digit. Without an
// idempotency token the event id is the call plus the prompt that gathered
// the digit, so a redelivered callback keeps its id.
func (f TwilioForm) GatherEvent(occurredAt time.Time) (Event, bool) {
	if f.Digits == "" {
		return Event{}, false
	}
	e := f.event(EventDTMFReceived, occurredAt)
	if f.Call != "" {
		e.CallID = f.Call
	}
	e.Digits = f.Digits[:1]
	e.EventID = f.eventID(e.CallID + ":dtmf:" + f.Prompt + ":" + e.Digits)
	return e, true
}
