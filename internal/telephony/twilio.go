package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"call-router/internal/metrics"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	ProviderTwilio = "twilio"

	// holdPauseSeconds parks a caller while the router waits on a timer.
	holdPauseSeconds    = 600
	voicemailMaxSeconds = 120
)

// twilioCalls is the slice of the Twilio REST API the router uses.
type twilioCalls interface {
	CreateCall(params *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioapi.UpdateCallParams) (*twilioapi.ApiV2010Call, error)
	CreateCallRecording(callSid string, params *twilioapi.CreateCallRecordingParams) (*twilioapi.ApiV2010CallRecording, error)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// PublicBaseURL is where Twilio reaches our webhooks, e.g. https://router.example.com.
	PublicBaseURL string
	Retries       int
	Backoff       time.Duration
}

// TwilioCallControl drives calls over the Twilio REST API. Commands aimed at
// a call whose webhook is being answered right now are written into that
// response instead.
type TwilioCallControl struct {
	api     twilioCalls
	base    string
	retries int
	backoff time.Duration
	ledger  *ledger
	log     *slog.Logger
}

func NewTwilioCallControl(cfg TwilioConfig, log *slog.Logger) *TwilioCallControl {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioCallControl(rest.Api, cfg, log)
}

func newTwilioCallControl(api twilioCalls, cfg TwilioConfig, log *slog.Logger) *TwilioCallControl {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &TwilioCallControl{
		api:     api,
		base:    strings.TrimRight(cfg.PublicBaseURL, "/"),
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		ledger:  newLedger(0),
		log:     log,
	}
}

func (t *TwilioCallControl) hook(path string, q url.Values) string {
	u := t.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// run executes fn at most once per command id, retrying transient failures.
func (t *TwilioCallControl) run(ctx context.Context, verb Verb, commandID string, fn func() (string, error)) (string, error) {
	if res, ok := t.ledger.lookup(commandID); ok {
		return res, nil
	}
	var (
		res string
		err error
	)
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * t.backoff):
			}
		}
		res, err = fn()
		if err == nil || !retryable(err) {
			break
		}
		t.log.Warn("twilio command failed", "verb", verb, "command_id", commandID, "attempt", attempt+1, "err", err)
	}
	metrics.ProviderCommand(string(verb), err)
	if err != nil {
		return "", fmt.Errorf("telephony: twilio %s: %w", verb, err)
	}
	t.ledger.record(commandID, res)
	return res, nil
}

// retryable reports whether a REST failure may succeed on a later attempt.
func retryable(err error) bool {
	var rest *client.TwilioRestError
	if errors.As(err, &rest) {
		return rest.Status >= http.StatusInternalServerError || rest.Status == http.StatusTooManyRequests
	}
	return true
}

// apply writes doc into the in-flight webhook response for callID when
// there is one, and otherwise redirects the live call to it.
func (t *TwilioCallControl) apply(ctx context.Context, verb Verb, commandID, callID string, doc *TwiML) error {
	if _, ok := t.ledger.lookup(commandID); ok {
		return nil
	}
	if resp := responseFor(ctx, callID); resp != nil {
		resp.verbs = append(resp.verbs, doc.verbs...)
		t.ledger.record(commandID, "")
		metrics.ProviderCommand(string(verb), nil)
		return nil
	}
	body, err := doc.String()
	if err != nil {
		return err
	}
	_, err = t.run(ctx, verb, commandID, func() (string, error) {
		params := &twilioapi.UpdateCallParams{}
		params.SetTwiml(body)
		_, err := t.api.UpdateCall(callID, params)
		return "", err
	})
	return err
}

func (t *TwilioCallControl) Dial(ctx context.Context, req DialRequest) (string, error) {
	q := url.Values{"parent": {req.ParentCallID}, "agent": {req.AgentID}}
	return t.run(ctx, VerbDial, req.CommandID, func() (string, error) {
		params := &twilioapi.CreateCallParams{}
		params.SetTo(req.To)
		params.SetFrom(req.From)
		params.SetUrl(t.hook("/webhooks/twilio/voice", q))
		params.SetStatusCallback(t.hook("/webhooks/twilio/status", q))
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
		if req.Timeout > 0 {
			params.SetTimeout(int(req.Timeout / time.Second))
		}
		call, err := t.api.CreateCall(params)
		if err != nil {
			return "", err
		}
		if call == nil || call.Sid == nil {
			return "", errors.New("create call returned no sid")
		}
		return *call.Sid, nil
	})
}

func (t *TwilioCallControl) Bridge(ctx context.Context, commandID, callID, agentCallID string) error {
	if err := t.apply(ctx, VerbBridge, commandID+":agent", agentCallID, NewTwiML().Conference(callID, true)); err != nil {
		return err
	}
	return t.apply(ctx, VerbBridge, commandID, callID, NewTwiML().Conference(callID, true))
}

func (t *TwilioCallControl) Play(ctx context.Context, req PlayRequest) error {
	doc := NewTwiML()
	switch {
	case req.Gather:
		doc.GatherDigit(req.Prompts, int(req.Timeout/time.Second), t.hook("/webhooks/twilio/gather", url.Values{"call": {req.CallID}, "prompt": {req.CommandID}}))
		doc.Pause(holdPauseSeconds)
	default:
		for _, p := range req.Prompts {
			doc.Prompt(p)
		}
		if req.Hold {
			doc.Pause(holdPauseSeconds)
		}
	}
	return t.apply(ctx, VerbPlay, req.CommandID, req.CallID, doc)
}

func (t *TwilioCallControl) Transfer(ctx context.Context, commandID, callID, to string, timeout time.Duration) error {
	return t.apply(ctx, VerbTransfer, commandID, callID, NewTwiML().Dial(to, int(timeout/time.Second), ""))
}

func (t *TwilioCallControl) StartRecording(ctx context.Context, commandID, callID string) error {
	_, err := t.run(ctx, VerbStartRecording, commandID, func() (string, error) {
		rec, err := t.api.CreateCallRecording(callID, &twilioapi.CreateCallRecordingParams{})
		if err != nil {
			return "", err
		}
		if rec != nil && rec.Sid != nil {
			return *rec.Sid, nil
		}
		return "", nil
	})
	return err
}

func (t *TwilioCallControl) SendToVoicemail(ctx context.Context, commandID, callID, greeting string) error {
	doc := NewTwiML().
		Prompt(greeting).
		Record(t.hook("/webhooks/twilio/voicemail", url.Values{"call": {callID}}), voicemailMaxSeconds).
		Hangup()
	return t.apply(ctx, VerbSendToVoicemail, commandID, callID, doc)
}

func (t *TwilioCallControl) Cancel(ctx context.Context, commandID, callID string) error {
	_, err := t.run(ctx, VerbCancel, commandID, func() (string, error) {
		params := &twilioapi.UpdateCallParams{}
		params.SetStatus("canceled")
		_, err := t.api.UpdateCall(callID, params)
		return "", err
	})
	return err
}

func (t *TwilioCallControl) Hangup(ctx context.Context, commandID, callID, message string) error {
	if message != "" || responseFor(ctx, callID) != nil {
		return t.apply(ctx, VerbHangup, commandID, callID, NewTwiML().Prompt(message).Hangup())
	}
	_, err := t.run(ctx, VerbHangup, commandID, func() (string, error) {
		params := &twilioapi.UpdateCallParams{}
		params.SetStatus("completed")
		_, err := t.api.UpdateCall(callID, params)
		return "", err
	})
	return err
}

type responseKey struct{}

type pendingResponse struct {
	callID string
	doc    *TwiML
}

// WithResponse marks ctx as answering a webhook for callID. Commands for
// that call issued under ctx land in the returned document.
func WithResponse(ctx context.Context, callID string) (context.Context, *TwiML) {
	doc := NewTwiML()
	return context.WithValue(ctx, responseKey{}, &pendingResponse{callID: callID, doc: doc}), doc
}

func responseFor(ctx context.Context, callID string) *TwiML {
	p, ok := ctx.Value(responseKey{}).(*pendingResponse)
	if !ok || p.callID != callID {
		return nil
	}
	return p.doc
}
