package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"call-router/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
)

const (
	maxEventBody   = 64 << 10
	apologyMessage = "We are sorry, we cannot take your call right now. Please call back later. Goodbye."
)

// WebhookHandler turns provider webhooks into router events. It makes no
// routing decisions itself.
type WebhookHandler struct {
	Events EventHandler

	// OnRecording receives finished voicemail recordings.
	OnRecording func(ctx context.Context, callID, recordingURL string, duration time.Duration)

	Now func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}

// HandleEvents accepts one JSON event. Malformed payloads are logged in full
// and acknowledged so the provider stops retrying them.
func (h WebhookHandler) HandleEvents(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		log.Error("event body read failed", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	ev, err := DecodeEvent(body)
	if err != nil {
		log.Error("malformed event", "err", err, "payload", string(body))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now()
	}

	if err := h.Events.HandleEvent(c.Request.Context(), ev); err != nil {
		log.Error("event handling failed", "event_id", ev.EventID, "type", ev.Type, "call_id", ev.CallID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event handling failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// HandleTwilioVoice answers the voice webhook for inbound calls and for
// agent legs we originated.
func (h WebhookHandler) HandleTwilioVoice(c *gin.Context) {
	form, ok := h.parse(c)
	if !ok {
		return
	}
	h.respond(c, form.CallSid, form.VoiceEvent(h.now()))
}

func (h WebhookHandler) HandleTwilioGather(c *gin.Context) {
	form, ok := h.parse(c)
	if !ok {
		return
	}
	ev, ok := form.GatherEvent(h.now())
	if !ok {
		writeTwiML(c, NewTwiML().Pause(holdPauseSeconds))
		return
	}
	h.respond(c, ev.CallID, ev)
}

func (h WebhookHandler) HandleTwilioStatus(c *gin.Context) {
	log := logger.FromGin(c)
	form, ok := h.parse(c)
	if !ok {
		return
	}
	ev, ok := form.StatusEvent(h.now())
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	if err := ev.Validate(); err != nil {
		log.Error("malformed event", "err", err, "payload", string(ev.Raw))
		c.Status(http.StatusNoContent)
		return
	}
	if err := h.Events.HandleEvent(c.Request.Context(), ev); err != nil {
		log.Error("event handling failed", "event_id", ev.EventID, "call_id", ev.CallID, "err", err)
	}
	c.Status(http.StatusNoContent)
}

func (h WebhookHandler) HandleTwilioVoicemail(c *gin.Context) {
	form, ok := h.parse(c)
	if !ok {
		return
	}
	callID := form.Call
	if callID == "" {
		callID = form.CallSid
	}
	if h.OnRecording != nil && form.RecordingURL != "" {
		secs, _ := strconv.Atoi(form.RecordingDuration)
		h.OnRecording(c.Request.Context(), callID, form.RecordingURL, time.Duration(secs)*time.Second)
	}
	writeTwiML(c, NewTwiML().Hangup())
}

func (h WebhookHandler) parse(c *gin.Context) (TwilioForm, bool) {
	form, err := ParseTwilioForm(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return TwilioForm{}, false
	}
	return form, true
}

// respond hands ev to the router while collecting commands for callID into
// the TwiML reply. A caller is never left in silence: an empty reply parks
// the call and a failure apologizes and hangs up.
func (h WebhookHandler) respond(c *gin.Context, callID string, ev Event) {
	log := logger.FromGin(c)

	if err := ev.Validate(); err != nil {
		log.Error("malformed event", "err", err, "payload", string(ev.Raw))
		writeTwiML(c, NewTwiML().Prompt(apologyMessage).Hangup())
		return
	}

	ctx, doc := WithResponse(c.Request.Context(), callID)
	if err := h.Events.HandleEvent(ctx, ev); err != nil {
		log.Error("event handling failed", "event_id", ev.EventID, "type", ev.Type, "call_id", ev.CallID, "err", err)
		if doc.Empty() {
			doc.Prompt(apologyMessage).Hangup()
		}
	}
	if doc.Empty() {
		doc.Pause(holdPauseSeconds)
	}
	writeTwiML(c, doc)
}

func writeTwiML(c *gin.Context, doc *TwiML) {
	body, err := doc.String()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, body)
}

var ErrBadSignature = errors.New("telephony: invalid twilio signature")

// TwilioSignature rejects webhooks whose X-Twilio-Signature does not match
// the public URL and form body. An empty token disables the check.
func TwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	validator := client.NewRequestValidator(authToken)
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		if authToken == "" {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, vs := range c.Request.PostForm {
			if len(vs) > 0 {
				params[k] = vs[0]
			}
		}
		url := base + c.Request.URL.RequestURI()
		if !validator.Validate(url, params, c.GetHeader("X-Twilio-Signature")) {
			logger.FromGin(c).Warn("twilio signature rejected", "url", url, "err", ErrBadSignature)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
