package telephony

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// TwiML builds a Twilio Markup Language response. Verbs render in the
// order they are added.
type TwiML struct {
	verbs []any
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlGather struct {
	XMLName   xml.Name `xml:"Gather"`
	Input     string   `xml:"input,attr,omitempty"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Timeout   int      `xml:"timeout,attr,omitempty"`
	Action    string   `xml:"action,attr,omitempty"`
	Method    string   `xml:"method,attr,omitempty"`
	Verbs     []any    `xml:",any"`
}

type twimlDial struct {
	XMLName    xml.Name         `xml:"Dial"`
	Timeout    int              `xml:"timeout,attr,omitempty"`
	Action     string           `xml:"action,attr,omitempty"`
	Number     string           `xml:"Number,omitempty"`
	Sip        *twimlSip        `xml:"Sip,omitempty"`
	Conference *twimlConference `xml:"Conference,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

type twimlConference struct {
	Name                   string `xml:",chardata"`
	StartConferenceOnEnter bool   `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit    bool   `xml:"endConferenceOnExit,attr"`
	Beep                   bool   `xml:"beep,attr"`
}

type twimlRecord struct {
	XMLName   xml.Name `xml:"Record"`
	Action    string   `xml:"action,attr,omitempty"`
	MaxLength int      `xml:"maxLength,attr,omitempty"`
	PlayBeep  bool     `xml:"playBeep,attr"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func NewTwiML() *TwiML { return &TwiML{} }

// Prompt adds a Play for URLs and a Say for anything else.
func (t *TwiML) Prompt(p string) *TwiML {
	if p = strings.TrimSpace(p); p == "" {
		return t
	}
	t.verbs = append(t.verbs, promptVerb(p))
	return t
}

func promptVerb(p string) any {
	lp := strings.ToLower(p)
	if strings.HasPrefix(lp, "http://") || strings.HasPrefix(lp, "https://") {
		return twimlPlay{URL: p}
	}
	return twimlSay{Text: p}
}

func (t *TwiML) Pause(seconds int) *TwiML {
	t.verbs = append(t.verbs, twimlPause{Length: seconds})
	return t
}

// GatherDigit plays prompts while collecting a single DTMF digit.
func (t *TwiML) GatherDigit(prompts []string, timeoutSeconds int, action string) *TwiML {
	g := twimlGather{Input: "dtmf", NumDigits: 1, Timeout: timeoutSeconds, Action: action, Method: "POST"}
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			g.Verbs = append(g.Verbs, promptVerb(p))
		}
	}
	t.verbs = append(t.verbs, g)
	return t
}

// Dial connects to a PSTN number, or a SIP URI when target starts with sip:.
func (t *TwiML) Dial(target string, timeoutSeconds int, action string) *TwiML {
	d := twimlDial{Timeout: timeoutSeconds, Action: action}
	if strings.HasPrefix(strings.ToLower(target), "sip:") {
		d.Sip = &twimlSip{URI: target}
	} else {
		d.Number = target
	}
	t.verbs = append(t.verbs, d)
	return t
}

// Conference joins the call to a named room. The room ends when a member
// with endOnExit leaves.
func (t *TwiML) Conference(name string, endOnExit bool) *TwiML {
	t.verbs = append(t.verbs, twimlDial{Conference: &twimlConference{
		Name:                   name,
		StartConferenceOnEnter: true,
		EndConferenceOnExit:    endOnExit,
	}})
	return t
}

func (t *TwiML) Record(action string, maxLengthSeconds int) *TwiML {
	t.verbs = append(t.verbs, twimlRecord{Action: action, MaxLength: maxLengthSeconds, PlayBeep: true})
	return t
}

func (t *TwiML) Reject(reason string) *TwiML {
	t.verbs = append(t.verbs, twimlReject{Reason: reason})
	return t
}

func (t *TwiML) Hangup() *TwiML {
	t.verbs = append(t.verbs, twimlHangup{})
	return t
}

func (t *TwiML) Empty() bool { return len(t.verbs) == 0 }

// String renders the document with an XML header.
func (t *TwiML) String() (string, error) {
	r := twimlResponse{Verbs: t.verbs}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
