package telephony

import (
	"strings"
	"testing"
)

func TestTwiML_Reject(t *testing.T) {
	xml, err := NewTwiML().Reject("busy").String()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := `<Reject reason="busy">`; !strings.Contains(xml, want) {
		t.Fatalf("expected %q in xml: %s", want, xml)
	}
}

func TestTwiML_PromptPicksSayOrPlay(t *testing.T) {
	xml, err := NewTwiML().
		Prompt("Welcome").
		Prompt("https://cdn.example.com/hold.mp3").
		Prompt("   ").
		String()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(xml, "<Say>Welcome</Say>") {
		t.Fatalf("expected Say: %s", xml)
	}
	if !strings.Contains(xml, "<Play>https://cdn.example.com/hold.mp3</Play>") {
		t.Fatalf("expected Play: %s", xml)
	}
	if strings.Count(xml, "<Say>") != 1 {
		t.Fatalf("blank prompt must be skipped: %s", xml)
	}
}

func TestTwiML_GatherNestsPrompts(t *testing.T) {
	xml, err := NewTwiML().GatherDigit([]string{"Press 1 for sales"}, 5, "/webhooks/twilio/gather").Pause(30).String()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{`numDigits="1"`, `timeout="5"`, `action="/webhooks/twilio/gather"`, "<Say>Press 1 for sales</Say>", `<Pause length="30">`} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Index(xml, "<Say>") < strings.Index(xml, "<Gather") {
		t.Fatalf("prompt should be inside Gather: %s", xml)
	}
}

func TestTwiML_DialTargets(t *testing.T) {
	xml, _ := NewTwiML().Dial("+15551234567", 20, "").String()
	if !strings.Contains(xml, "<Number>+15551234567</Number>") || !strings.Contains(xml, `timeout="20"`) {
		t.Fatalf("unexpected dial: %s", xml)
	}

	xml, _ = NewTwiML().Dial("sip:agent@pbx.example.com", 0, "").String()
	if !strings.Contains(xml, "<Sip>sip:agent@pbx.example.com</Sip>") {
		t.Fatalf("expected sip: %s", xml)
	}

	xml, _ = NewTwiML().Conference("CA123", true).String()
	if !strings.Contains(xml, `endConferenceOnExit="true"`) || !strings.Contains(xml, ">CA123</Conference>") {
		t.Fatalf("unexpected conference: %s", xml)
	}
}

func TestTwiML_Empty(t *testing.T) {
	doc := NewTwiML()
	if !doc.Empty() {
		t.Fatalf("expected empty")
	}
	doc.Hangup()
	if doc.Empty() {
		t.Fatalf("expected verbs")
	}
}
