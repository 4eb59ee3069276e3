package ivr

import (
	"errors"
	"testing"
	"time"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph([]Menu{
		{
			ID: "main", CompanyID: "co", Greeting: "Press 1 for sales, 2 for support, 9 to leave a message.",
			MaxRetries: 2, TimeoutSeconds: 5,
			TimeoutAction: TimeoutTransferRule, TimeoutRuleID: "reception",
			Options: map[string]Option{
				"1": {Action: OptionTransferRule, RuleID: "sales"},
				"2": {Action: OptionSubmenu, SubmenuID: "support"},
				"9": {Action: OptionVoicemail},
			},
		},
		{
			ID: "support", CompanyID: "co", ParentMenuID: "main", Greeting: "Press 1 for billing.",
			MaxRetries: 1,
			Options: map[string]Option{
				"1": {Action: OptionTransferRule, RuleID: "billing"},
				"#": {Action: OptionPlayHangup, Message: "Thanks for calling."},
			},
		},
	})
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	return g
}

func TestSession_ThreeInvalidInputsFireTimeoutAction(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	s, err := NewSession(testGraph(t), "main", now, 0)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	st := s.Start()
	if !st.Gather || st.Timeout != 5*time.Second || len(st.Prompts) != 1 {
		t.Fatalf("unexpected start step: %+v", st)
	}

	for i := 0; i < 2; i++ {
		st = s.Input("7", now)
		if st.Outcome != nil {
			t.Fatalf("attempt %d: timeout action fired too early", i+1)
		}
		if st.Prompts[0] != DefaultInvalidPrompt {
			t.Fatalf("expected invalid prompt, got %v", st.Prompts)
		}
	}
	st = s.Input("7", now)
	if st.Outcome == nil || st.Outcome.Kind != OutcomeTransferRule || st.Outcome.RuleID != "reception" {
		t.Fatalf("expected timeout action on third invalid input, got %+v", st.Outcome)
	}
	if st.Outcome.Reason != "retries_exhausted" {
		t.Fatalf("unexpected reason %q", st.Outcome.Reason)
	}
	if s.State() != StateTerminal {
		t.Fatalf("expected terminal state")
	}

	if st := s.Input("1", now); st.Outcome != nil || st.Gather {
		t.Fatalf("input after terminal must be ignored")
	}
}

func TestSession_TimeoutsAndInvalidShareBudget(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	s, _ := NewSession(testGraph(t), "main", now, 0)
	s.Start()

	s.Timeout(now)
	s.Input("5", now)
	st := s.Timeout(now)
	if st.Outcome == nil {
		t.Fatalf("expected timeout action after mixed failures")
	}
}

func TestSession_SubmenuResetsRetries(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	s, _ := NewSession(testGraph(t), "main", now, 0)
	s.Start()

	s.Input("4", now)
	s.Input("4", now)
	st := s.Input("2", now)
	if st.MenuID != "support" || !st.Gather {
		t.Fatalf("expected support submenu, got %+v", st)
	}
	if s.Failures() != 0 {
		t.Fatalf("expected retries reset, got %d", s.Failures())
	}

	// support has max_retries=1 and no timeout action: hang up politely.
	s.Input("0", now)
	st = s.Input("0", now)
	if st.Outcome == nil || st.Outcome.Kind != OutcomeHangup {
		t.Fatalf("expected hangup, got %+v", st.Outcome)
	}
	if len(st.Prompts) == 0 {
		t.Fatalf("hangup must play a message")
	}
	if got := s.Path(); len(got) != 2 || got[1] != "support" {
		t.Fatalf("unexpected path %v", got)
	}
}

func TestSession_Selections(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	s, _ := NewSession(testGraph(t), "main", now, 0)
	s.Start()
	if st := s.Input("1", now); st.Outcome == nil || st.Outcome.RuleID != "sales" {
		t.Fatalf("expected transfer to sales, got %+v", st.Outcome)
	}

	s, _ = NewSession(testGraph(t), "main", now, 0)
	s.Start()
	if st := s.Input("9", now); st.Outcome == nil || st.Outcome.Kind != OutcomeVoicemail {
		t.Fatalf("expected voicemail, got %+v", st.Outcome)
	}

	s, _ = NewSession(testGraph(t), "main", now, 0)
	s.Start()
	s.Input("2", now)
	st := s.Input("#", now)
	if st.Outcome == nil || st.Outcome.Kind != OutcomeHangup || st.Prompts[0] != "Thanks for calling." {
		t.Fatalf("expected play+hangup, got %+v", st)
	}
}

func TestSession_CeilingFiresTimeoutAction(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	s, _ := NewSession(testGraph(t), "main", start, 2*time.Minute)
	s.Start()
	if !s.Deadline().Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("unexpected deadline")
	}

	st := s.Input("1", start.Add(3*time.Minute))
	if st.Outcome == nil || st.Outcome.Reason != "max_duration" || st.Outcome.RuleID != "reception" {
		t.Fatalf("expected ceiling to fire timeout action, got %+v", st.Outcome)
	}

	s, _ = NewSession(testGraph(t), "main", start, time.Minute)
	s.Start()
	if st := s.Timeout(s.Deadline()); st.Outcome == nil || st.Outcome.Reason != "max_duration" {
		t.Fatalf("expected ceiling on timer firing at deadline, got %+v", st.Outcome)
	}
}

func TestNewGraph_RejectsBadConfig(t *testing.T) {
	cases := []struct {
		name  string
		menus []Menu
		want  error
	}{
		{
			name: "cycle",
			menus: []Menu{
				{ID: "a", CompanyID: "co", Options: map[string]Option{"1": {Action: OptionSubmenu, SubmenuID: "b"}}},
				{ID: "b", CompanyID: "co", Options: map[string]Option{"1": {Action: OptionSubmenu, SubmenuID: "a"}}},
			},
			want: ErrCycle,
		},
		{
			name: "self loop",
			menus: []Menu{
				{ID: "a", CompanyID: "co", Options: map[string]Option{"0": {Action: OptionSubmenu, SubmenuID: "a"}}},
			},
			want: ErrCycle,
		},
		{
			name: "parent cycle",
			menus: []Menu{
				{ID: "a", CompanyID: "co", ParentMenuID: "b"},
				{ID: "b", CompanyID: "co", ParentMenuID: "a"},
			},
			want: ErrCycle,
		},
		{
			name: "dangling submenu",
			menus: []Menu{
				{ID: "a", CompanyID: "co", Options: map[string]Option{"1": {Action: OptionSubmenu, SubmenuID: "zzz"}}},
			},
			want: ErrUnknownMenu,
		},
		{
			name: "bad key",
			menus: []Menu{
				{ID: "a", CompanyID: "co", Options: map[string]Option{"12": {Action: OptionVoicemail}}},
			},
			want: ErrInvalidKey,
		},
		{
			name: "transfer without rule",
			menus: []Menu{
				{ID: "a", CompanyID: "co", Options: map[string]Option{"1": {Action: OptionTransferRule}}},
			},
			want: ErrInvalidMenu,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewGraph(tc.menus); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNewSession_UnknownRoot(t *testing.T) {
	if _, err := NewSession(testGraph(t), "nope", time.Now(), 0); !errors.Is(err, ErrUnknownMenu) {
		t.Fatalf("expected ErrUnknownMenu, got %v", err)
	}
}
