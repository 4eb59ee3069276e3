package rules

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"
)

func weekdayHours(open, close string) BusinessHours {
	var b BusinessHours
	for d := time.Monday; d <= time.Friday; d++ {
		b.Windows = append(b.Windows, DayWindow{Day: d, Open: open, Close: close})
	}
	return b
}

func baseRule() RoutingRule {
	return RoutingRule{
		ID:               "r1",
		CompanyID:        "co",
		PhoneNumberID:    "pn1",
		RoutingType:      RoutingRoundRobin,
		TeamMembers:      []string{"A", "B", "C"},
		BusinessHours:    weekdayHours("09:00", "17:00"),
		Timezone:         "America/New_York",
		AfterHoursAction: AfterHoursVoicemail,
		IsActive:         true,
	}
}

func snapshotOf(rules []RoutingRule, holidays ...Holiday) Snapshot {
	return NewSnapshot("co", "+15550000000", rules, holidays, time.Time{})
}

func TestResolve_BusinessHoursInRuleTimezone(t *testing.T) {
	snap := snapshotOf([]RoutingRule{baseRule()})

	// Tuesday 2025-03-11 14:00 UTC == 10:00 EDT.
	res, err := Resolve(snap, "pn1", time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.Open || res.Plan != PlanRoundRobin || res.Source != SourceBusinessHours {
		t.Fatalf("expected open round robin, got %+v", res)
	}

	// Tuesday 2025-03-11 22:30 UTC == 18:30 EDT.
	res, err = Resolve(snap, "pn1", time.Date(2025, 3, 11, 22, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Open || res.Plan != PlanVoicemail {
		t.Fatalf("expected after-hours voicemail, got %+v", res)
	}
	if res.Plan.UsesAgents() {
		t.Fatalf("voicemail plan must not use agents")
	}
}

func TestResolve_OvernightWindow(t *testing.T) {
	r := baseRule()
	r.Timezone = "UTC"
	r.BusinessHours = BusinessHours{Windows: []DayWindow{{Day: time.Friday, Open: "22:00", Close: "06:00"}}}
	snap := snapshotOf([]RoutingRule{r})

	// Saturday 2025-03-15 03:00 is inside Friday's overnight window.
	res, _ := Resolve(snap, "pn1", time.Date(2025, 3, 15, 3, 0, 0, 0, time.UTC))
	if !res.Open {
		t.Fatalf("expected open during overnight window")
	}
	res, _ = Resolve(snap, "pn1", time.Date(2025, 3, 15, 7, 0, 0, 0, time.UTC))
	if res.Open {
		t.Fatalf("expected closed after overnight window")
	}
}

func TestResolve_EmptyHoursAlwaysOpen(t *testing.T) {
	r := baseRule()
	r.BusinessHours = BusinessHours{}
	res, err := Resolve(snapshotOf([]RoutingRule{r}), "pn1", time.Date(2025, 3, 16, 3, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.Open || res.Source != SourceAlwaysOpen {
		t.Fatalf("expected always open, got %+v", res)
	}
}

func TestResolve_HolidayPrecedence(t *testing.T) {
	r := baseRule()
	christmas := time.Date(2025, 12, 25, 15, 0, 0, 0, time.UTC) // Thursday, 10:00 EST

	yearly := Holiday{ID: "h1", CompanyID: "co", Kind: HolidayYearly, Month: time.December, Day: 25, Closed: true, Greeting: "yearly"}
	exact := Holiday{ID: "h2", CompanyID: "co", Kind: HolidayExact, Date: "2025-12-25", Closed: true, Greeting: "exact"}
	scoped := Holiday{ID: "h3", CompanyID: "co", RuleID: "r1", Kind: HolidayYearly, Month: time.December, Day: 25, Closed: true, Greeting: "scoped"}
	other := Holiday{ID: "h4", CompanyID: "co", RuleID: "other", Kind: HolidayExact, Date: "2025-12-25", Closed: true, Greeting: "other"}

	res, err := Resolve(snapshotOf([]RoutingRule{r}, yearly, exact, scoped, other), "pn1", christmas)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Holiday == nil || res.Greeting != "exact" {
		t.Fatalf("expected exact holiday to win, got %+v", res.Holiday)
	}
	if res.Open || res.Source != SourceHoliday {
		t.Fatalf("expected closed by holiday")
	}

	res, _ = Resolve(snapshotOf([]RoutingRule{r}, yearly, scoped, other), "pn1", christmas)
	if res.Greeting != "scoped" {
		t.Fatalf("expected rule-scoped yearly to beat company yearly, got %q", res.Greeting)
	}
}

func TestResolve_HolidaySpecialHours(t *testing.T) {
	r := baseRule()
	eve := Holiday{ID: "h", CompanyID: "co", Kind: HolidayExact, Date: "2025-12-24", Hours: []DayWindow{{Open: "09:00", Close: "12:00"}}}
	snap := snapshotOf([]RoutingRule{r}, eve)

	res, _ := Resolve(snap, "pn1", time.Date(2025, 12, 24, 15, 0, 0, 0, time.UTC)) // 10:00 EST
	if !res.Open {
		t.Fatalf("expected open during special hours")
	}
	res, _ = Resolve(snap, "pn1", time.Date(2025, 12, 24, 18, 0, 0, 0, time.UTC)) // 13:00 EST
	if res.Open {
		t.Fatalf("expected closed after special hours")
	}
}

func TestHoliday_NthWeekday(t *testing.T) {
	thanksgiving := Holiday{Kind: HolidayNthWeekday, Month: time.November, Weekday: time.Thursday, Nth: 4}
	if !thanksgiving.Matches(time.Date(2025, 11, 27, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2025-11-27 to match")
	}
	if thanksgiving.Matches(time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("3rd thursday must not match")
	}

	memorial := Holiday{Kind: HolidayNthWeekday, Month: time.May, Weekday: time.Monday, Nth: -1}
	if !memorial.Matches(time.Date(2025, 5, 26, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected last monday of may")
	}
	if memorial.Matches(time.Date(2025, 5, 19, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected non-last monday to miss")
	}
}

func TestResolve_AfterHoursActions(t *testing.T) {
	night := time.Date(2025, 3, 12, 4, 0, 0, 0, time.UTC)

	fwd := baseRule()
	fwd.AfterHoursAction = AfterHoursForward
	fwd.AfterHoursForwardNumber = "+15551112222"
	res, err := Resolve(snapshotOf([]RoutingRule{fwd}), "pn1", night)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Plan != PlanForward || res.ForwardNumber != "+15551112222" {
		t.Fatalf("expected after-hours forward, got %+v", res)
	}

	ivr := baseRule()
	ivr.AfterHoursAction = AfterHoursIVR
	ivr.AfterHoursIVRMenuID = "night-menu"
	res, _ = Resolve(snapshotOf([]RoutingRule{ivr}), "pn1", night)
	if res.Plan != PlanIVR || res.IVRMenuID != "night-menu" {
		t.Fatalf("expected after-hours ivr, got %+v", res)
	}
}

func TestResolve_RuleSelection(t *testing.T) {
	at := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)

	wide := baseRule()
	wide.ID = "wide"
	wide.PhoneNumberID = ""
	bound := baseRule()

	res, err := Resolve(snapshotOf([]RoutingRule{wide, bound}), "pn1", at)
	if err != nil || res.Rule.ID != "r1" {
		t.Fatalf("expected number-bound rule, got %v %v", res.Rule.ID, err)
	}
	res, err = Resolve(snapshotOf([]RoutingRule{wide, bound}), "pn2", at)
	if err != nil || res.Rule.ID != "wide" {
		t.Fatalf("expected company-wide fallback, got %v %v", res.Rule.ID, err)
	}

	dup := baseRule()
	dup.ID = "r2"
	_, err = Resolve(snapshotOf([]RoutingRule{bound, dup}), "pn1", at)
	if !errors.Is(err, ErrAmbiguousRule) {
		t.Fatalf("expected ambiguous rule error, got %v", err)
	}

	inactive := baseRule()
	inactive.IsActive = false
	deleted := baseRule()
	deleted.ID = "r3"
	now := at
	deleted.DeletedAt = &now
	_, err = Resolve(snapshotOf([]RoutingRule{inactive, deleted}), "pn1", at)
	var noRule *NoActiveRuleError
	if !errors.As(err, &noRule) {
		t.Fatalf("expected NoActiveRuleError, got %v", err)
	}
	if noRule.CompanyID != "co" || noRule.PhoneNumberID != "pn1" {
		t.Fatalf("unexpected error fields: %+v", noRule)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	snap := snapshotOf([]RoutingRule{baseRule()})
	at := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)
	a, _ := Resolve(snap, "pn1", at)
	b, _ := Resolve(snap, "pn1", at)
	if a.Open != b.Open || a.Plan != b.Plan || a.Rule.ID != b.Rule.ID {
		t.Fatalf("resolution must be deterministic")
	}
}
