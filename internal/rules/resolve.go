package rules

import (
	"errors"
	"fmt"
	"time"
)

// NoActiveRuleError means no live rule matched the dialed number, neither a
// number-bound rule nor a company-wide one.
type NoActiveRuleError struct {
	CompanyID     string
	PhoneNumberID string
}

func (e *NoActiveRuleError) Error() string {
	return fmt.Sprintf("rules: no active rule for company %s number %s", e.CompanyID, e.PhoneNumberID)
}

// ErrAmbiguousRule is returned when two live rules tie for the same number.
// It is a configuration error and is never resolved by picking one.
var ErrAmbiguousRule = errors.New("rules: more than one active rule matches")

// PlanKind is the concrete action chosen for a call after hours evaluation.
type PlanKind string

const (
	PlanRoundRobin   PlanKind = "round_robin"
	PlanSimultaneous PlanKind = "simultaneous"
	PlanPriority     PlanKind = "priority"
	PlanForward      PlanKind = "forward"
	PlanIVR          PlanKind = "ivr"
	PlanVoicemail    PlanKind = "voicemail"
)

// UsesAgents reports whether the plan rings team members and therefore
// touches agent availability.
func (k PlanKind) UsesAgents() bool {
	return k == PlanRoundRobin || k == PlanSimultaneous || k == PlanPriority
}

type Source string

const (
	SourceBusinessHours Source = "business_hours"
	SourceHoliday       Source = "holiday"
	SourceAlwaysOpen    Source = "always_open"
)

// Resolution is the result of resolving a dialed number at an instant.
type Resolution struct {
	Rule      RoutingRule
	Open      bool
	Source    Source
	Holiday   *Holiday
	LocalTime time.Time

	Plan          PlanKind
	ForwardNumber string
	IVRMenuID     string
	// Greeting is the holiday greeting, if one applies.
	Greeting string
}

// Resolve picks the rule for phoneNumberID and evaluates opening hours at
// instant at. It is pure: the same snapshot and instant always produce the
// same result.
func Resolve(s Snapshot, phoneNumberID string, at time.Time) (Resolution, error) {
	rule, err := selectRule(s, phoneNumberID)
	if err != nil {
		return Resolution{}, err
	}
	return ResolveRule(s, rule, at), nil
}

// ResolveRule evaluates hours for a known rule, as when an IVR option
// transfers the caller to it.
func ResolveRule(s Snapshot, rule RoutingRule, at time.Time) Resolution {
	local := at.In(rule.Location())
	res := Resolution{Rule: rule, LocalTime: local}

	if h := matchHoliday(s.Holidays, rule.ID, local); h != nil {
		res.Holiday = h
		res.Source = SourceHoliday
		res.Greeting = h.Greeting
		res.Open = h.OpenAt(local)
	} else if rule.BusinessHours.Empty() {
		res.Source = SourceAlwaysOpen
		res.Open = true
	} else {
		res.Source = SourceBusinessHours
		res.Open = rule.BusinessHours.OpenAt(local)
	}

	if res.Open {
		res.Plan = PlanKind(rule.RoutingType)
		res.ForwardNumber = rule.ForwardNumber
		res.IVRMenuID = rule.IVRMenuID
		return res
	}

	switch rule.AfterHoursAction {
	case AfterHoursForward:
		res.Plan = PlanForward
		res.ForwardNumber = firstNonEmpty(rule.AfterHoursForwardNumber, rule.ForwardNumber)
	case AfterHoursIVR:
		res.Plan = PlanIVR
		res.IVRMenuID = firstNonEmpty(rule.AfterHoursIVRMenuID, rule.IVRMenuID)
	default:
		res.Plan = PlanVoicemail
	}
	return res
}

func selectRule(s Snapshot, phoneNumberID string) (RoutingRule, error) {
	var bound, wide []RoutingRule
	for _, r := range s.Rules {
		if !r.Live() || r.CompanyID != s.CompanyID {
			continue
		}
		switch {
		case phoneNumberID != "" && r.PhoneNumberID == phoneNumberID:
			bound = append(bound, r)
		case r.PhoneNumberID == "":
			wide = append(wide, r)
		}
	}

	for _, set := range [][]RoutingRule{bound, wide} {
		switch len(set) {
		case 0:
			continue
		case 1:
			return set[0], nil
		default:
			return RoutingRule{}, fmt.Errorf("%w: company %s number %s (%s, %s)", ErrAmbiguousRule, s.CompanyID, phoneNumberID, set[0].ID, set[1].ID)
		}
	}
	return RoutingRule{}, &NoActiveRuleError{CompanyID: s.CompanyID, PhoneNumberID: phoneNumberID}
}

func matchHoliday(hs []Holiday, ruleID string, local time.Time) *Holiday {
	var best *Holiday
	for i := range hs {
		h := hs[i]
		if h.RuleID != "" && h.RuleID != ruleID {
			continue
		}
		if !h.Matches(local) {
			continue
		}
		if best == nil || h.specificity() > best.specificity() {
			best = &hs[i]
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
