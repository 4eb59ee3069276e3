package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var ErrInvalidRule = errors.New("rules: invalid rule")

// ValidateRule checks struct constraints plus the cross-field requirements
// of each routing type and after-hours action.
func ValidateRule(r RoutingRule) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	for _, w := range r.BusinessHours.Windows {
		if _, _, err := w.minutes(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	}

	switch r.RoutingType {
	case RoutingRoundRobin, RoutingSimultaneous, RoutingPriority:
		if len(r.TeamMembers) == 0 {
			return fmt.Errorf("%w: %s requires team_members", ErrInvalidRule, r.RoutingType)
		}
	case RoutingForward:
		if r.ForwardNumber == "" {
			return fmt.Errorf("%w: forward requires forward_number", ErrInvalidRule)
		}
	case RoutingIVR:
		if r.IVRMenuID == "" {
			return fmt.Errorf("%w: ivr requires ivr_menu_id", ErrInvalidRule)
		}
	}

	switch r.AfterHoursAction {
	case AfterHoursForward:
		if r.AfterHoursForwardNumber == "" && r.ForwardNumber == "" {
			return fmt.Errorf("%w: after-hours forward requires a forward number", ErrInvalidRule)
		}
	case AfterHoursIVR:
		if r.AfterHoursIVRMenuID == "" && r.IVRMenuID == "" {
			return fmt.Errorf("%w: after-hours ivr requires a menu", ErrInvalidRule)
		}
	}
	return nil
}

func ValidateHoliday(h Holiday) error {
	if err := validate.Struct(h); err != nil {
		return fmt.Errorf("rules: invalid holiday: %v", err)
	}
	switch h.Kind {
	case HolidayExact:
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return fmt.Errorf("rules: invalid holiday date %q", h.Date)
		}
	case HolidayYearly:
		if h.Month == 0 || h.Day == 0 {
			return errors.New("rules: yearly holiday requires month and day")
		}
	case HolidayNthWeekday:
		if h.Month == 0 || h.Nth == 0 {
			return errors.New("rules: nth_weekday holiday requires month and nth")
		}
	}
	for _, w := range h.Hours {
		if _, _, err := w.minutes(); err != nil {
			return err
		}
	}
	return nil
}

// NewSnapshot validates rules and holidays. Invalid rules are kept out of
// the snapshot and listed in Rejected; invalid holidays are dropped with them.
func NewSnapshot(companyID, defaultForward string, rules []RoutingRule, holidays []Holiday, now time.Time) Snapshot {
	s := Snapshot{CompanyID: companyID, DefaultForwardNumber: defaultForward, LoadedAt: now}
	for _, r := range rules {
		if r.CompanyID != companyID {
			continue
		}
		if err := ValidateRule(r); err != nil {
			s.Rejected = append(s.Rejected, RuleError{RuleID: r.ID, Err: err})
			continue
		}
		s.Rules = append(s.Rules, r)
	}
	for _, h := range holidays {
		if h.CompanyID != companyID {
			continue
		}
		if err := ValidateHoliday(h); err != nil {
			s.Rejected = append(s.Rejected, RuleError{RuleID: "holiday:" + h.ID, Err: err})
			continue
		}
		s.Holidays = append(s.Holidays, h)
	}
	return s
}
