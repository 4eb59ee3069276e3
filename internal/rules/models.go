package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RoutingRule is a company-scoped routing configuration.
//
// A rule with an empty PhoneNumberID applies company-wide and is only used
// when no rule is bound to the dialed number. Soft-deleted or inactive rules
// never match.
type RoutingRule struct {
	ID            string `json:"id" db:"id" validate:"required"`
	CompanyID     string `json:"company_id" db:"company_id" validate:"required"`
	PhoneNumberID string `json:"phone_number_id,omitempty" db:"phone_number_id"`
	Name          string `json:"name,omitempty" db:"name"`

	RoutingType RoutingType `json:"routing_type" db:"routing_type" validate:"required,oneof=round_robin simultaneous priority forward ivr"`

	// TeamMembers is the ordered agent list; order matters for round_robin and priority.
	TeamMembers []string `json:"team_members" db:"team_members" validate:"dive,required"`
	// CurrentIndex is the round-robin cursor. Only the Cursor mutates it.
	CurrentIndex int `json:"current_index" db:"current_index" validate:"gte=0"`

	BusinessHours BusinessHours `json:"business_hours" db:"business_hours"`
	Timezone      string        `json:"timezone" db:"timezone" validate:"required,timezone"`

	AfterHoursAction        AfterHoursAction `json:"after_hours_action" db:"after_hours_action" validate:"required,oneof=forward voicemail ivr"`
	ForwardNumber           string           `json:"forward_number,omitempty" db:"forward_number" validate:"omitempty,e164"`
	AfterHoursForwardNumber string           `json:"after_hours_forward_number,omitempty" db:"after_hours_forward_number" validate:"omitempty,e164"`
	IVRMenuID               string           `json:"ivr_menu_id,omitempty" db:"ivr_menu_id"`
	AfterHoursIVRMenuID     string           `json:"after_hours_ivr_menu_id,omitempty" db:"after_hours_ivr_menu_id"`
	VoicemailGreeting       string           `json:"voicemail_greeting,omitempty" db:"voicemail_greeting"`
	HoldMessage             string           `json:"hold_message,omitempty" db:"hold_message"`

	RingTimeoutSeconds int `json:"ring_timeout" db:"ring_timeout" validate:"gte=0,lte=600"`
	// MaxRingAttempts caps how many agents are tried before falling back.
	MaxRingAttempts int `json:"max_ring_attempts" db:"max_ring_attempts" validate:"gte=0"`

	QueueEnabled        bool `json:"queue_enabled" db:"queue_enabled"`
	QueueMaxWaitSeconds int  `json:"queue_max_wait_seconds" db:"queue_max_wait_seconds" validate:"gte=0"`
	QueuePriority       int  `json:"queue_priority" db:"queue_priority"`

	IsActive  bool       `json:"is_active" db:"is_active"`
	Version   int64      `json:"version" db:"version"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

type RoutingType string

const (
	RoutingRoundRobin   RoutingType = "round_robin"
	RoutingSimultaneous RoutingType = "simultaneous"
	RoutingPriority     RoutingType = "priority"
	RoutingForward      RoutingType = "forward"
	RoutingIVR          RoutingType = "ivr"
)

type AfterHoursAction string

const (
	AfterHoursForward   AfterHoursAction = "forward"
	AfterHoursVoicemail AfterHoursAction = "voicemail"
	AfterHoursIVR       AfterHoursAction = "ivr"
)

// Live reports whether the rule may match at all.
func (r RoutingRule) Live() bool {
	return r.IsActive && r.DeletedAt == nil
}

// RingTimeout returns the configured ring timeout or def when unset.
func (r RoutingRule) RingTimeout(def time.Duration) time.Duration {
	if r.RingTimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(r.RingTimeoutSeconds) * time.Second
}

// Location loads the rule timezone, falling back to UTC.
func (r RoutingRule) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BusinessHours holds per-weekday opening windows. A window whose close is
// not after its open runs past midnight into the next day.
type BusinessHours struct {
	Windows []DayWindow `json:"windows" validate:"dive"`
}

type DayWindow struct {
	Day   time.Weekday `json:"day" validate:"gte=0,lte=6"`
	Open  string       `json:"open" validate:"required"`
	Close string       `json:"close" validate:"required"`
}

// Empty reports a rule without any configured hours; such rules are always open.
func (b BusinessHours) Empty() bool { return len(b.Windows) == 0 }

// OpenAt evaluates the windows against a wall-clock time already converted
// into the rule timezone.
func (b BusinessHours) OpenAt(local time.Time) bool {
	minute := local.Hour()*60 + local.Minute()
	day := local.Weekday()
	prev := (day + 6) % 7
	for _, w := range b.Windows {
		open, close, err := w.minutes()
		if err != nil {
			continue
		}
		if close > open {
			if w.Day == day && minute >= open && minute < close {
				return true
			}
			continue
		}
		if w.Day == day && minute >= open {
			return true
		}
		if w.Day == prev && minute < close {
			return true
		}
	}
	return false
}

func (w DayWindow) minutes() (int, int, error) {
	open, err := parseClock(w.Open)
	if err != nil {
		return 0, 0, err
	}
	close, err := parseClock(w.Close)
	if err != nil {
		return 0, 0, err
	}
	return open, close, nil
}

// parseClock parses "HH:MM" (00:00..24:00) into minutes past midnight.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("rules: invalid clock %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("rules: invalid clock %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("rules: invalid clock %q", s)
	}
	if hh < 0 || hh > 24 || mm < 0 || mm > 59 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("rules: invalid clock %q", s)
	}
	return hh*60 + mm, nil
}

// Holiday overrides business hours for one calendar day.
type Holiday struct {
	ID        string `json:"id" db:"id" validate:"required"`
	CompanyID string `json:"company_id" db:"company_id" validate:"required"`
	// RuleID scopes the holiday to a single rule; empty means company-wide.
	RuleID string `json:"rule_id,omitempty" db:"rule_id"`
	Name   string `json:"name" db:"name"`

	Kind HolidayKind `json:"kind" db:"kind" validate:"required,oneof=exact yearly nth_weekday"`
	// Date is used by exact holidays (YYYY-MM-DD).
	Date string `json:"date,omitempty" db:"date"`
	// Month and Day are used by yearly holidays; Month also by nth_weekday.
	Month time.Month `json:"month,omitempty" db:"month" validate:"gte=0,lte=12"`
	Day   int        `json:"day,omitempty" db:"day" validate:"gte=0,lte=31"`
	// Weekday and Nth describe nth_weekday holidays. Nth=-1 means the last one in the month.
	Weekday time.Weekday `json:"weekday,omitempty" db:"weekday" validate:"gte=0,lte=6"`
	Nth     int          `json:"nth,omitempty" db:"nth" validate:"gte=-1,lte=5"`

	// Closed means closed all day. Otherwise Hours are the special opening hours.
	Closed   bool        `json:"closed" db:"closed"`
	Hours    []DayWindow `json:"hours,omitempty" db:"hours" validate:"dive"`
	Greeting string      `json:"greeting,omitempty" db:"greeting"`
}

type HolidayKind string

const (
	HolidayExact      HolidayKind = "exact"
	HolidayYearly     HolidayKind = "yearly"
	HolidayNthWeekday HolidayKind = "nth_weekday"
)

// Matches reports whether the holiday falls on local's calendar date.
func (h Holiday) Matches(local time.Time) bool {
	switch h.Kind {
	case HolidayExact:
		d, err := time.ParseInLocation("2006-01-02", h.Date, local.Location())
		if err != nil {
			return false
		}
		y1, m1, d1 := d.Date()
		y2, m2, d2 := local.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	case HolidayYearly:
		return local.Month() == h.Month && local.Day() == h.Day
	case HolidayNthWeekday:
		if local.Month() != h.Month || local.Weekday() != h.Weekday {
			return false
		}
		if h.Nth == -1 {
			return local.AddDate(0, 0, 7).Month() != local.Month()
		}
		return (local.Day()-1)/7+1 == h.Nth
	default:
		return false
	}
}

// OpenAt applies the holiday's special hours. The windows' Day field is ignored;
// they all apply to the holiday date.
func (h Holiday) OpenAt(local time.Time) bool {
	if h.Closed {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	for _, w := range h.Hours {
		open, close, err := w.minutes()
		if err != nil {
			continue
		}
		if minute >= open && (minute < close || close <= open) {
			return true
		}
	}
	return false
}

// specificity orders holidays matching the same date: exact beats yearly
// beats nth-weekday, and a rule-scoped holiday beats a company-wide one.
func (h Holiday) specificity() int {
	score := 0
	switch h.Kind {
	case HolidayExact:
		score = 30
	case HolidayYearly:
		score = 20
	case HolidayNthWeekday:
		score = 10
	}
	if h.RuleID != "" {
		score++
	}
	return score
}

// NumberBinding maps a dialed number to the company that owns it.
type NumberBinding struct {
	Number        string `json:"number" db:"number"`
	CompanyID     string `json:"company_id" db:"company_id"`
	PhoneNumberID string `json:"phone_number_id" db:"phone_number_id"`
}

// Snapshot is the immutable per-company configuration view used for resolution.
type Snapshot struct {
	CompanyID string
	// DefaultForwardNumber is dialed when no rule resolves.
	DefaultForwardNumber string
	Rules                []RoutingRule
	Holidays             []Holiday
	LoadedAt             time.Time

	// Rejected holds rules that failed validation and were left out of Rules.
	Rejected []RuleError
}

// Rule returns the live rule with id.
func (s Snapshot) Rule(id string) (RoutingRule, bool) {
	for _, r := range s.Rules {
		if r.ID == id && r.Live() {
			return r, true
		}
	}
	return RoutingRule{}, false
}

type RuleError struct {
	RuleID string
	Err    error
}

func (e RuleError) Error() string { return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err) }

func (e RuleError) Unwrap() error { return e.Err }
