package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"call-router/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NOTE: This repository assumes the following tables exist:
// - companies (id, default_forward_number)
// - phone_numbers (id, company_id, number)
// - routing_rules (team_members TEXT[], business_hours JSONB)
// - holidays (hours JSONB)
//
// Rules are written by the CRM; the router only reads them, except for
// routing_rules.current_index which it advances under a row lock.

type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, companyID string) (Snapshot, error) {
	if s.db == nil {
		return Snapshot{}, errors.New("rules: postgres not configured")
	}

	var defaultForward string
	const qCompany = `SELECT COALESCE(default_forward_number, '') FROM companies WHERE id = $1`
	if err := s.db.QueryRow(ctx, qCompany, companyID).Scan(&defaultForward); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("rules: load company: %w", err)
	}

	rules, err := s.loadRules(ctx, companyID)
	if err != nil {
		return Snapshot{}, err
	}
	holidays, err := s.loadHolidays(ctx, companyID)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(companyID, defaultForward, rules, holidays, s.now()), nil
}

func (s *PostgresStore) loadRules(ctx context.Context, companyID string) ([]RoutingRule, error) {
	const q = `
SELECT id, company_id, COALESCE(phone_number_id, ''), COALESCE(name, ''),
       routing_type, team_members, current_index, business_hours, timezone,
       after_hours_action, COALESCE(forward_number, ''), COALESCE(after_hours_forward_number, ''),
       COALESCE(ivr_menu_id, ''), COALESCE(after_hours_ivr_menu_id, ''),
       COALESCE(voicemail_greeting, ''), COALESCE(hold_message, ''),
       ring_timeout, max_ring_attempts, queue_enabled, queue_max_wait_seconds, queue_priority,
       is_active, version, updated_at, deleted_at
FROM routing_rules
WHERE company_id = $1 AND deleted_at IS NULL AND is_active
`
	rows, err := s.db.Query(ctx, q, companyID)
	if err != nil {
		return nil, fmt.Errorf("rules: query rules: %w", err)
	}
	defer rows.Close()

	var out []RoutingRule
	for rows.Next() {
		var (
			r                  RoutingRule
			routingType, ahAct string
		)
		if err := rows.Scan(
			&r.ID, &r.CompanyID, &r.PhoneNumberID, &r.Name,
			&routingType, &r.TeamMembers, &r.CurrentIndex, &r.BusinessHours, &r.Timezone,
			&ahAct, &r.ForwardNumber, &r.AfterHoursForwardNumber,
			&r.IVRMenuID, &r.AfterHoursIVRMenuID,
			&r.VoicemailGreeting, &r.HoldMessage,
			&r.RingTimeoutSeconds, &r.MaxRingAttempts, &r.QueueEnabled, &r.QueueMaxWaitSeconds, &r.QueuePriority,
			&r.IsActive, &r.Version, &r.UpdatedAt, &r.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("rules: scan rule: %w", err)
		}
		r.RoutingType = RoutingType(routingType)
		r.AfterHoursAction = AfterHoursAction(ahAct)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadHolidays(ctx context.Context, companyID string) ([]Holiday, error) {
	const q = `
SELECT id, company_id, COALESCE(rule_id, ''), name, kind, COALESCE(date::text, ''),
       COALESCE(month, 0), COALESCE(day, 0), COALESCE(weekday, 0), COALESCE(nth, 0),
       closed, COALESCE(hours, '[]'::jsonb), COALESCE(greeting, '')
FROM holidays
WHERE company_id = $1
`
	rows, err := s.db.Query(ctx, q, companyID)
	if err != nil {
		return nil, fmt.Errorf("rules: query holidays: %w", err)
	}
	defer rows.Close()

	var out []Holiday
	for rows.Next() {
		var (
			h                        Holiday
			kind                     string
			month, day, weekday, nth int
		)
		if err := rows.Scan(&h.ID, &h.CompanyID, &h.RuleID, &h.Name, &kind, &h.Date,
			&month, &day, &weekday, &nth, &h.Closed, &h.Hours, &h.Greeting); err != nil {
			return nil, fmt.Errorf("rules: scan holiday: %w", err)
		}
		h.Kind = HolidayKind(kind)
		h.Month = time.Month(month)
		h.Day = day
		h.Weekday = time.Weekday(weekday)
		h.Nth = nth
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LookupNumber(ctx context.Context, number string) (NumberBinding, error) {
	const q = `SELECT number, company_id, id FROM phone_numbers WHERE number = $1`
	var b NumberBinding
	if err := s.db.QueryRow(ctx, q, number).Scan(&b.Number, &b.CompanyID, &b.PhoneNumberID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NumberBinding{}, ErrUnknownNumber
		}
		return NumberBinding{}, fmt.Errorf("rules: lookup number: %w", err)
	}
	return b, nil
}

// PostgresCursor serializes round-robin advancement with a row lock on the
// rule, so concurrent router instances never hand out the same slot.
type PostgresCursor struct {
	db *pgxpool.Pool
}

func NewPostgresCursor(db *pgxpool.Pool) *PostgresCursor {
	return &PostgresCursor{db: db}
}

func (c *PostgresCursor) Advance(ctx context.Context, rule RoutingRule, pick func(start int) (int, bool, error)) (int, bool, error) {
	n := len(rule.TeamMembers)
	if n == 0 {
		return 0, false, nil
	}
	var (
		chosen int
		picked bool
	)
	err := utils.WithTx(ctx, c.db, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		const qLock = `SELECT current_index FROM routing_rules WHERE id = $1 FOR UPDATE`
		var idx int
		if err := tx.QueryRow(ctx, qLock, rule.ID).Scan(&idx); err != nil {
			return fmt.Errorf("rules: lock cursor: %w", err)
		}

		var err error
		chosen, picked, err = pick(mod(idx, n))
		if err != nil || !picked {
			return err
		}

		const qUpdate = `UPDATE routing_rules SET current_index = $2 WHERE id = $1`
		if _, err := tx.Exec(ctx, qUpdate, rule.ID, mod(chosen+1, n)); err != nil {
			return fmt.Errorf("rules: advance cursor: %w", err)
		}
		return nil
	})
	// A failed commit after a successful pick still reports the pick, so the
	// caller can release what it reserved.
	return chosen, picked, err
}
