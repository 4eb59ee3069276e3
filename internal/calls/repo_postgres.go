package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) InsertCallLog(ctx context.Context, c CallLog) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO call_logs (
  id, call_leg_id, company_id, phone_number_id, rule_id, from_number, to_number,
  status, outcome, plan, agent_id, forwarded_to, hangup_cause,
  ring_attempts, queue_wait_seconds, ivr_path,
  started_at, answered_at, ended_at, duration_seconds, recording_url
) VALUES (
  $1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7,
  $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''),
  $14, $15, $16,
  $17, $18, $19, $20, NULLIF($21, '')
)`,
		c.ID, c.CallLegID, c.CompanyID, c.PhoneNumberID, c.RuleID, c.From, c.To,
		string(c.Status), string(c.Outcome), c.Plan, c.AgentID, c.ForwardedTo, c.HangupCause,
		c.RingAttempts, c.QueueWaitSeconds, c.IVRPath,
		c.StartedAt, c.AnsweredAt, c.EndedAt, c.DurationSeconds, c.RecordingURL,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyLogged
	}
	if err != nil {
		return fmt.Errorf("calls: insert call log: %w", err)
	}
	return nil
}

func (r *PostgresRepo) InsertVoicemail(ctx context.Context, v Voicemail) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO voicemails (id, call_leg_id, company_id, rule_id, from_number, recording_url, duration_seconds, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8)
ON CONFLICT (call_leg_id) DO UPDATE SET
  id = EXCLUDED.id,
  company_id = EXCLUDED.company_id,
  rule_id = EXCLUDED.rule_id,
  from_number = EXCLUDED.from_number,
  created_at = EXCLUDED.created_at`,
		v.ID, v.CallLegID, v.CompanyID, v.RuleID, v.From, v.RecordingURL, v.DurationSeconds, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calls: insert voicemail: %w", err)
	}
	return nil
}

// AttachRecording stores the recording even when it arrives before the
// voicemail row; the later insert keeps it.
func (r *PostgresRepo) AttachRecording(ctx context.Context, callLegID, url string, duration time.Duration) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO voicemails (id, call_leg_id, company_id, from_number, recording_url, duration_seconds, created_at)
VALUES (gen_random_uuid(), $1, '', '', $2, $3, now())
ON CONFLICT (call_leg_id) DO UPDATE SET recording_url = EXCLUDED.recording_url, duration_seconds = EXCLUDED.duration_seconds`,
		callLegID, url, int(duration/time.Second),
	)
	if err != nil {
		return fmt.Errorf("calls: attach recording: %w", err)
	}
	return nil
}

func (r *PostgresRepo) UpsertQueueRecord(ctx context.Context, q QueueRecord) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO call_queue (id, company_id, rule_id, call_leg_id, queue_position, priority, queued_at, status, assigned_team_member_id, reason, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  assigned_team_member_id = EXCLUDED.assigned_team_member_id,
  reason = EXCLUDED.reason,
  ended_at = EXCLUDED.ended_at`,
		q.ID, q.CompanyID, q.RuleID, q.CallLegID, q.Position, q.Priority, q.QueuedAt, q.Status, q.AssignedAgentID, q.Reason, q.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("calls: upsert queue record: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListCallLogs(ctx context.Context, companyID string, from, to time.Time) ([]CallLog, error) {
	if companyID == "" {
		return nil, errors.New("company_id required")
	}
	rows, err := r.db.Query(ctx, `
SELECT id, call_leg_id, company_id, COALESCE(phone_number_id, ''), COALESCE(rule_id, ''), from_number, to_number,
       status, outcome, plan, COALESCE(agent_id, ''), COALESCE(forwarded_to, ''), COALESCE(hangup_cause, ''),
       ring_attempts, queue_wait_seconds, COALESCE(ivr_path, '{}'),
       started_at, answered_at, ended_at, duration_seconds, COALESCE(recording_url, '')
FROM call_logs
WHERE company_id = $1 AND started_at >= $2 AND started_at < $3
ORDER BY started_at`, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("calls: list call logs: %w", err)
	}
	defer rows.Close()

	out := make([]CallLog, 0)
	for rows.Next() {
		var (
			c               CallLog
			status, outcome string
		)
		if err := rows.Scan(
			&c.ID, &c.CallLegID, &c.CompanyID, &c.PhoneNumberID, &c.RuleID, &c.From, &c.To,
			&status, &outcome, &c.Plan, &c.AgentID, &c.ForwardedTo, &c.HangupCause,
			&c.RingAttempts, &c.QueueWaitSeconds, &c.IVRPath,
			&c.StartedAt, &c.AnsweredAt, &c.EndedAt, &c.DurationSeconds, &c.RecordingURL,
		); err != nil {
			return nil, fmt.Errorf("calls: scan call log: %w", err)
		}
		c.Status, c.Outcome = CallStatus(status), Outcome(outcome)
		out = append(out, c)
	}
	return out, rows.Err()
}
