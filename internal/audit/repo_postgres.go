package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepo appends to audit_events. The table is insert-only.
type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO audit_events (id, company_id, type, actor_user_id, actor_role, ip_address, agent_id, rule_id, call_leg_id, message, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, NULLIF($11, '')::jsonb, $12)`,
		e.ID, e.CompanyID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.AgentID, e.RuleID, e.CallLegID, e.Message, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}
