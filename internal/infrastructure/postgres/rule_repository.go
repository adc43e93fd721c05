package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
	"github.com/escrow-hub/escrow-hub/internal/domain/rule"
)

// RuleRepository implements rule.Repository.
type RuleRepository struct {
	pool *pgxpool.Pool
}

func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

func (r *RuleRepository) Create(ctx context.Context, rl *rule.Rule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO routing_rules
		(rule_id, kind, condition, target_group, priority, enabled, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rl.RuleID, rl.Kind, rl.Condition, rl.TargetGroup, rl.Priority, rl.Enabled, rl.CreatedBy, rl.CreatedAt)
	return err
}

func (r *RuleRepository) GetByID(ctx context.Context, ruleID uuid.UUID) (*rule.Rule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, rule_id, kind, condition, target_group, priority, enabled, created_by, created_at
		FROM routing_rules WHERE rule_id=$1
	`, ruleID)
	return scanRule(row)
}

func (r *RuleRepository) ListEnabledByKind(ctx context.Context, kind notification.EventKind) ([]*rule.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, rule_id, kind, condition, target_group, priority, enabled, created_by, created_at
		FROM routing_rules WHERE kind=$1 AND enabled=true ORDER BY created_at ASC
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []*rule.Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rl)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) List(ctx context.Context, limit, offset int) ([]*rule.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, rule_id, kind, condition, target_group, priority, enabled, created_by, created_at
		FROM routing_rules ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []*rule.Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rl)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) SetEnabled(ctx context.Context, ruleID uuid.UUID, enabled bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE routing_rules SET enabled=$1 WHERE rule_id=$2`, enabled, ruleID)
	return err
}

func scanRule(row pgx.Row) (*rule.Rule, error) {
	var rl rule.Rule
	var condition *string
	if err := row.Scan(&rl.ID, &rl.RuleID, &rl.Kind, &condition, &rl.TargetGroup, &rl.Priority, &rl.Enabled, &rl.CreatedBy, &rl.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if condition != nil {
		rl.Condition = *condition
	}
	return &rl, nil
}
