package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/audit"
)

// AuditRepository implements audit.Repository.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Create(ctx context.Context, log *audit.AuditLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs
		(audit_id, deal_id, event_type, entity_type, entity_id, actor, actor_roles, old_state, new_state, metadata, reason, risk_level, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, log.AuditID, log.DealID, log.EventType, log.EntityType, log.EntityID, log.Actor, log.ActorRoles, log.OldState, log.NewState, log.Metadata, log.Reason, log.RiskLevel, log.Signature, log.CreatedAt)
	return err
}

func (r *AuditRepository) GetByID(ctx context.Context, auditID uuid.UUID) (*audit.AuditLog, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, audit_id, deal_id, event_type, entity_type, entity_id, actor, actor_roles, old_state, new_state, metadata, reason, risk_level, signature, created_at
		FROM audit_logs WHERE audit_id=$1
	`, auditID)
	return scanAudit(row)
}

func (r *AuditRepository) Query(ctx context.Context, filter audit.QueryFilter, cursor *audit.Cursor, limit int) ([]*audit.AuditLog, *audit.Cursor, error) {
	query := `SELECT id, audit_id, deal_id, event_type, entity_type, entity_id, actor, actor_roles, old_state, new_state, metadata, reason, risk_level, signature, created_at FROM audit_logs`
	args, idx := buildAuditWhere(&query, filter)
	if cursor != nil {
		query += addWhere(query) + " (created_at, id) < ($" + itoa(idx) + ", $" + itoa(idx+1) + ")"
		args = append(args, cursor.CreatedAt, cursor.ID)
		idx += 2
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + itoa(idx)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var logs []*audit.AuditLog
	for rows.Next() {
		log, err := scanAudit(rows)
		if err != nil {
			return nil, nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *audit.Cursor
	if len(logs) == limit {
		last := logs[len(logs)-1]
		nextCursor = &audit.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return logs, nextCursor, nil
}

func (r *AuditRepository) GetByEntity(ctx context.Context, entityType audit.EntityType, entityID string) ([]*audit.AuditLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, audit_id, deal_id, event_type, entity_type, entity_id, actor, actor_roles, old_state, new_state, metadata, reason, risk_level, signature, created_at
		FROM audit_logs WHERE entity_type=$1 AND entity_id=$2 ORDER BY created_at DESC
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []*audit.AuditLog
	for rows.Next() {
		log, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (r *AuditRepository) Count(ctx context.Context, filter audit.QueryFilter) (int64, error) {
	query := `SELECT COUNT(1) FROM audit_logs`
	args, _ := buildAuditWhere(&query, filter)
	row := r.pool.QueryRow(ctx, query, args...)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *AuditRepository) VerifySignature(ctx context.Context, auditID uuid.UUID, key []byte) (bool, error) {
	log, err := r.GetByID(ctx, auditID)
	if err != nil {
		return false, err
	}
	if log == nil || len(log.Signature) == 0 {
		return false, nil
	}
	return audit.VerifyAuditLogSignature(log, key)
}

func buildAuditWhere(query *string, filter audit.QueryFilter) ([]interface{}, int) {
	args := []interface{}{}
	idx := 1
	if filter.DealID != nil {
		*query += addWhere(*query) + " deal_id=$" + itoa(idx)
		args = append(args, *filter.DealID)
		idx++
	}
	if filter.EventType != nil {
		*query += addWhere(*query) + " event_type=$" + itoa(idx)
		args = append(args, *filter.EventType)
		idx++
	}
	if filter.EntityType != nil {
		*query += addWhere(*query) + " entity_type=$" + itoa(idx)
		args = append(args, *filter.EntityType)
		idx++
	}
	if filter.EntityID != nil {
		*query += addWhere(*query) + " entity_id=$" + itoa(idx)
		args = append(args, *filter.EntityID)
		idx++
	}
	if filter.Actor != nil {
		*query += addWhere(*query) + " actor=$" + itoa(idx)
		args = append(args, *filter.Actor)
		idx++
	}
	if filter.RiskLevel != nil {
		*query += addWhere(*query) + " risk_level=$" + itoa(idx)
		args = append(args, *filter.RiskLevel)
		idx++
	}
	if filter.StartTime != nil {
		*query += addWhere(*query) + " created_at >= $" + itoa(idx)
		args = append(args, *filter.StartTime)
		idx++
	}
	if filter.EndTime != nil {
		*query += addWhere(*query) + " created_at <= $" + itoa(idx)
		args = append(args, *filter.EndTime)
		idx++
	}
	return args, idx
}

func scanAudit(row pgx.Row) (*audit.AuditLog, error) {
	var log audit.AuditLog
	if err := row.Scan(&log.ID, &log.AuditID, &log.DealID, &log.EventType, &log.EntityType, &log.EntityID, &log.Actor, &log.ActorRoles, &log.OldState, &log.NewState, &log.Metadata, &log.Reason, &log.RiskLevel, &log.Signature, &log.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}
