package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/milestone"
)

// MilestoneRepository implements milestone.Repository.
type MilestoneRepository struct {
	pool *pgxpool.Pool
}

func NewMilestoneRepository(pool *pgxpool.Pool) *MilestoneRepository {
	return &MilestoneRepository{pool: pool}
}

func (r *MilestoneRepository) Create(ctx context.Context, m *milestone.Milestone) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO milestones
		(milestone_id, contract_id, deal_id, seq, title, description, amount, currency, status, details, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, m.MilestoneID, m.ContractID, m.DealID, m.Order, m.Title, m.Description, m.Amount, m.Currency, m.Status, m.Details, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *MilestoneRepository) GetByID(ctx context.Context, milestoneID uuid.UUID) (*milestone.Milestone, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, milestone_id, contract_id, deal_id, seq, title, description, amount, currency, status, details, created_at, updated_at
		FROM milestones WHERE milestone_id=$1
	`, milestoneID)
	return scanMilestone(row)
}

func (r *MilestoneRepository) ListByContract(ctx context.Context, contractID uuid.UUID) ([]*milestone.Milestone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, milestone_id, contract_id, deal_id, seq, title, description, amount, currency, status, details, created_at, updated_at
		FROM milestones WHERE contract_id=$1 ORDER BY seq ASC
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var milestones []*milestone.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

func (r *MilestoneRepository) UpdateStatus(ctx context.Context, milestoneID uuid.UUID, status milestone.Status) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE milestones SET status=$1, updated_at=NOW() WHERE milestone_id=$2
	`, status, milestoneID)
	return err
}

func (r *MilestoneRepository) CountByContract(ctx context.Context, contractID uuid.UUID) (int, error) {
	row := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM milestones WHERE contract_id=$1`, contractID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *MilestoneRepository) CountNotApproved(ctx context.Context, contractID uuid.UUID) (int, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status <> 'APPROVED')
		FROM milestones WHERE contract_id=$1
	`, contractID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *MilestoneRepository) UpsertResponse(ctx context.Context, resp *milestone.PartyResponse) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO milestone_responses
		(response_id, milestone_id, party_id, response_type, proposal, comment, submitted_by, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (milestone_id, party_id) DO UPDATE
		SET response_id=EXCLUDED.response_id,
			response_type=EXCLUDED.response_type,
			proposal=EXCLUDED.proposal,
			comment=EXCLUDED.comment,
			submitted_by=EXCLUDED.submitted_by,
			submitted_at=EXCLUDED.submitted_at
	`, resp.ResponseID, resp.MilestoneID, resp.PartyID, resp.Type, resp.Proposal, resp.Comment, resp.SubmittedBy, resp.SubmittedAt)
	return err
}

func (r *MilestoneRepository) ListResponses(ctx context.Context, milestoneID uuid.UUID) ([]*milestone.PartyResponse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, response_id, milestone_id, party_id, response_type, proposal, comment, submitted_by, submitted_at
		FROM milestone_responses WHERE milestone_id=$1 ORDER BY submitted_at ASC
	`, milestoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var responses []*milestone.PartyResponse
	for rows.Next() {
		var resp milestone.PartyResponse
		var proposal json.RawMessage
		if err := rows.Scan(&resp.ID, &resp.ResponseID, &resp.MilestoneID, &resp.PartyID, &resp.Type, &proposal, &resp.Comment, &resp.SubmittedBy, &resp.SubmittedAt); err != nil {
			return nil, err
		}
		resp.Proposal = proposal
		responses = append(responses, &resp)
	}
	return responses, rows.Err()
}

func scanMilestone(row pgx.Row) (*milestone.Milestone, error) {
	var m milestone.Milestone
	var description *string
	var details json.RawMessage
	if err := row.Scan(&m.ID, &m.MilestoneID, &m.ContractID, &m.DealID, &m.Order, &m.Title, &description, &m.Amount, &m.Currency, &m.Status, &details, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if description != nil {
		m.Description = *description
	}
	m.Details = details
	return &m, nil
}
