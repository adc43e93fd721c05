package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/deal"
)

// DealRepository implements deal.Repository.
type DealRepository struct {
	pool *pgxpool.Pool
}

func NewDealRepository(pool *pgxpool.Pool) *DealRepository {
	return &DealRepository{pool: pool}
}

func (r *DealRepository) Create(ctx context.Context, d *deal.Deal) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deals
		(deal_id, number, title, description, status, all_parties_confirmed, created_by, created_at, updated_at, activated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, d.DealID, d.Number, d.Title, d.Description, d.Status, d.AllPartiesConfirmed, d.CreatedBy, d.CreatedAt, d.UpdatedAt, d.ActivatedAt)
	return err
}

func (r *DealRepository) GetByID(ctx context.Context, dealID uuid.UUID) (*deal.Deal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, deal_id, number, title, description, status, all_parties_confirmed, created_by, created_at, updated_at, activated_at
		FROM deals WHERE deal_id=$1
	`, dealID)
	return scanDeal(row)
}

func (r *DealRepository) GetByNumber(ctx context.Context, number string) (*deal.Deal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, deal_id, number, title, description, status, all_parties_confirmed, created_by, created_at, updated_at, activated_at
		FROM deals WHERE number=$1
	`, number)
	return scanDeal(row)
}

func (r *DealRepository) List(ctx context.Context, filter deal.Filter, limit, offset int) ([]*deal.Deal, error) {
	query := `SELECT id, deal_id, number, title, description, status, all_parties_confirmed, created_by, created_at, updated_at, activated_at FROM deals`
	args := []interface{}{}
	idx := 1
	if filter.Status != nil {
		query += addWhere(query) + " status=$" + itoa(idx)
		args = append(args, *filter.Status)
		idx++
	}
	if filter.CreatedBy != nil {
		query += addWhere(query) + " created_by=$" + itoa(idx)
		args = append(args, *filter.CreatedBy)
		idx++
	}
	query += " ORDER BY created_at DESC LIMIT $" + itoa(idx) + " OFFSET $" + itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deals []*deal.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

func (r *DealRepository) UpdateStatus(ctx context.Context, dealID uuid.UUID, status deal.Status, allPartiesConfirmed bool) error {
	activatedAt := "activated_at"
	if status == deal.StatusAccepted {
		activatedAt = "COALESCE(activated_at, NOW())"
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE deals SET status=$1, all_parties_confirmed=$2, updated_at=NOW(), activated_at=`+activatedAt+`
		WHERE deal_id=$3
	`, status, allPartiesConfirmed, dealID)
	return err
}

func (r *DealRepository) NextSequence(ctx context.Context) (int64, error) {
	row := r.pool.QueryRow(ctx, `SELECT nextval('deal_number_seq')`)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func scanDeal(row pgx.Row) (*deal.Deal, error) {
	var d deal.Deal
	var description *string
	var activatedAt *time.Time
	if err := row.Scan(&d.ID, &d.DealID, &d.Number, &d.Title, &description, &d.Status, &d.AllPartiesConfirmed, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt, &activatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if description != nil {
		d.Description = *description
	}
	d.ActivatedAt = activatedAt
	return &d, nil
}

// PartyRepository implements deal.PartyRepository.
type PartyRepository struct {
	pool *pgxpool.Pool
}

func NewPartyRepository(pool *pgxpool.Pool) *PartyRepository {
	return &PartyRepository{pool: pool}
}

func (r *PartyRepository) Create(ctx context.Context, p *deal.Party) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO parties
		(party_id, deal_id, name, role, contact_email, invitation_status, invitation_token, invited_at, responded_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, p.PartyID, p.DealID, p.Name, p.Role, p.ContactEmail, p.InvitationStatus, p.InvitationToken, p.InvitedAt, p.RespondedAt, p.CreatedAt)
	return err
}

func (r *PartyRepository) GetByID(ctx context.Context, partyID uuid.UUID) (*deal.Party, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, party_id, deal_id, name, role, contact_email, invitation_status, invitation_token, invited_at, responded_at, created_at
		FROM parties WHERE party_id=$1
	`, partyID)
	return scanParty(row)
}

func (r *PartyRepository) GetByToken(ctx context.Context, token string) (*deal.Party, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, party_id, deal_id, name, role, contact_email, invitation_status, invitation_token, invited_at, responded_at, created_at
		FROM parties WHERE invitation_token=$1
	`, token)
	return scanParty(row)
}

func (r *PartyRepository) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*deal.Party, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, party_id, deal_id, name, role, contact_email, invitation_status, invitation_token, invited_at, responded_at, created_at
		FROM parties WHERE deal_id=$1 ORDER BY created_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var parties []*deal.Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

func (r *PartyRepository) UpdateInvitation(ctx context.Context, partyID uuid.UUID, status deal.InvitationStatus, respondedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE parties SET invitation_status=$1, responded_at=$2 WHERE party_id=$3
	`, status, respondedAt, partyID)
	return err
}

func (r *PartyRepository) UpdateToken(ctx context.Context, partyID uuid.UUID, token string, invitedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE parties SET invitation_token=$1, invited_at=$2 WHERE party_id=$3
	`, token, invitedAt, partyID)
	return err
}

func (r *PartyRepository) CountByDeal(ctx context.Context, dealID uuid.UUID) (int, error) {
	row := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM parties WHERE deal_id=$1`, dealID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PartyRepository) CountNotAccepted(ctx context.Context, dealID uuid.UUID) (int, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE invitation_status <> 'ACCEPTED')
		FROM parties WHERE deal_id=$1
	`, dealID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PartyRepository) AddMember(ctx context.Context, m *deal.PartyMember) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO party_members (party_id, account_id, added_by, added_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (party_id, account_id) DO NOTHING
	`, m.PartyID, m.AccountID, m.AddedBy, m.AddedAt)
	return err
}

func (r *PartyRepository) ListMembers(ctx context.Context, partyID uuid.UUID) ([]*deal.PartyMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, party_id, account_id, added_by, added_at
		FROM party_members WHERE party_id=$1 ORDER BY added_at ASC
	`, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []*deal.PartyMember
	for rows.Next() {
		var m deal.PartyMember
		if err := rows.Scan(&m.ID, &m.PartyID, &m.AccountID, &m.AddedBy, &m.AddedAt); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (r *PartyRepository) IsMember(ctx context.Context, partyID, accountID uuid.UUID) (bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM party_members WHERE party_id=$1 AND account_id=$2)
	`, partyID, accountID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func scanParty(row pgx.Row) (*deal.Party, error) {
	var p deal.Party
	var contactEmail *string
	var invitedAt *time.Time
	var respondedAt *time.Time
	if err := row.Scan(&p.ID, &p.PartyID, &p.DealID, &p.Name, &p.Role, &contactEmail, &p.InvitationStatus, &p.InvitationToken, &invitedAt, &respondedAt, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if contactEmail != nil {
		p.ContactEmail = *contactEmail
	}
	p.InvitedAt = invitedAt
	p.RespondedAt = respondedAt
	return &p, nil
}

// ContractRepository implements deal.ContractRepository.
type ContractRepository struct {
	pool *pgxpool.Pool
}

func NewContractRepository(pool *pgxpool.Pool) *ContractRepository {
	return &ContractRepository{pool: pool}
}

func (r *ContractRepository) Create(ctx context.Context, c *deal.Contract) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contracts
		(contract_id, deal_id, version, terms, is_effective, created_by, created_at, effective_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ContractID, c.DealID, c.Version, c.Terms, c.IsEffective, c.CreatedBy, c.CreatedAt, c.EffectiveAt)
	return err
}

func (r *ContractRepository) GetByID(ctx context.Context, contractID uuid.UUID) (*deal.Contract, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, contract_id, deal_id, version, terms, is_effective, created_by, created_at, effective_at
		FROM contracts WHERE contract_id=$1
	`, contractID)
	return scanContract(row)
}

func (r *ContractRepository) GetEffective(ctx context.Context, dealID uuid.UUID) (*deal.Contract, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, contract_id, deal_id, version, terms, is_effective, created_by, created_at, effective_at
		FROM contracts WHERE deal_id=$1 AND is_effective=true
	`, dealID)
	return scanContract(row)
}

func (r *ContractRepository) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]*deal.Contract, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, contract_id, deal_id, version, terms, is_effective, created_by, created_at, effective_at
		FROM contracts WHERE deal_id=$1 ORDER BY version DESC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var contracts []*deal.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

// MarkEffective swaps the effective version in one transaction so at most
// one contract per deal is ever effective.
func (r *ContractRepository) MarkEffective(ctx context.Context, dealID, contractID uuid.UUID, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE contracts SET is_effective=false WHERE deal_id=$1 AND is_effective=true
	`, dealID); err != nil {
		return err
	}
	res, err := tx.Exec(ctx, `
		UPDATE contracts SET is_effective=true, effective_at=$1 WHERE contract_id=$2 AND deal_id=$3
	`, at, contractID, dealID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return deal.ErrContractNotFound
	}
	return tx.Commit(ctx)
}

func (r *ContractRepository) NextVersion(ctx context.Context, dealID uuid.UUID) (int, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM contracts WHERE deal_id=$1
	`, dealID)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func scanContract(row pgx.Row) (*deal.Contract, error) {
	var c deal.Contract
	var effectiveAt *time.Time
	if err := row.Scan(&c.ID, &c.ContractID, &c.DealID, &c.Version, &c.Terms, &c.IsEffective, &c.CreatedBy, &c.CreatedAt, &effectiveAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.EffectiveAt = effectiveAt
	return &c, nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func addWhere(query string) string {
	if strings.Contains(query, " WHERE ") {
		return " AND"
	}
	return " WHERE"
}
