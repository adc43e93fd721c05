package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/account"
)

// AccountRepository implements account.Repository.
type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) Create(ctx context.Context, a *account.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts
		(account_id, username, password_hash, display_name, email, role, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.AccountID, a.Username, a.PasswordHash, a.DisplayName, a.Email, a.Role, a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *AccountRepository) Update(ctx context.Context, a *account.Account) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET username=$1, password_hash=$2, display_name=$3, email=$4, role=$5, status=$6, updated_at=$7
		WHERE account_id=$8
	`, a.Username, a.PasswordHash, a.DisplayName, a.Email, a.Role, a.Status, a.UpdatedAt, a.AccountID)
	return err
}

func (r *AccountRepository) GetByID(ctx context.Context, accountID uuid.UUID) (*account.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, username, password_hash, display_name, email, role, status, created_at, updated_at
		FROM accounts WHERE account_id=$1
	`, accountID)
	return scanAccount(row)
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*account.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, username, password_hash, display_name, email, role, status, created_at, updated_at
		FROM accounts WHERE username=$1
	`, username)
	return scanAccount(row)
}

func (r *AccountRepository) List(ctx context.Context, filter account.Filter, limit, offset int) ([]*account.Account, error) {
	query := `SELECT id, account_id, username, password_hash, display_name, email, role, status, created_at, updated_at FROM accounts`
	args := []interface{}{}
	idx := 1
	if filter.Role != nil {
		query += " WHERE role=$" + itoa(idx)
		args = append(args, *filter.Role)
		idx++
	}
	if filter.Status != nil {
		query += addWhere(query) + " status=$" + itoa(idx)
		args = append(args, *filter.Status)
		idx++
	}
	query += " ORDER BY created_at DESC LIMIT $" + itoa(idx) + " OFFSET $" + itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []*account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	row := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var a account.Account
	var displayName *string
	var email *string
	if err := row.Scan(&a.ID, &a.AccountID, &a.Username, &a.PasswordHash, &displayName, &email, &a.Role, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if displayName != nil {
		a.DisplayName = *displayName
	}
	if email != nil {
		a.Email = *email
	}
	return &a, nil
}
