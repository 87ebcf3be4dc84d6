package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"genproxy/internal/domain"
)

// AccountRepositoryPG implements domain.AccountRepository.
type AccountRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new account repository backed by PostgreSQL.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepositoryPG {
	return &AccountRepositoryPG{pool: pool}
}

// Create inserts a new provider account record.
func (r *AccountRepositoryPG) Create(ctx context.Context, account *domain.Account) error {
	query := `
INSERT INTO accounts (id, label, credentials, state, cooldown_until, last_used_at, consecutive_failures, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW());
`
	_, err := r.pool.Exec(ctx, query,
		account.ID,
		account.Label,
		account.Credentials,
		account.State,
		nullableTime(account.CooldownUntil),
		nullableTime(account.LastUsedAt),
		account.ConsecutiveFailures,
	)
	return err
}

// List returns all account records.
func (r *AccountRepositoryPG) List(ctx context.Context) ([]*domain.Account, error) {
	query := accountSelect + `
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// GetByID fetches an account by its identifier.
func (r *AccountRepositoryPG) GetByID(ctx context.Context, accountID string) (*domain.Account, error) {
	query := accountSelect + `
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, accountID)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return account, nil
}

// UpdateState persists scheduler-owned account bookkeeping.
func (r *AccountRepositoryPG) UpdateState(ctx context.Context, account *domain.Account) error {
	query := `
UPDATE accounts
SET state = $2,
    cooldown_until = $3,
    last_used_at = $4,
    consecutive_failures = $5,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query,
		account.ID,
		account.State,
		nullableTime(account.CooldownUntil),
		nullableTime(account.LastUsedAt),
		account.ConsecutiveFailures,
	)
	return err
}

// SetActive flips an account between active and invalid, resetting failure
// bookkeeping on activation.
func (r *AccountRepositoryPG) SetActive(ctx context.Context, accountID string, active bool) error {
	state := domain.AccountStateInvalid
	if active {
		state = domain.AccountStateActive
	}
	query := `
UPDATE accounts
SET state = $2,
    consecutive_failures = CASE WHEN $3 THEN 0 ELSE consecutive_failures END,
    cooldown_until = NULL,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, accountID, state, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const accountSelect = `
SELECT id, label, credentials, state, cooldown_until, last_used_at, consecutive_failures, created_at, updated_at
FROM accounts`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account       domain.Account
		cooldownUntil *time.Time
		lastUsedAt    *time.Time
	)
	if err := row.Scan(
		&account.ID,
		&account.Label,
		&account.Credentials,
		&account.State,
		&cooldownUntil,
		&lastUsedAt,
		&account.ConsecutiveFailures,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if cooldownUntil != nil {
		account.CooldownUntil = *cooldownUntil
	}
	if lastUsedAt != nil {
		account.LastUsedAt = *lastUsedAt
	}
	return &account, nil
}
