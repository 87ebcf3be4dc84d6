package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"genproxy/internal/domain"
)

// ClientRepositoryPG implements domain.ClientRepository.
type ClientRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewClientRepository creates a new client repository backed by PostgreSQL.
func NewClientRepository(pool *pgxpool.Pool) *ClientRepositoryPG {
	return &ClientRepositoryPG{pool: pool}
}

// Create inserts a new API client record.
func (r *ClientRepositoryPG) Create(ctx context.Context, client *domain.Client) error {
	query := `
INSERT INTO clients (id, username, token, webhook_url, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, NOW());
`
	_, err := r.pool.Exec(ctx, query,
		client.ID,
		client.Username,
		client.Token,
		client.WebhookURL,
		client.IsActive,
	)
	return err
}

// GetByID fetches a client by its identifier.
func (r *ClientRepositoryPG) GetByID(ctx context.Context, clientID string) (*domain.Client, error) {
	query := clientSelect + `
WHERE id = $1;
`
	return r.getOne(ctx, query, clientID)
}

// GetByToken fetches a client by its API token. Only active clients match.
func (r *ClientRepositoryPG) GetByToken(ctx context.Context, token string) (*domain.Client, error) {
	query := clientSelect + `
WHERE token = $1 AND is_active = TRUE;
`
	return r.getOne(ctx, query, token)
}

// List returns all client records.
func (r *ClientRepositoryPG) List(ctx context.Context) ([]*domain.Client, error) {
	query := clientSelect + `
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*domain.Client
	for rows.Next() {
		var client domain.Client
		if err := rows.Scan(
			&client.ID,
			&client.Username,
			&client.Token,
			&client.WebhookURL,
			&client.IsActive,
			&client.CreatedAt,
		); err != nil {
			return nil, err
		}
		clients = append(clients, &client)
	}
	return clients, rows.Err()
}

func (r *ClientRepositoryPG) getOne(ctx context.Context, query string, arg any) (*domain.Client, error) {
	row := r.pool.QueryRow(ctx, query, arg)
	var client domain.Client
	if err := row.Scan(
		&client.ID,
		&client.Username,
		&client.Token,
		&client.WebhookURL,
		&client.IsActive,
		&client.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &client, nil
}

const clientSelect = `
SELECT id, username, token, webhook_url, is_active, created_at
FROM clients`
