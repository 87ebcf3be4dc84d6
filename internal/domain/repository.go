package domain

import "context"

// TaskRepository defines durable persistence for task entities. Tasks are
// never deleted by the scheduler; retention is an external concern.
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	Update(ctx context.Context, task *Task) error
	GetByID(ctx context.Context, taskID string) (*Task, error)
	ListByStatus(ctx context.Context, statuses ...TaskStatus) ([]*Task, error)
	MarkDelivered(ctx context.Context, taskID string) error
}

// AccountRepository is the credential source: account records are created by
// credential-acquisition tooling and read back by the scheduler, which
// persists only its own bookkeeping (state, cooldown, usage counters).
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	List(ctx context.Context) ([]*Account, error)
	GetByID(ctx context.Context, accountID string) (*Account, error)
	UpdateState(ctx context.Context, account *Account) error
	SetActive(ctx context.Context, accountID string, active bool) error
}

// ClientRepository defines access methods for API clients.
type ClientRepository interface {
	Create(ctx context.Context, client *Client) error
	GetByID(ctx context.Context, clientID string) (*Client, error)
	GetByToken(ctx context.Context, token string) (*Client, error)
	List(ctx context.Context) ([]*Client, error)
}
