package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"genproxy/internal/domain"
)

// TaskRepositoryPG implements domain.TaskRepository.
type TaskRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new task repository backed by PostgreSQL.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepositoryPG {
	return &TaskRepositoryPG{pool: pool}
}

// Create inserts a new task record.
func (r *TaskRepositoryPG) Create(ctx context.Context, task *domain.Task) error {
	query := `
INSERT INTO tasks (id, client_id, kind, payload, status, external_job_id, assigned_account_id, attempt_count, result, error_message, webhook_url, delivered, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW());
`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.ClientID,
		task.Kind,
		task.Payload,
		task.Status,
		nullableString(task.ExternalJobID),
		nullableString(task.AssignedAccountID),
		task.AttemptCount,
		task.Result,
		task.ErrorMessage,
		task.WebhookURL,
		task.Delivered,
	)
	return err
}

// Update persists the full mutable portion of a task record.
func (r *TaskRepositoryPG) Update(ctx context.Context, task *domain.Task) error {
	query := `
UPDATE tasks
SET status = $2,
    external_job_id = $3,
    assigned_account_id = $4,
    attempt_count = $5,
    result = $6,
    error_message = $7,
    delivered = $8,
    submitted_at = $9,
    finished_at = $10,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Status,
		nullableString(task.ExternalJobID),
		nullableString(task.AssignedAccountID),
		task.AttemptCount,
		task.Result,
		task.ErrorMessage,
		task.Delivered,
		nullableTime(task.SubmittedAt),
		nullableTime(task.FinishedAt),
	)
	return err
}

// GetByID fetches a task by its identifier.
func (r *TaskRepositoryPG) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	query := taskSelect + `
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListByStatus returns all tasks in any of the provided statuses, oldest
// first so scheduler passes observe enqueue order.
func (r *TaskRepositoryPG) ListByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := taskSelect + `
WHERE status = ANY($1)
ORDER BY created_at ASC;
`
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	rows, err := r.pool.Query(ctx, query, values)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MarkDelivered records that the task's terminal webhook has been delivered.
func (r *TaskRepositoryPG) MarkDelivered(ctx context.Context, taskID string) error {
	query := `
UPDATE tasks
SET delivered = TRUE,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, taskID)
	return err
}

const taskSelect = `
SELECT id, client_id, kind, payload, status, external_job_id, assigned_account_id, attempt_count, result, error_message, webhook_url, delivered, created_at, updated_at, submitted_at, finished_at
FROM tasks`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		task        domain.Task
		externalID  *string
		accountID   *string
		submittedAt *time.Time
		finishedAt  *time.Time
	)
	if err := row.Scan(
		&task.ID,
		&task.ClientID,
		&task.Kind,
		&task.Payload,
		&task.Status,
		&externalID,
		&accountID,
		&task.AttemptCount,
		&task.Result,
		&task.ErrorMessage,
		&task.WebhookURL,
		&task.Delivered,
		&task.CreatedAt,
		&task.UpdatedAt,
		&submittedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	if externalID != nil {
		task.ExternalJobID = *externalID
	}
	if accountID != nil {
		task.AssignedAccountID = *accountID
	}
	if submittedAt != nil {
		task.SubmittedAt = *submittedAt
	}
	if finishedAt != nil {
		task.FinishedAt = *finishedAt
	}
	return &task, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
