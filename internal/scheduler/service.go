package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"genproxy/internal/domain"
	"genproxy/internal/infra"
)

// Service is the surface the transport layer consumes: synchronous reads and
// writes against the task store, serialized with scheduling ticks through the
// driver's execution token.
type Service struct {
	driver   *Driver
	tasks    domain.TaskRepository
	pool     *AccountPool
	provider ProviderClient
	logger   infra.Logger
	now      func() time.Time
}

// NewService wires the client-facing task operations.
func NewService(driver *Driver, tasks domain.TaskRepository, pool *AccountPool, provider ProviderClient, logger infra.Logger) *Service {
	return &Service{
		driver:   driver,
		tasks:    tasks,
		pool:     pool,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue records a new task in queued state. The payload is assumed
// validated by the transport layer; the webhook URL is the owning client's.
func (s *Service) Enqueue(ctx context.Context, clientID string, kind domain.TaskKind, payload json.RawMessage, webhookURL string) (*domain.Task, error) {
	switch kind {
	case domain.TaskKindTextToImage, domain.TaskKindStyledImage, domain.TaskKindImageToVideo:
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, kind)
	}

	mu := s.driver.lock()
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	task := &domain.Task{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		Kind:       kind,
		Payload:    append(json.RawMessage(nil), payload...),
		Status:     domain.TaskStatusQueued,
		WebhookURL: webhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.logger.Info().
		Str("task_id", task.ID).
		Str("kind", string(kind)).
		Str("client_id", clientID).
		Msg("scheduler: task enqueued")
	return task.Clone(), nil
}

// GetStatus returns a snapshot of the task.
func (s *Service) GetStatus(ctx context.Context, taskID string) (*domain.Task, error) {
	mu := s.driver.lock()
	mu.Lock()
	defer mu.Unlock()

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

// Cancel stops a task. Queued tasks cancel locally; in-flight tasks get a
// best-effort provider cancel and their account released. Cancelling a task
// already in a terminal state is a no-op returning the current snapshot, so
// repeated cancels issue at most one external call.
func (s *Service) Cancel(ctx context.Context, taskID string) (*domain.Task, error) {
	mu := s.driver.lock()
	mu.Lock()
	defer mu.Unlock()

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return task.Clone(), nil
	}

	if task.ExternalJobID != "" {
		if creds, ok := s.pool.Credentials(task.AssignedAccountID); ok {
			if cancelErr := s.provider.Cancel(ctx, task.ExternalJobID, creds); cancelErr != nil {
				s.logger.Warn().
					Err(cancelErr).
					Str("task_id", task.ID).
					Str("job_set_id", task.ExternalJobID).
					Msg("scheduler: remote cancel failed, cancelling locally")
			}
		}
	}
	if task.AssignedAccountID != "" {
		if err := s.pool.Release(ctx, task.AssignedAccountID, OutcomeSuccess); err != nil {
			return nil, err
		}
	}

	now := s.now()
	task.Status = domain.TaskStatusCanceled
	task.AssignedAccountID = ""
	task.ExternalJobID = ""
	task.FinishedAt = now
	task.UpdatedAt = now
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("persist cancel: %w", err)
	}
	s.logger.Info().Str("task_id", task.ID).Msg("scheduler: task canceled")
	return task.Clone(), nil
}
