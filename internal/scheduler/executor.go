package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"genproxy/internal/domain"
	"genproxy/internal/infra"
	"genproxy/internal/providers/higgsfield"
)

// ProviderClient is the scheduler's view of the remote generation provider.
type ProviderClient interface {
	Submit(ctx context.Context, req higgsfield.SubmitRequest, creds json.RawMessage) (string, error)
	PollStatus(ctx context.Context, jobSetID string, creds json.RawMessage) (higgsfield.JobStatus, error)
	Cancel(ctx context.Context, jobSetID string, creds json.RawMessage) error
}

// Notifier receives tasks that reached a terminal completed/failed state and
// owes their client a webhook.
type Notifier interface {
	Enqueue(task *domain.Task)
}

// Executor turns queued tasks into provider jobs using leased accounts.
type Executor struct {
	tasks       domain.TaskRepository
	pool        *AccountPool
	provider    ProviderClient
	notifier    Notifier
	logger      infra.Logger
	maxAttempts int
	now         func() time.Time
}

// NewExecutor wires a job executor. maxAttempts bounds submission retries per
// task; auth failures get double that budget so one bad account cannot burn
// the whole allowance, while a systemic outage still terminates.
func NewExecutor(tasks domain.TaskRepository, pool *AccountPool, provider ProviderClient, notifier Notifier, maxAttempts int, logger infra.Logger) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Executor{
		tasks:       tasks,
		pool:        pool,
		provider:    provider,
		notifier:    notifier,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// TrySubmit attempts one provider submission for a queued task. It returns
// false when no account was available, signalling the caller to stop the
// submission pass for this tick. Exactly one external submission call is made
// per attempt.
func (e *Executor) TrySubmit(ctx context.Context, task *domain.Task) (bool, error) {
	if task.Status != domain.TaskStatusQueued {
		return true, fmt.Errorf("try submit: task %s is %s, want queued", task.ID, task.Status)
	}

	acct, err := e.pool.Lease(ctx)
	if err != nil {
		return true, err
	}
	if acct == nil {
		return false, nil
	}

	now := e.now()
	task.Status = domain.TaskStatusSubmitting
	task.AttemptCount++
	task.AssignedAccountID = acct.ID
	task.UpdatedAt = now
	if err := e.tasks.Update(ctx, task); err != nil {
		return true, fmt.Errorf("persist submitting state: %w", err)
	}

	jobSetID, submitErr := e.provider.Submit(ctx, higgsfield.SubmitRequest{
		Kind:    string(task.Kind),
		Payload: task.Payload,
	}, acct.Credentials)

	if submitErr == nil {
		task.Status = domain.TaskStatusSubmitted
		task.ExternalJobID = jobSetID
		task.SubmittedAt = e.now()
		task.UpdatedAt = task.SubmittedAt
		if err := e.tasks.Update(ctx, task); err != nil {
			return true, fmt.Errorf("persist submitted state: %w", err)
		}
		e.logger.Info().
			Str("task_id", task.ID).
			Str("account_id", acct.ID).
			Str("job_set_id", jobSetID).
			Int("attempt", task.AttemptCount).
			Msg("scheduler: task submitted")
		return true, nil
	}

	return true, e.handleSubmitFailure(ctx, task, acct.ID, submitErr)
}

func (e *Executor) handleSubmitFailure(ctx context.Context, task *domain.Task, accountID string, submitErr error) error {
	kind := higgsfield.Classify(submitErr)

	var outcome Outcome
	switch kind {
	case higgsfield.FailureAuth:
		outcome = OutcomeAuth
	case higgsfield.FailurePermanent:
		// The payload was rejected; the account did nothing wrong.
		outcome = OutcomeSuccess
	default:
		outcome = OutcomeTransient
	}
	if err := e.pool.Release(ctx, accountID, outcome); err != nil {
		return err
	}

	task.AssignedAccountID = ""
	task.ExternalJobID = ""
	task.UpdatedAt = e.now()

	switch {
	case kind == higgsfield.FailurePermanent:
		e.failTask(task, submitErr.Error())
	case kind == higgsfield.FailureAuth && task.AttemptCount < e.maxAttempts*2:
		task.Status = domain.TaskStatusQueued
		e.logger.Warn().
			Str("task_id", task.ID).
			Str("account_id", accountID).
			Msg("scheduler: submission hit invalid session, requeued for another account")
	case kind != higgsfield.FailureAuth && task.AttemptCount < e.maxAttempts:
		task.Status = domain.TaskStatusQueued
		e.logger.Warn().
			Err(submitErr).
			Str("task_id", task.ID).
			Int("attempt", task.AttemptCount).
			Msg("scheduler: submission failed, requeued")
	default:
		e.failTask(task, fmt.Sprintf("submission failed after %d attempts: %v", task.AttemptCount, submitErr))
	}

	if err := e.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("persist failed submission: %w", err)
	}
	if task.Status == domain.TaskStatusFailed {
		e.notifyTerminal(task)
	}
	return nil
}

func (e *Executor) failTask(task *domain.Task, reason string) {
	now := e.now()
	task.Status = domain.TaskStatusFailed
	task.ErrorMessage = reason
	task.FinishedAt = now
	task.UpdatedAt = now
	e.logger.Error().
		Str("task_id", task.ID).
		Str("error", reason).
		Msg("scheduler: task failed")
}

func (e *Executor) notifyTerminal(task *domain.Task) {
	if e.notifier != nil && task.WebhookURL != "" {
		e.notifier.Enqueue(task.Clone())
	}
}
