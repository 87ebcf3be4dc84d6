package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"genproxy/internal/domain"
	"genproxy/internal/infra"
	"genproxy/internal/providers/higgsfield"
)

// ReconcilerConfig tunes the in-flight polling pass.
type ReconcilerConfig struct {
	// PollConcurrency bounds parallel provider status calls per tick.
	PollConcurrency int
	// TaskTimeout is the wall-clock ceiling from submission to a terminal
	// provider state; beyond it a task is force-failed.
	TaskTimeout time.Duration
}

// DefaultReconcilerConfig returns the stock polling policy.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		PollConcurrency: 4,
		TaskTimeout:     30 * time.Minute,
	}
}

// Reconciler converges local task state with remote job state: it polls every
// in-flight job, applies terminal provider states, releases accounts, and
// hands finished tasks to webhook delivery.
type Reconciler struct {
	tasks       domain.TaskRepository
	pool        *AccountPool
	provider    ProviderClient
	notifier    Notifier
	logger      infra.Logger
	cfg         ReconcilerConfig
	maxAttempts int
	now         func() time.Time
}

// NewReconciler wires a reconciliation loop sharing the executor's retry
// budget for provider-side job failures.
func NewReconciler(tasks domain.TaskRepository, pool *AccountPool, provider ProviderClient, notifier Notifier, cfg ReconcilerConfig, maxAttempts int, logger infra.Logger) *Reconciler {
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = DefaultReconcilerConfig().PollConcurrency
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultReconcilerConfig().TaskTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Reconciler{
		tasks:       tasks,
		pool:        pool,
		provider:    provider,
		notifier:    notifier,
		logger:      logger,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

type pollResult struct {
	task   *domain.Task
	status higgsfield.JobStatus
	err    error
}

// PollAll polls every in-flight task concurrently, then applies all state
// transitions serially so store and pool writes stay ordered within the tick.
func (r *Reconciler) PollAll(ctx context.Context) error {
	inflight, err := r.tasks.ListByStatus(ctx, domain.TaskStatusSubmitted, domain.TaskStatusPolling)
	if err != nil {
		return fmt.Errorf("list in-flight tasks: %w", err)
	}
	if len(inflight) == 0 {
		return nil
	}

	results := make([]pollResult, len(inflight))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.PollConcurrency)
	for i, task := range inflight {
		g.Go(func() error {
			creds, ok := r.pool.Credentials(task.AssignedAccountID)
			if !ok {
				results[i] = pollResult{task: task, err: fmt.Errorf("account %s not in pool", task.AssignedAccountID)}
				return nil
			}
			status, pollErr := r.provider.PollStatus(gctx, task.ExternalJobID, creds)
			results[i] = pollResult{task: task, status: status, err: pollErr}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		if err := r.apply(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, res pollResult) error {
	task := res.task

	// A cancel may have landed before this tick; a late provider result for a
	// terminal task is discarded, never resurrected.
	if task.Status.Terminal() {
		r.logger.Info().
			Str("task_id", task.ID).
			Str("status", string(task.Status)).
			Msg("scheduler: discarding provider update for terminal task")
		return nil
	}

	if res.err != nil {
		return r.applyPollError(ctx, task, res.err)
	}

	switch res.status.State {
	case higgsfield.JobStateQueued, higgsfield.JobStateProcessing:
		return r.applyInFlight(ctx, task)
	case higgsfield.JobStateCompleted:
		return r.applyCompleted(ctx, task, res.status.Results)
	case higgsfield.JobStateFailed:
		return r.applyProviderFailure(ctx, task, res.status.Detail)
	}
	return nil
}

func (r *Reconciler) applyInFlight(ctx context.Context, task *domain.Task) error {
	if r.timedOut(task) {
		return r.forceTimeout(ctx, task)
	}
	if task.Status == domain.TaskStatusPolling {
		return nil
	}
	task.Status = domain.TaskStatusPolling
	task.UpdatedAt = r.now()
	if err := r.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("persist polling state: %w", err)
	}
	return nil
}

func (r *Reconciler) applyCompleted(ctx context.Context, task *domain.Task, results []string) error {
	if err := r.pool.Release(ctx, task.AssignedAccountID, OutcomeSuccess); err != nil {
		return err
	}
	now := r.now()
	task.Status = domain.TaskStatusCompleted
	task.Result = results
	task.AssignedAccountID = ""
	task.ExternalJobID = ""
	task.FinishedAt = now
	task.UpdatedAt = now
	if err := r.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("persist completed state: %w", err)
	}
	r.logger.Info().
		Str("task_id", task.ID).
		Int("results", len(results)).
		Msg("scheduler: task completed")
	r.notifyTerminal(task)
	return nil
}

// applyProviderFailure treats a provider-side job failure like a transient
// submission failure: release the account, then either requeue for a fresh
// submission or give up once the attempt budget is spent.
func (r *Reconciler) applyProviderFailure(ctx context.Context, task *domain.Task, detail string) error {
	if err := r.pool.Release(ctx, task.AssignedAccountID, OutcomeTransient); err != nil {
		return err
	}
	now := r.now()
	task.AssignedAccountID = ""
	task.ExternalJobID = ""
	task.UpdatedAt = now

	if task.AttemptCount < r.maxAttempts {
		task.Status = domain.TaskStatusQueued
		r.logger.Warn().
			Str("task_id", task.ID).
			Str("detail", detail).
			Int("attempt", task.AttemptCount).
			Msg("scheduler: provider job failed, task requeued")
	} else {
		task.Status = domain.TaskStatusFailed
		task.ErrorMessage = fmt.Sprintf("provider job failed after %d attempts: %s", task.AttemptCount, detail)
		task.FinishedAt = now
		r.logger.Error().
			Str("task_id", task.ID).
			Str("detail", detail).
			Msg("scheduler: task failed")
	}
	if err := r.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("persist provider failure: %w", err)
	}
	if task.Status == domain.TaskStatusFailed {
		r.notifyTerminal(task)
	}
	return nil
}

func (r *Reconciler) applyPollError(ctx context.Context, task *domain.Task, pollErr error) error {
	if higgsfield.Classify(pollErr) == higgsfield.FailureAuth {
		if err := r.pool.Release(ctx, task.AssignedAccountID, OutcomeAuth); err != nil {
			return err
		}
		task.AssignedAccountID = ""
		task.ExternalJobID = ""
		task.Status = domain.TaskStatusQueued
		task.UpdatedAt = r.now()
		r.logger.Warn().
			Err(pollErr).
			Str("task_id", task.ID).
			Msg("scheduler: poll hit invalid session, task requeued")
		if err := r.tasks.Update(ctx, task); err != nil {
			return fmt.Errorf("persist poll auth failure: %w", err)
		}
		return nil
	}

	// Transient poll errors leave the task untouched for the next tick, but
	// the timeout clock keeps running.
	if r.timedOut(task) {
		return r.forceTimeout(ctx, task)
	}
	r.logger.Warn().
		Err(pollErr).
		Str("task_id", task.ID).
		Msg("scheduler: poll failed, will retry next tick")
	return nil
}

func (r *Reconciler) timedOut(task *domain.Task) bool {
	return !task.SubmittedAt.IsZero() && r.now().Sub(task.SubmittedAt) > r.cfg.TaskTimeout
}

func (r *Reconciler) forceTimeout(ctx context.Context, task *domain.Task) error {
	if err := r.pool.Release(ctx, task.AssignedAccountID, OutcomeSuccess); err != nil {
		return err
	}
	now := r.now()
	r.logger.Error().
		Str("task_id", task.ID).
		Str("job_set_id", task.ExternalJobID).
		Msg("scheduler: task timed out")
	task.Status = domain.TaskStatusFailed
	task.ErrorMessage = "timeout: no terminal provider state within the allowed window"
	task.AssignedAccountID = ""
	task.ExternalJobID = ""
	task.FinishedAt = now
	task.UpdatedAt = now
	if err := r.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("persist timeout: %w", err)
	}
	r.notifyTerminal(task)
	return nil
}

func (r *Reconciler) notifyTerminal(task *domain.Task) {
	if r.notifier != nil && task.WebhookURL != "" {
		r.notifier.Enqueue(task.Clone())
	}
}
