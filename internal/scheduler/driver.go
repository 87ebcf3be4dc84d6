package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"genproxy/internal/domain"
	"genproxy/internal/infra"
)

// DriverConfig tunes the scheduling cadence.
type DriverConfig struct {
	// TickInterval is the pause between scheduling passes.
	TickInterval time.Duration
	// AccountSyncInterval is how often the pool re-reads the credential
	// source to pick up accounts added or refreshed externally.
	AccountSyncInterval time.Duration
}

// DefaultDriverConfig returns the stock cadence: 3s ticks, accounts re-synced
// every minute.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		TickInterval:        3 * time.Second,
		AccountSyncInterval: time.Minute,
	}
}

// Driver owns the scheduling cadence: each tick reconciles in-flight tasks
// first, then submits queued ones, so accounts freed by completions are
// immediately reusable. The driver mutex is the single-slot execution token:
// ticks never overlap, and external enqueue/cancel writers serialize against
// it through the Service.
type Driver struct {
	mu         sync.Mutex
	tasks      domain.TaskRepository
	pool       *AccountPool
	executor   *Executor
	reconciler *Reconciler
	logger     infra.Logger
	cfg        DriverConfig
}

// NewDriver wires the scheduler's tick loop.
func NewDriver(tasks domain.TaskRepository, pool *AccountPool, executor *Executor, reconciler *Reconciler, cfg DriverConfig, logger infra.Logger) *Driver {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultDriverConfig().TickInterval
	}
	if cfg.AccountSyncInterval <= 0 {
		cfg.AccountSyncInterval = DefaultDriverConfig().AccountSyncInterval
	}
	return &Driver{
		tasks:      tasks,
		pool:       pool,
		executor:   executor,
		reconciler: reconciler,
		logger:     logger,
		cfg:        cfg,
	}
}

// Recover restores scheduler state after a restart: the pool is populated
// from the credential source, accounts referenced by in-flight tasks are
// re-marked leased, and tasks interrupted mid-submission go back to queued.
func (d *Driver) Recover(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.pool.Sync(ctx); err != nil {
		return err
	}

	inflight, err := d.tasks.ListByStatus(ctx, domain.TaskStatusSubmitted, domain.TaskStatusPolling)
	if err != nil {
		return fmt.Errorf("recover in-flight tasks: %w", err)
	}
	for _, task := range inflight {
		if err := d.pool.Restore(ctx, task.AssignedAccountID); err != nil {
			d.logger.Warn().
				Err(err).
				Str("task_id", task.ID).
				Msg("scheduler: could not restore lease, task will resolve via polling")
		}
	}

	interrupted, err := d.tasks.ListByStatus(ctx, domain.TaskStatusSubmitting)
	if err != nil {
		return fmt.Errorf("recover interrupted tasks: %w", err)
	}
	for _, task := range interrupted {
		task.Status = domain.TaskStatusQueued
		task.AssignedAccountID = ""
		task.UpdatedAt = time.Now()
		if err := d.tasks.Update(ctx, task); err != nil {
			return fmt.Errorf("requeue interrupted task %s: %w", task.ID, err)
		}
		d.logger.Info().Str("task_id", task.ID).Msg("scheduler: requeued task interrupted mid-submission")
	}
	if len(inflight) > 0 || len(interrupted) > 0 {
		d.logger.Info().
			Int("in_flight", len(inflight)).
			Int("requeued", len(interrupted)).
			Msg("scheduler: recovery complete")
	}
	return nil
}

// Run drives ticks until the context is canceled or the persistence layer
// fails unrecoverably; ticking into corrupted state is worse than halting.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	lastSync := time.Now()

	d.logger.Info().
		Dur("tick_interval", d.cfg.TickInterval).
		Msg("scheduler: started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Since(lastSync) >= d.cfg.AccountSyncInterval {
			if err := d.pool.Sync(ctx); err != nil {
				d.logger.Error().Err(err).Msg("scheduler: account sync failed")
			} else {
				lastSync = time.Now()
			}
		}

		if err := d.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("scheduling tick: %w", err)
		}
	}
}

// Tick performs one reconcile-then-submit pass under the execution token.
func (d *Driver) Tick(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.reconciler.PollAll(ctx); err != nil {
		return err
	}
	return d.submitQueued(ctx)
}

// submitQueued walks queued tasks oldest first and hands them to the
// executor, stopping as soon as the pool runs out of eligible accounts.
func (d *Driver) submitQueued(ctx context.Context) error {
	queued, err := d.tasks.ListByStatus(ctx, domain.TaskStatusQueued)
	if err != nil {
		return fmt.Errorf("list queued tasks: %w", err)
	}
	for _, task := range queued {
		leased, err := d.executor.TrySubmit(ctx, task)
		if err != nil {
			return err
		}
		if !leased {
			return nil
		}
	}
	return nil
}

// lock exposes the execution token to the Service so external writes
// serialize with ticks.
func (d *Driver) lock() *sync.Mutex {
	return &d.mu
}
