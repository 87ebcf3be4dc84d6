package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"genproxy/internal/domain"
	"genproxy/internal/providers/higgsfield"
)

func newTestDriver(t *testing.T, tasks *memTaskRepo, accountRepo *memAccountRepo, provider *fakeProvider, notifier *fakeNotifier) (*Driver, *AccountPool) {
	t.Helper()
	pool := NewAccountPool(accountRepo, DefaultPoolConfig(), testLogger())
	exec := NewExecutor(tasks, pool, provider, notifier, 3, testLogger())
	rec := NewReconciler(tasks, pool, provider, notifier, DefaultReconcilerConfig(), 3, testLogger())
	driver := NewDriver(tasks, pool, exec, rec, DefaultDriverConfig(), testLogger())
	if err := driver.Recover(context.Background()); err != nil {
		t.Fatalf("Recover returned error: %v", err)
	}
	return driver, pool
}

func TestTickSubmitsQueuedTasksOldestFirst(t *testing.T) {
	tasks := newMemTaskRepo()
	accountRepo := newMemAccountRepo(testAccount("acct-1", time.Now().Add(-time.Hour)))
	var submitted []string
	provider := &fakeProvider{
		submitFn: func(req higgsfield.SubmitRequest, creds json.RawMessage) (string, error) {
			submitted = append(submitted, req.Kind)
			return "job-set-1", nil
		},
	}
	driver, _ := newTestDriver(t, tasks, accountRepo, provider, &fakeNotifier{})

	older := queuedTask("task-old")
	older.CreatedAt = time.Now().Add(-time.Minute)
	newer := queuedTask("task-new")
	_ = tasks.Create(context.Background(), older)
	_ = tasks.Create(context.Background(), newer)

	if err := driver.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	// One account, so exactly one submission this tick; the older task wins.
	old, _ := tasks.GetByID(context.Background(), "task-old")
	if old.Status != domain.TaskStatusSubmitted {
		t.Fatalf("older task status = %q, want submitted", old.Status)
	}
	recent, _ := tasks.GetByID(context.Background(), "task-new")
	if recent.Status != domain.TaskStatusQueued {
		t.Fatalf("newer task status = %q, want queued", recent.Status)
	}
	if len(submitted) != 1 {
		t.Fatalf("submit calls = %d, want 1", len(submitted))
	}
}

func TestTickReconcilesBeforeSubmitting(t *testing.T) {
	tasks := newMemTaskRepo()
	accountRepo := newMemAccountRepo(testAccount("acct-1", time.Now().Add(-time.Hour)))
	provider := &fakeProvider{
		pollFn: func(jobSetID string, creds json.RawMessage) (higgsfield.JobStatus, error) {
			return higgsfield.JobStatus{State: higgsfield.JobStateCompleted, Results: []string{"https://cdn.example.com/a.png"}}, nil
		},
	}
	driver, pool := newTestDriver(t, tasks, accountRepo, provider, &fakeNotifier{})

	inflight := submittedTask(t, tasks, pool, "task-inflight")
	inflight.CreatedAt = time.Now().Add(-time.Minute)
	_ = tasks.Update(context.Background(), inflight)

	waiting := queuedTask("task-waiting")
	_ = tasks.Create(context.Background(), waiting)

	if err := driver.Tick(context.Background()); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	// The completion freed the only account within the same tick.
	done, _ := tasks.GetByID(context.Background(), "task-inflight")
	if done.Status != domain.TaskStatusCompleted {
		t.Fatalf("inflight task status = %q, want completed", done.Status)
	}
	next, _ := tasks.GetByID(context.Background(), "task-waiting")
	if next.Status != domain.TaskStatusSubmitted {
		t.Fatalf("waiting task status = %q, want submitted", next.Status)
	}
}

func TestConcurrentTicksDoNotOverlap(t *testing.T) {
	tasks := newMemTaskRepo()
	accountRepo := newMemAccountRepo(testAccount("acct-1", time.Now().Add(-time.Hour)))

	var inPoll, maxInPoll atomic.Int32
	provider := &fakeProvider{
		pollFn: func(jobSetID string, creds json.RawMessage) (higgsfield.JobStatus, error) {
			n := inPoll.Add(1)
			for {
				m := maxInPoll.Load()
				if n <= m || maxInPoll.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inPoll.Add(-1)
			return higgsfield.JobStatus{State: higgsfield.JobStateProcessing}, nil
		},
	}
	driver, pool := newTestDriver(t, tasks, accountRepo, provider, &fakeNotifier{})
	submittedTask(t, tasks, pool, "task-1")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := driver.Tick(context.Background()); err != nil {
				t.Errorf("Tick returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := provider.pollCalls; got != 2 {
		t.Fatalf("poll calls = %d, want 2", got)
	}
	if got := maxInPoll.Load(); got != 1 {
		t.Fatalf("concurrent polls observed = %d, want 1", got)
	}
}

func TestRecoverRequeuesTasksInterruptedMidSubmission(t *testing.T) {
	tasks := newMemTaskRepo()
	accountRepo := newMemAccountRepo(testAccount("acct-1", time.Now().Add(-time.Hour)))

	interrupted := queuedTask("task-1")
	interrupted.Status = domain.TaskStatusSubmitting
	interrupted.AttemptCount = 1
	interrupted.AssignedAccountID = "acct-1"
	_ = tasks.Create(context.Background(), interrupted)

	driver, _ := newTestDriver(t, tasks, accountRepo, &fakeProvider{}, &fakeNotifier{})
	_ = driver

	stored, _ := tasks.GetByID(context.Background(), "task-1")
	if stored.Status != domain.TaskStatusQueued {
		t.Fatalf("status = %q, want queued after recovery", stored.Status)
	}
	if stored.AssignedAccountID != "" {
		t.Fatalf("AssignedAccountID = %q, want empty", stored.AssignedAccountID)
	}
}

func TestRecoverRestoresLeasesForInFlightTasks(t *testing.T) {
	tasks := newMemTaskRepo()
	accountRepo := newMemAccountRepo(testAccount("acct-1", time.Now().Add(-time.Hour)))

	inflight := queuedTask("task-1")
	inflight.Status = domain.TaskStatusPolling
	inflight.AttemptCount = 1
	inflight.ExternalJobID = "job-1"
	inflight.AssignedAccountID = "acct-1"
	inflight.SubmittedAt = time.Now()
	_ = tasks.Create(context.Background(), inflight)

	_, pool := newTestDriver(t, tasks, accountRepo, &fakeProvider{}, &fakeNotifier{})

	if got, err := pool.Lease(context.Background()); err != nil || got != nil {
		t.Fatalf("restored lease was handed out again: acct=%v err=%v", got, err)
	}
}
