package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genproxy/internal/domain"
	"genproxy/internal/providers/higgsfield"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]*domain.Task)}
}

func (r *memTaskRepo) Create(ctx context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *memTaskRepo) Update(ctx context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *memTaskRepo) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return task.Clone(), nil
}

func (r *memTaskRepo) ListByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Task
	for _, task := range r.tasks {
		for _, s := range statuses {
			if task.Status == s {
				out = append(out, task.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memTaskRepo) MarkDelivered(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks[taskID]; ok {
		task.Delivered = true
	}
	return nil
}

type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	order    []string
}

func newMemAccountRepo(accounts ...*domain.Account) *memAccountRepo {
	r := &memAccountRepo{accounts: make(map[string]*domain.Account)}
	for _, a := range accounts {
		r.accounts[a.ID] = a.Clone()
		r.order = append(r.order, a.ID)
	}
	return r
}

func (r *memAccountRepo) Create(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = account.Clone()
	r.order = append(r.order, account.ID)
	return nil
}

func (r *memAccountRepo) List(ctx context.Context) ([]*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Account, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.accounts[id].Clone())
	}
	return out, nil
}

func (r *memAccountRepo) GetByID(ctx context.Context, accountID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return account.Clone(), nil
}

func (r *memAccountRepo) UpdateState(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = account.Clone()
	return nil
}

func (r *memAccountRepo) SetActive(ctx context.Context, accountID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	if active {
		account.State = domain.AccountStateActive
		account.ConsecutiveFailures = 0
	} else {
		account.State = domain.AccountStateInvalid
	}
	return nil
}

func (r *memAccountRepo) remove(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, accountID)
	for i, id := range r.order {
		if id == accountID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

type fakeProvider struct {
	mu          sync.Mutex
	submitFn    func(req higgsfield.SubmitRequest, creds json.RawMessage) (string, error)
	pollFn      func(jobSetID string, creds json.RawMessage) (higgsfield.JobStatus, error)
	cancelFn    func(jobSetID string, creds json.RawMessage) error
	submitCalls int
	pollCalls   int
	cancelCalls int
}

func (f *fakeProvider) Submit(ctx context.Context, req higgsfield.SubmitRequest, creds json.RawMessage) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return "job-set-1", nil
	}
	return fn(req, creds)
}

func (f *fakeProvider) PollStatus(ctx context.Context, jobSetID string, creds json.RawMessage) (higgsfield.JobStatus, error) {
	f.mu.Lock()
	f.pollCalls++
	fn := f.pollFn
	f.mu.Unlock()
	if fn == nil {
		return higgsfield.JobStatus{State: higgsfield.JobStateProcessing}, nil
	}
	return fn(jobSetID, creds)
}

func (f *fakeProvider) Cancel(ctx context.Context, jobSetID string, creds json.RawMessage) error {
	f.mu.Lock()
	f.cancelCalls++
	fn := f.cancelFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(jobSetID, creds)
}

type fakeNotifier struct {
	mu    sync.Mutex
	tasks []*domain.Task
}

func (f *fakeNotifier) Enqueue(task *domain.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
}

func (f *fakeNotifier) delivered() []*domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Task(nil), f.tasks...)
}

func testAccount(id string, lastUsed time.Time) *domain.Account {
	return &domain.Account{
		ID:          id,
		Label:       id,
		Credentials: json.RawMessage(`{"session_token":"tok-` + id + `"}`),
		State:       domain.AccountStateActive,
		LastUsedAt:  lastUsed,
	}
}

func queuedTask(id string) *domain.Task {
	return &domain.Task{
		ID:        id,
		ClientID:  "client-1",
		Kind:      domain.TaskKindTextToImage,
		Payload:   json.RawMessage(`{"prompt":"a lighthouse at dusk"}`),
		Status:    domain.TaskStatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
