package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"genproxy/internal/domain"
	"genproxy/internal/http/handlers"
	"genproxy/internal/http/httpapi"
	"genproxy/internal/infra"
	"genproxy/internal/providers/higgsfield"
	"genproxy/internal/scheduler"
	"genproxy/internal/storage"
)

type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func (r *memTaskRepo) Create(ctx context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *memTaskRepo) Update(ctx context.Context, task *domain.Task) error {
	return r.Create(ctx, task)
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

func (r *memTaskRepo) MarkDelivered(ctx context.Context, taskID string) error { return nil }

type memAccountRepo struct{}

func (memAccountRepo) Create(ctx context.Context, account *domain.Account) error { return nil }
func (memAccountRepo) List(ctx context.Context) ([]*domain.Account, error)       { return nil, nil }
func (memAccountRepo) GetByID(ctx context.Context, accountID string) (*domain.Account, error) {
	return nil, domain.ErrNotFound
}
func (memAccountRepo) UpdateState(ctx context.Context, account *domain.Account) error { return nil }
func (memAccountRepo) SetActive(ctx context.Context, accountID string, active bool) error {
	return domain.ErrNotFound
}

type memClientRepo struct {
	clients map[string]*domain.Client
}

func (r *memClientRepo) Create(ctx context.Context, client *domain.Client) error { return nil }

func (r *memClientRepo) GetByID(ctx context.Context, clientID string) (*domain.Client, error) {
	for _, c := range r.clients {
		if c.ID == clientID {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memClientRepo) GetByToken(ctx context.Context, token string) (*domain.Client, error) {
	if c, ok := r.clients[token]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memClientRepo) List(ctx context.Context) ([]*domain.Client, error) { return nil, nil }

type stubProvider struct{}

func (stubProvider) Submit(ctx context.Context, req higgsfield.SubmitRequest, creds json.RawMessage) (string, error) {
	return "job-set-1", nil
}

func (stubProvider) PollStatus(ctx context.Context, jobSetID string, creds json.RawMessage) (higgsfield.JobStatus, error) {
	return higgsfield.JobStatus{State: higgsfield.JobStateProcessing}, nil
}

func (stubProvider) Cancel(ctx context.Context, jobSetID string, creds json.RawMessage) error {
	return nil
}

type testEnv struct {
	server *httptest.Server
	tasks  *memTaskRepo
	files  *storage.FileStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	tasks := &memTaskRepo{tasks: make(map[string]*domain.Task)}
	clients := &memClientRepo{clients: map[string]*domain.Client{
		"token-1": {ID: "client-1", Username: "alpha", Token: "token-1", IsActive: true},
		"token-2": {ID: "client-2", Username: "beta", Token: "token-2", IsActive: true},
	}}

	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	provider := stubProvider{}
	pool := scheduler.NewAccountPool(memAccountRepo{}, scheduler.DefaultPoolConfig(), logger)
	exec := scheduler.NewExecutor(tasks, pool, provider, nil, 3, logger)
	rec := scheduler.NewReconciler(tasks, pool, provider, nil, scheduler.DefaultReconcilerConfig(), 3, logger)
	driver := scheduler.NewDriver(tasks, pool, exec, rec, scheduler.DefaultDriverConfig(), logger)
	service := scheduler.NewService(driver, tasks, pool, provider, logger)

	app := handlers.NewApp(service, clients, files, logger)
	cfg := &infra.Config{RateLimitPerMin: 1000}
	srv := httptest.NewServer(httpapi.NewRouter(app, cfg, logger))
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, tasks: tasks, files: files}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestTextToImageEnqueues(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/higgsfield/text2image", "token-1", map[string]any{
		"prompt": "a lighthouse at dusk",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if body["status"] != "queued" {
		t.Fatalf("status field = %v, want queued", body["status"])
	}
	id, _ := body["request_id"].(string)
	if id == "" {
		t.Fatal("request_id missing")
	}
	if body["status_url"] != "/api/task/"+id+"/status" {
		t.Fatalf("status_url = %v", body["status_url"])
	}

	stored, err := env.tasks.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
	if stored.ClientID != "client-1" {
		t.Fatalf("ClientID = %q, want client-1", stored.ClientID)
	}
	if stored.Kind != domain.TaskKindTextToImage {
		t.Fatalf("Kind = %q", stored.Kind)
	}

	// Defaults applied by normalization are persisted in the payload.
	var payload map[string]any
	_ = json.Unmarshal(stored.Payload, &payload)
	if payload["model"] != "nano-banana-2" {
		t.Fatalf("model default = %v", payload["model"])
	}
}

func TestTextToImageRejectsMissingPrompt(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/higgsfield/text2image", "token-1", map[string]any{
		"aspect_ratio": "1:1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "bad_request" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestEnqueueRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/higgsfield/text2image", "", map[string]any{
		"prompt": "x",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/higgsfield/text2image", "bogus", map[string]any{
		"prompt": "x",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d, want 401", resp.StatusCode)
	}
}

func TestImageToVideoRequiresUploadedImage(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/higgsfield/image2video", "token-1", map[string]any{
		"prompt":    "pan across the bay",
		"image_key": "uploads/client-1/missing.png",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "image_key") {
		t.Fatalf("message = %v", body["message"])
	}
}

func TestMediaUploadThenImageToVideo(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "input.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write([]byte("png-bytes"))
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/media", &buf)
	req.Header.Set("Authorization", "Bearer token-1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	var uploaded struct {
		ImageKey string `json:"image_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if uploaded.ImageKey == "" {
		t.Fatal("image_key missing")
	}

	enqResp, enqBody := env.do(t, http.MethodPost, "/api/higgsfield/image2video", "token-1", map[string]any{
		"prompt":    "pan across the bay",
		"image_key": uploaded.ImageKey,
	})
	if enqResp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, want 202: %v", enqResp.StatusCode, enqBody)
	}
}

func TestTaskStatusScopedToOwningClient(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodPost, "/api/higgsfield/text2image", "token-1", map[string]any{
		"prompt": "a lighthouse at dusk",
	})
	id := body["request_id"].(string)

	resp, got := env.do(t, http.MethodGet, "/api/task/"+id+"/status", "token-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got["request_id"] != id {
		t.Fatalf("request_id = %v, want %s", got["request_id"], id)
	}

	// Another client cannot see the task at all.
	resp, _ = env.do(t, http.MethodGet, "/api/task/"+id+"/status", "token-2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-client status = %d, want 404", resp.StatusCode)
	}
}

func TestTaskCancel(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodPost, "/api/higgsfield/soul", "token-1", map[string]any{
		"prompt": "portrait in rain",
	})
	id := body["request_id"].(string)

	resp, got := env.do(t, http.MethodPost, "/api/task/"+id+"/cancel", "token-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got["status"] != "canceled" {
		t.Fatalf("status field = %v, want canceled", got["status"])
	}

	// Repeating the cancel returns the same terminal snapshot.
	resp, got = env.do(t, http.MethodPost, "/api/task/"+id+"/cancel", "token-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat status = %d, want 200", resp.StatusCode)
	}
	if got["status"] != "canceled" {
		t.Fatalf("repeat status field = %v, want canceled", got["status"])
	}
}

func TestUnknownTaskStatus(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/task/does-not-exist/status", "token-1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}
