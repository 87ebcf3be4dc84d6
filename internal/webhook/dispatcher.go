package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"genproxy/internal/domain"
	"genproxy/internal/infra"
	"genproxy/pkg/backoff"
)

// Config tunes delivery retries.
type Config struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	HTTPTimeout time.Duration
}

// DefaultConfig returns the stock delivery policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 10,
		RetryBase:   time.Minute,
		RetryMax:    30 * time.Minute,
		HTTPTimeout: 30 * time.Second,
	}
}

// Dispatcher delivers terminal task results to client webhook URLs. Each
// enqueued task gets its own delivery goroutine with bounded retries; the
// scheduler's only obligation is to enqueue once per terminal transition, and
// the delivered flag on the task row stops re-fires across restarts.
type Dispatcher struct {
	tasks      domain.TaskRepository
	clients    domain.ClientRepository
	httpClient *http.Client
	logger     infra.Logger
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher constructs a webhook dispatcher.
func NewDispatcher(tasks domain.TaskRepository, clients domain.ClientRepository, cfg Config, logger infra.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		tasks:      tasks,
		clients:    clients,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Enqueue schedules delivery for a task that just reached completed or
// failed. Tasks without a webhook URL or already delivered are skipped.
func (d *Dispatcher) Enqueue(task *domain.Task) {
	if task.WebhookURL == "" || task.Delivered {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(task)
	}()
}

// Recover re-enqueues undelivered terminal tasks, e.g. after a restart killed
// in-progress deliveries.
func (d *Dispatcher) Recover(ctx context.Context) error {
	finished, err := d.tasks.ListByStatus(ctx, domain.TaskStatusCompleted, domain.TaskStatusFailed)
	if err != nil {
		return fmt.Errorf("webhook recover: %w", err)
	}
	for _, task := range finished {
		d.Enqueue(task)
	}
	return nil
}

// Close interrupts retry waits and blocks until in-flight deliveries finish.
// An attempt already on the wire runs to completion, bounded by the HTTP
// client timeout, so a delivered webhook is always recorded as delivered.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

type payload struct {
	Code int         `json:"code"`
	Data payloadData `json:"data"`
}

type payloadData struct {
	Status  string   `json:"status"`
	TaskID  string   `json:"task_id"`
	Type    string   `json:"type"`
	Result  []string `json:"result,omitempty"`
	Message string   `json:"message,omitempty"`
}

func buildPayload(task *domain.Task) payload {
	data := payloadData{
		Status: string(task.Status),
		TaskID: task.ID,
		Type:   string(task.Kind),
	}
	code := http.StatusOK
	if task.Status == domain.TaskStatusFailed {
		code = http.StatusBadRequest
		data.Message = task.ErrorMessage
	} else {
		data.Result = task.Result
	}
	return payload{Code: code, Data: data}
}

// Sign computes the hex HMAC-SHA256 of the body with the client token,
// carried in the X-Signature header so receivers can verify origin.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) deliver(task *domain.Task) {
	// The dispatcher context only interrupts the retry wait. The attempt
	// itself runs on a background context so shutdown cannot abort a POST
	// mid-flight or drop the delivered flag after a success.
	ctx := context.Background()

	secret := ""
	if client, err := d.clients.GetByID(ctx, task.ClientID); err == nil {
		secret = client.Token
	} else {
		d.logger.Warn().
			Err(err).
			Str("task_id", task.ID).
			Msg("webhook: client lookup failed, sending unsigned")
	}

	body, err := json.Marshal(buildPayload(task))
	if err != nil {
		d.logger.Error().Err(err).Str("task_id", task.ID).Msg("webhook: encode payload")
		return
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := d.post(task.WebhookURL, secret, body); err != nil {
			d.logger.Warn().
				Err(err).
				Str("task_id", task.ID).
				Int("attempt", attempt).
				Msg("webhook: delivery failed")
			select {
			case <-d.ctx.Done():
				return
			case <-time.After(backoff.ExponentialJitter(d.cfg.RetryBase, d.cfg.RetryMax, attempt)):
			}
			continue
		}
		if err := d.tasks.MarkDelivered(ctx, task.ID); err != nil {
			d.logger.Error().Err(err).Str("task_id", task.ID).Msg("webhook: mark delivered")
		}
		d.logger.Info().
			Str("task_id", task.ID).
			Str("url", task.WebhookURL).
			Int("attempt", attempt).
			Msg("webhook: delivered")
		return
	}
	d.logger.Error().
		Str("task_id", task.ID).
		Str("url", task.WebhookURL).
		Msg("webhook: giving up after final attempt")
}

func (d *Dispatcher) post(url, secret string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Signature", Sign(secret, body))
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
