package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"genproxy/internal/domain"
	"genproxy/internal/domain/jsoncfg"
)

type taskResponse struct {
	RequestID   string     `json:"request_id"`
	Kind        string     `json:"type"`
	Status      string     `json:"status"`
	StatusURL   string     `json:"status_url"`
	CancelURL   string     `json:"cancel_url"`
	Result      []string   `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func newTaskResponse(task *domain.Task) taskResponse {
	resp := taskResponse{
		RequestID: task.ID,
		Kind:      string(task.Kind),
		Status:    string(task.Status),
		StatusURL: fmt.Sprintf("/api/task/%s/status", task.ID),
		CancelURL: fmt.Sprintf("/api/task/%s/cancel", task.ID),
		Result:    task.Result,
		Error:     task.ErrorMessage,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
	if !task.SubmittedAt.IsZero() {
		t := task.SubmittedAt
		resp.SubmittedAt = &t
	}
	if !task.FinishedAt.IsZero() {
		t := task.FinishedAt
		resp.FinishedAt = &t
	}
	return resp
}

type textToImageRequest struct {
	jsoncfg.TextToImagePayload
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (a *App) TextToImage(w http.ResponseWriter, r *http.Request) {
	var req textToImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.enqueue(w, r, domain.TaskKindTextToImage, jsoncfg.MustMarshal(req.TextToImagePayload), req.WebhookURL)
}

type styledImageRequest struct {
	jsoncfg.StyledImagePayload
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (a *App) StyledImage(w http.ResponseWriter, r *http.Request) {
	var req styledImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.enqueue(w, r, domain.TaskKindStyledImage, jsoncfg.MustMarshal(req.StyledImagePayload), req.WebhookURL)
}

type imageToVideoRequest struct {
	jsoncfg.ImageToVideoPayload
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (a *App) ImageToVideo(w http.ResponseWriter, r *http.Request) {
	var req imageToVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if _, err := a.Files.Read(r.Context(), req.ImageKey); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "image_key does not reference an uploaded file")
		return
	}
	a.enqueue(w, r, domain.TaskKindImageToVideo, jsoncfg.MustMarshal(req.ImageToVideoPayload), req.WebhookURL)
}

func (a *App) enqueue(w http.ResponseWriter, r *http.Request, kind domain.TaskKind, payload json.RawMessage, webhookURL string) {
	clientID := a.currentClientID(r)
	if clientID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing client context")
		return
	}
	if webhookURL == "" {
		if client, err := a.Clients.GetByID(r.Context(), clientID); err == nil {
			webhookURL = client.WebhookURL
		}
	}
	task, err := a.Service.Enqueue(r.Context(), clientID, kind, payload, webhookURL)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedKind) || errors.Is(err, domain.ErrInvalidPayload) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Str("kind", string(kind)).Msg("api: enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue task")
		return
	}
	a.json(w, http.StatusAccepted, newTaskResponse(task))
}

func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := a.loadTaskForClient(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, newTaskResponse(task))
}

func (a *App) TaskCancel(w http.ResponseWriter, r *http.Request) {
	task, ok := a.loadTaskForClient(w, r)
	if !ok {
		return
	}
	canceled, err := a.Service.Cancel(r.Context(), task.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("task_id", task.ID).Msg("api: cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel task")
		return
	}
	a.json(w, http.StatusOK, newTaskResponse(canceled))
}

func (a *App) loadTaskForClient(w http.ResponseWriter, r *http.Request) (*domain.Task, bool) {
	clientID := a.currentClientID(r)
	if clientID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing client context")
		return nil, false
	}
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task id required")
		return nil, false
	}
	task, err := a.Service.GetStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "task not found")
			return nil, false
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load task")
		return nil, false
	}
	if task.ClientID != clientID {
		a.error(w, http.StatusNotFound, "not_found", "task not found")
		return nil, false
	}
	return task, true
}
