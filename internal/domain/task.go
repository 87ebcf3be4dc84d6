package domain

import (
	"encoding/json"
	"time"
)

// TaskKind enumerates supported generation task categories.
type TaskKind string

const (
	TaskKindTextToImage  TaskKind = "text_to_image"
	TaskKindStyledImage  TaskKind = "styled_image"
	TaskKindImageToVideo TaskKind = "image_to_video"
)

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusSubmitting TaskStatus = "submitting"
	TaskStatusSubmitted  TaskStatus = "submitted"
	TaskStatusPolling    TaskStatus = "polling"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCanceled   TaskStatus = "canceled"
)

// Terminal reports whether a status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}

// InFlight reports whether the task holds an external job reference and a
// leased account.
func (s TaskStatus) InFlight() bool {
	return s == TaskStatusSubmitted || s == TaskStatusPolling
}

// Task encapsulates the lifecycle of one client-requested generation unit,
// tracked from enqueue through provider submission to a terminal state.
type Task struct {
	ID                string
	ClientID          string
	Kind              TaskKind
	Payload           json.RawMessage
	Status            TaskStatus
	ExternalJobID     string
	AssignedAccountID string
	AttemptCount      int
	Result            []string
	ErrorMessage      string
	WebhookURL        string
	Delivered         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SubmittedAt       time.Time
	FinishedAt        time.Time
}

// Clone returns a deep copy so snapshots handed to callers never alias
// scheduler-owned state.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		cp.Result = append([]string(nil), t.Result...)
	}
	return &cp
}
