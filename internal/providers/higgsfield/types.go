package higgsfield

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Job kinds accepted by Submit. Values match the task kinds stored by the
// scheduler so callers can pass them through unchanged.
const (
	KindTextToImage  = "text_to_image"
	KindStyledImage  = "styled_image"
	KindImageToVideo = "image_to_video"
)

// JobState is the remote job lifecycle as reported by the provider.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// JobStatus is the normalized poll result for one job set.
type JobStatus struct {
	State   JobState
	Results []string
	Detail  string
}

// SubmitRequest carries one task to the provider.
type SubmitRequest struct {
	Kind    string
	Payload json.RawMessage
}

// FailureKind classifies provider-facing errors for retry policy decisions.
type FailureKind int

const (
	// FailureTransient covers rate limits, 5xx responses and network errors.
	FailureTransient FailureKind = iota
	// FailureAuth covers invalid or expired account sessions.
	FailureAuth
	// FailurePermanent covers payload rejections that no retry can fix.
	FailurePermanent
)

// APIError is a provider request failure carrying enough detail for the
// scheduler to classify it.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("higgsfield: status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("higgsfield: status %d", e.StatusCode)
}

// Kind maps the HTTP status to a failure class. Anything unclassified is
// treated as transient so it stays retryable.
func (e *APIError) Kind() FailureKind {
	switch {
	case e.StatusCode == 401 || e.StatusCode == 403:
		return FailureAuth
	case e.StatusCode == 400 || e.StatusCode == 404 || e.StatusCode == 422:
		return FailurePermanent
	}
	return FailureTransient
}

// Classify maps any error from this package to a FailureKind. Network and
// decode errors count as transient.
func Classify(err error) FailureKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return FailureTransient
}
