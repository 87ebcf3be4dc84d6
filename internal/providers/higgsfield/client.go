package higgsfield

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genproxy/internal/domain/jsoncfg"
	"genproxy/internal/infra"
)

// ErrMissingSessionToken indicates account credentials without a usable
// session token.
var ErrMissingSessionToken = errors.New("higgsfield: session token is required")

// FileSource resolves client-uploaded input media by storage key.
type FileSource interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Options configures the provider client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	Files          FileSource
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the generation provider's job API using
// per-account session credentials supplied on every call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	files      FileSource
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://fnf.higgsfield.ai"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		files:      opts.Files,
	}
}

type accountCredentials struct {
	SessionToken string `json:"session_token"`
}

func sessionToken(creds json.RawMessage) (string, error) {
	var parsed accountCredentials
	if err := json.Unmarshal(creds, &parsed); err != nil {
		return "", fmt.Errorf("higgsfield: decode credentials: %w", err)
	}
	token := strings.TrimSpace(parsed.SessionToken)
	if token == "" {
		return "", ErrMissingSessionToken
	}
	return token, nil
}

type jobSetResponse struct {
	JobSets []struct {
		ID string `json:"id"`
	} `json:"job_sets"`
}

// Submit creates one provider job set for the request and returns its id.
// Exactly one remote submission call is made per invocation; kinds requiring
// input media upload it first.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, creds json.RawMessage) (string, error) {
	token, err := sessionToken(creds)
	if err != nil {
		return "", &APIError{StatusCode: http.StatusUnauthorized, Detail: err.Error()}
	}

	endpoint, payload, err := c.buildJob(ctx, req, token)
	if err != nil {
		return "", err
	}

	var decoded jobSetResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint, token, payload, &decoded); err != nil {
		return "", err
	}
	if len(decoded.JobSets) == 0 || decoded.JobSets[0].ID == "" {
		return "", &APIError{StatusCode: http.StatusBadGateway, Detail: "response missing job set id"}
	}
	id := decoded.JobSets[0].ID
	c.logger.Debug().Str("job_set_id", id).Str("kind", req.Kind).Msg("higgsfield: job submitted")
	return id, nil
}

type pollResponse struct {
	Jobs []struct {
		ID     string          `json:"id"`
		Status string          `json:"status"`
		Error  string          `json:"error"`
		Result json.RawMessage `json:"result"`
	} `json:"jobs"`
}

// PollStatus retrieves the job set and normalizes the first job's state.
func (c *Client) PollStatus(ctx context.Context, jobSetID string, creds json.RawMessage) (JobStatus, error) {
	token, err := sessionToken(creds)
	if err != nil {
		return JobStatus{}, &APIError{StatusCode: http.StatusUnauthorized, Detail: err.Error()}
	}

	var decoded pollResponse
	url := fmt.Sprintf("%s/job-sets/%s", c.baseURL, jobSetID)
	if err := c.doJSON(ctx, http.MethodGet, url, token, nil, &decoded); err != nil {
		return JobStatus{}, err
	}
	if len(decoded.Jobs) == 0 {
		return JobStatus{}, &APIError{StatusCode: http.StatusBadGateway, Detail: "response missing jobs"}
	}

	job := decoded.Jobs[0]
	switch job.Status {
	case "queued", "in_progress":
		return JobStatus{State: JobStateQueued}, nil
	case "processing":
		return JobStatus{State: JobStateProcessing}, nil
	case "completed":
		return JobStatus{State: JobStateCompleted, Results: extractResultURLs(job.Result)}, nil
	case "failed", "canceled":
		detail := job.Error
		if detail == "" {
			detail = "job failed without detail"
		}
		return JobStatus{State: JobStateFailed, Detail: detail}, nil
	}
	// Unknown states stay in-flight rather than failing the task.
	return JobStatus{State: JobStateProcessing}, nil
}

// Cancel requests termination of a job set. Best effort: callers log and
// continue when it fails.
func (c *Client) Cancel(ctx context.Context, jobSetID string, creds json.RawMessage) error {
	token, err := sessionToken(creds)
	if err != nil {
		return &APIError{StatusCode: http.StatusUnauthorized, Detail: err.Error()}
	}
	url := fmt.Sprintf("%s/job-sets/%s/cancel", c.baseURL, jobSetID)
	return c.doJSON(ctx, http.MethodPost, url, token, nil, nil)
}

// extractResultURLs pulls every URL out of the provider's loosely shaped
// result object: nested {key: {url: ...}} entries, bare string URLs, a
// top-level url, or a plain list.
func extractResultURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var urls []string
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err == nil {
		for _, value := range asMap {
			var nested struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(value, &nested); err == nil && nested.URL != "" {
				urls = append(urls, nested.URL)
				continue
			}
			var plain string
			if err := json.Unmarshal(value, &plain); err == nil && strings.HasPrefix(plain, "http") {
				urls = append(urls, plain)
			}
		}
		return urls
	}
	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList
	}
	return nil
}

func (c *Client) buildJob(ctx context.Context, req SubmitRequest, token string) (string, any, error) {
	switch req.Kind {
	case KindTextToImage:
		return c.buildTextToImage(req.Payload)
	case KindStyledImage:
		return c.buildStyledImage(req.Payload)
	case KindImageToVideo:
		return c.buildImageToVideo(ctx, req.Payload, token)
	}
	return "", nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Detail: fmt.Sprintf("unsupported kind %q", req.Kind)}
}

func (c *Client) buildTextToImage(raw json.RawMessage) (string, any, error) {
	var p jsoncfg.TextToImagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Detail: fmt.Sprintf("decode payload: %v", err)}
	}
	params := map[string]any{
		"prompt":         p.Prompt,
		"model":          p.Model,
		"aspect_ratio":   p.AspectRatio,
		"enhance_prompt": true,
		"use_unlim":      true,
	}
	if p.GuidanceScale != nil {
		params["guidance_scale"] = *p.GuidanceScale
	}
	params["seed"] = seedOrRandom(p.Seed)
	return c.baseURL + "/jobs/text2image", map[string]any{"params": params, "use_unlim": true}, nil
}

func (c *Client) buildStyledImage(raw json.RawMessage) (string, any, error) {
	var p jsoncfg.StyledImagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Detail: fmt.Sprintf("decode payload: %v", err)}
	}
	dims, ok := styledDimensions[p.Resolution][p.AspectRatio]
	if !ok {
		return "", nil, &APIError{
			StatusCode: http.StatusUnprocessableEntity,
			Detail:     fmt.Sprintf("unsupported aspect ratio %q for resolution %s", p.AspectRatio, p.Resolution),
		}
	}
	params := map[string]any{
		"quality":            p.Resolution,
		"aspect_ratio":       p.AspectRatio,
		"prompt":             p.Prompt,
		"enhance_prompt":     p.EnhancePrompt,
		"style_id":           p.StyleID,
		"style_strength":     p.StyleStrength,
		"seed":               seedOrRandom(p.Seed),
		"width":              dims[0],
		"height":             dims[1],
		"steps":              p.Steps,
		"batch_size":         p.BatchSize,
		"sample_shift":       4.0,
		"sample_guide_scale": 4.0,
		"negative_prompt":    p.NegativePrompt,
		"version":            3,
		"use_unlim":          true,
	}
	return c.baseURL + "/jobs/text2image-soul", map[string]any{"params": params, "use_unlim": true}, nil
}

func (c *Client) buildImageToVideo(ctx context.Context, raw json.RawMessage, token string) (string, any, error) {
	var p jsoncfg.ImageToVideoPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Detail: fmt.Sprintf("decode payload: %v", err)}
	}
	motion, ok := motionPresets[p.Motion]
	if !ok {
		return "", nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Detail: fmt.Sprintf("unknown motion %q", p.Motion)}
	}
	frames, ok := frameMapping[p.Duration]
	if !ok {
		return "", nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Detail: fmt.Sprintf("unsupported duration %q", p.Duration)}
	}

	media, err := c.uploadMedia(ctx, p.ImageKey, token)
	if err != nil {
		return "", nil, err
	}

	params := map[string]any{
		"prompt":         p.Prompt,
		"enhance_prompt": true,
		"model":          p.Model,
		"frames":         frames,
		"input_image": map[string]any{
			"id":   media.ID,
			"url":  media.URL,
			"type": "media_input",
		},
		"motion_id": motion,
		"width":     media.Width,
		"height":    media.Height,
		"seed":      seedOrRandom(nil),
		"steps":     30,
	}
	return c.baseURL + "/jobs/image2video", map[string]any{"params": params}, nil
}

func seedOrRandom(seed *int) int {
	if seed != nil {
		return *seed
	}
	return rand.Intn(1000000) + 1
}

// doJSON performs one request with bearer auth, mapping non-2xx responses to
// APIError with whatever detail the provider returned.
func (c *Client) doJSON(ctx context.Context, method, url, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("higgsfield: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("higgsfield: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("higgsfield: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("higgsfield: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("higgsfield: decode response: %w", err)
	}
	return nil
}

func errorDetail(raw []byte) string {
	var decoded struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if decoded.Detail != "" {
			return decoded.Detail
		}
		if decoded.Message != "" {
			return decoded.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
