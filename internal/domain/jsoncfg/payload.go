package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TextToImagePayload is the contract for text-to-image submissions.
type TextToImagePayload struct {
	Prompt        string   `json:"prompt"`
	Model         string   `json:"model"`
	AspectRatio   string   `json:"aspect_ratio"`
	GuidanceScale *float64 `json:"guidance_scale,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
}

// StyledImagePayload is the contract for styled ("soul") image submissions.
type StyledImagePayload struct {
	Prompt         string  `json:"prompt"`
	AspectRatio    string  `json:"aspect_ratio"`
	StyleID        string  `json:"style_id,omitempty"`
	StyleStrength  float64 `json:"style_strength"`
	Resolution     string  `json:"resolution"`
	BatchSize      int     `json:"batch_size"`
	EnhancePrompt  bool    `json:"enhance_prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Seed           *int    `json:"seed,omitempty"`
	Steps          int     `json:"steps"`
}

// ImageToVideoPayload is the contract for image-to-video submissions. The
// image is referenced by a storage key produced by the upload endpoint.
type ImageToVideoPayload struct {
	Prompt   string `json:"prompt"`
	ImageKey string `json:"image_key"`
	Motion   string `json:"motion"`
	Model    string `json:"model"`
	Duration string `json:"duration"`
}

var allowedAspectRatios = map[string]struct{}{
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
	"2:3":  {},
	"3:2":  {},
	"16:9": {},
	"9:16": {},
}

const (
	DefaultImageModel  = "nano-banana-2"
	DefaultAspectRatio = "4:3"
	DefaultResolution  = "720p"
	DefaultVideoModel  = "standard"
	DefaultDuration    = "5"
	DefaultSteps       = 50
)

// Normalize applies server defaults to a text-to-image payload.
func (p *TextToImagePayload) Normalize() {
	if p.Model == "" {
		p.Model = DefaultImageModel
	}
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultAspectRatio
	}
}

// Validate checks the payload before it is persisted on a task.
func (p TextToImagePayload) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if _, ok := allowedAspectRatios[p.AspectRatio]; !ok {
		return fmt.Errorf("aspect_ratio %q is not supported", p.AspectRatio)
	}
	return nil
}

// Normalize applies server defaults to a styled-image payload.
func (p *StyledImagePayload) Normalize() {
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultAspectRatio
	}
	if p.Resolution == "" {
		p.Resolution = DefaultResolution
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 1
	}
	if p.StyleStrength <= 0 {
		p.StyleStrength = 1.0
	}
	if p.Steps <= 0 {
		p.Steps = DefaultSteps
	}
}

// Validate checks the payload before it is persisted on a task.
func (p StyledImagePayload) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if _, ok := allowedAspectRatios[p.AspectRatio]; !ok {
		return fmt.Errorf("aspect_ratio %q is not supported", p.AspectRatio)
	}
	if p.Resolution != "720p" && p.Resolution != "1080p" {
		return fmt.Errorf("resolution must be 720p or 1080p")
	}
	if p.BatchSize != 1 && p.BatchSize != 4 {
		return fmt.Errorf("batch_size must be 1 or 4")
	}
	return nil
}

// Normalize applies server defaults to an image-to-video payload.
func (p *ImageToVideoPayload) Normalize() {
	if p.Model == "" {
		p.Model = DefaultVideoModel
	}
	if p.Duration == "" {
		p.Duration = DefaultDuration
	}
	if p.Motion == "" {
		p.Motion = "GENERAL"
	}
}

// Validate checks the payload before it is persisted on a task.
func (p ImageToVideoPayload) Validate() error {
	if strings.TrimSpace(p.ImageKey) == "" {
		return fmt.Errorf("image_key is required")
	}
	if p.Duration != "3" && p.Duration != "5" {
		return fmt.Errorf("duration must be 3 or 5 seconds")
	}
	return nil
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
