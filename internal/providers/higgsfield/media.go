package higgsfield

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
)

// styledDimensions maps resolution and aspect ratio to pixel dimensions for
// styled-image jobs.
var styledDimensions = map[string]map[string][2]int{
	"720p": {
		"1:1":  {1152, 1152},
		"3:4":  {1152, 1536},
		"4:3":  {1536, 1152},
		"2:3":  {1024, 1536},
		"3:2":  {1536, 1024},
		"9:16": {864, 1536},
		"16:9": {1536, 864},
	},
	"1080p": {
		"1:1":  {1536, 1536},
		"3:4":  {1536, 2048},
		"4:3":  {2048, 1536},
		"2:3":  {1365, 2048},
		"3:2":  {2048, 1365},
		"9:16": {1152, 2048},
		"16:9": {2048, 1152},
	},
}

// motionPresets maps motion names to provider preset ids for video jobs.
var motionPresets = map[string]string{
	"GENERAL":            "d2389a9a-91c2-4276-bc9c-c9e35e8fb85a",
	"DISINTEGRATION":     "4e981984-1cdc-4b96-a2b1-1a7c1ecb822d",
	"EARTH_ZOOM_OUT":     "70e490b9-26b7-4572-8d9c-2ac8dcc9adc0",
	"EYES_IN":            "0ab33462-481e-4c78-8ffc-086bebd84187",
	"FACE_PUNCH":         "cd5bfd11-5a1a-46e0-9294-b22b0b733b1e",
	"ARC_RIGHT":          "0bdbf318-f918-4f9b-829a-74cab681d806",
	"HANDHELD":           "36e6e450-52d9-484f-bfbe-f069e06a1530",
	"BUILDING_EXPLOSION": "e974bca9-c9eb-4cc8-9318-5676cc110f17",
	"STATIC":             "aab8440c-0d65-4554-b88a-7a9a5e084b6e",
	"TURNING_METAL":      "46e23a6b-1047-40f1-9cf5-33f5f55ddf2e",
	"3D_ROTATION":        "6f06f47e-922e-4660-9fe9-754e4be69696",
	"SNORRICAM":          "893cb65f-c528-40aa-83d8-c5aeb2bfe59f",
}

// frameMapping converts duration in seconds to provider frame counts.
var frameMapping = map[string]int{
	"3": 49,
	"5": 81,
}

type uploadedMedia struct {
	ID     string
	URL    string
	Width  int
	Height int
}

type uploadSlotResponse struct {
	UploadURL   string `json:"upload_url"`
	ID          string `json:"id"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// uploadMedia pushes input media to provider storage: request an upload slot,
// PUT the bytes, then confirm. A failed confirmation is logged and tolerated
// since the bytes are already stored.
func (c *Client) uploadMedia(ctx context.Context, key, token string) (*uploadedMedia, error) {
	if c.files == nil {
		return nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Detail: "no file source configured"}
	}
	data, err := c.files.Read(ctx, key)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Detail: fmt.Sprintf("read input media %q: %v", key, err)}
	}

	var slot uploadSlotResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/media", token, nil, &slot); err != nil {
		return nil, err
	}
	if slot.UploadURL == "" || slot.ID == "" {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Detail: "upload slot response incomplete"}
	}

	if err := c.putBytes(ctx, slot.UploadURL, slot.ContentType, data); err != nil {
		return nil, err
	}

	confirmURL := fmt.Sprintf("%s/media/%s/upload", c.baseURL, slot.ID)
	if err := c.doJSON(ctx, http.MethodPost, confirmURL, token, nil, nil); err != nil {
		c.logger.Warn().Err(err).Str("media_id", slot.ID).Msg("higgsfield: upload confirmation failed")
	}

	width, height := 0, 0
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		width, height = cfg.Width, cfg.Height
	}
	return &uploadedMedia{ID: slot.ID, URL: slot.URL, Width: width, Height: height}, nil
}

func (c *Client) putBytes(ctx context.Context, url, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("higgsfield: build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("higgsfield: upload media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}
	return nil
}
