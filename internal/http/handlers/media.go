package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxUploadBytes = 20 << 20

// MediaUpload accepts a multipart image upload, stores it locally, and
// returns the storage key used by image-to-video requests.
func (a *App) MediaUpload(w http.ResponseWriter, r *http.Request) {
	clientID := a.currentClientID(r)
	if clientID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing client context")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read upload")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty upload")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported file type")
		return
	}

	key := fmt.Sprintf("uploads/%s/%s%s", clientID, uuid.NewString(), ext)
	if _, err := a.Files.Write(r.Context(), key, data); err != nil {
		a.Logger.Error().Err(err).Str("key", key).Msg("api: media upload write failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store upload")
		return
	}

	a.json(w, http.StatusCreated, map[string]any{
		"image_key": key,
		"size":      len(data),
	})
}
